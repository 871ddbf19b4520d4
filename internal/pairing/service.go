// Package pairing implements the device pairing system.
//
// A new device bootstraps trust by presenting a short-lived pairing code:
//  1. The operator runs "nanoclaw pair generate" and reads the code out of band
//  2. The device redeems the code with its chosen name
//  3. The service issues a bearer token for the device; only the token's
//     SHA-256 hash is persisted
//  4. Subsequent connections authenticate with the token; revocation removes
//     the hash and takes effect on the next request
//
// Pairing codes use the alphabet ABCDEFGHJKLMNPQRSTUVWXYZ23456789
// (no ambiguous characters: 0, O, 1, I, L). Codes expire after 5 minutes.
// Repeated failed redemptions trip a time-bounded lockout keyed by the
// caller-supplied origin (remote address); all lockouts expire automatically.
package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	// CodeAlphabet excludes ambiguous characters (0, O, 1, I, L).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// CodeLength is the number of characters in a pairing code.
	CodeLength = 8
	// CodeTTL is how long a pairing code remains valid.
	CodeTTL = 5 * time.Minute

	// globalOrigin is the failure bucket used when no origin is supplied.
	globalOrigin = "-"
)

var (
	// ErrExpired means the pairing code existed but is past its TTL.
	ErrExpired = errors.New("pairing code expired")
	// ErrNotFound means the code is unknown or already consumed.
	ErrNotFound = errors.New("pairing code not found")
	// ErrLockedOut means too many failed attempts from this origin; the
	// denial is temporary and expires on its own.
	ErrLockedOut = errors.New("pairing locked out")
)

// Code is a pending pairing code.
type Code struct {
	Code      string `json:"code"`
	CreatedAt int64  `json:"created_at"` // unix millis
	ExpiresAt int64  `json:"expires_at"` // unix millis
}

// Device is a paired device.
type Device struct {
	Name      string `json:"name"`
	PairedAt  int64  `json:"paired_at"`  // unix millis
	LastSeen  int64  `json:"last_seen"`  // unix millis
	TokenHash string `json:"token_hash"` // hex SHA-256 of the bearer token
}

// lockState tracks failed redemptions for one origin.
type lockState struct {
	attempts    int
	lockedUntil time.Time
}

// persisted is the on-disk layout of the pairing store file.
type persisted struct {
	Pending []Code   `json:"pending"`
	Paired  []Device `json:"paired"`
}

// Service manages pairing codes and paired devices. Safe for concurrent use.
type Service struct {
	storePath   string
	maxAttempts int
	lockout     time.Duration

	mu      sync.Mutex
	codes   map[string]Code
	devices map[string]*Device
	locks   map[string]*lockState

	now func() time.Time
}

// NewService creates a pairing service persisting to storePath
// (e.g. ~/.nanoclaw/data/pairing.json). maxAttempts failed redemptions from
// one origin within the lockout window deny further attempts for lockout.
func NewService(storePath string, maxAttempts int, lockout time.Duration) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if lockout <= 0 {
		lockout = 5 * time.Minute
	}
	s := &Service{
		storePath:   storePath,
		maxAttempts: maxAttempts,
		lockout:     lockout,
		codes:       make(map[string]Code),
		devices:     make(map[string]*Device),
		locks:       make(map[string]*lockState),
		now:         time.Now,
	}
	s.load()
	return s
}

// GenerateCode creates a new pairing code with a 5-minute expiry and returns
// it for out-of-band display. Multiple codes may be outstanding at once.
func (s *Service) GenerateCode() (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneExpired()
	now := s.now()
	s.codes[code] = Code{
		Code:      code,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(CodeTTL).UnixMilli(),
	}
	s.save()

	slog.Info("pairing code generated", "code", code, "expires_in", CodeTTL)
	return code, nil
}

// Redeem consumes a pairing code and pairs the named device, returning the
// device record and its bearer token. The token is shown once and never
// stored in the clear. origin identifies the caller for lockout accounting
// (typically the remote address; empty maps to a shared bucket).
//
// Failures: ErrLockedOut while the origin is locked out, ErrExpired for a
// known-but-stale code, ErrNotFound otherwise. A successful redemption
// deletes the code: codes are single-use.
func (s *Service) Redeem(code, deviceName, origin string) (*Device, string, error) {
	deviceName = NormalizeDeviceName(deviceName)
	if deviceName == "" {
		return nil, "", fmt.Errorf("device name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lockedLocked(origin) {
		slog.Warn("security.pairing_locked_out", "origin", origin)
		return nil, "", ErrLockedOut
	}

	c, ok := s.codes[code]
	if !ok {
		s.recordFailureLocked(origin)
		return nil, "", ErrNotFound
	}
	if s.now().UnixMilli() >= c.ExpiresAt {
		delete(s.codes, code)
		s.recordFailureLocked(origin)
		s.save()
		return nil, "", ErrExpired
	}

	// Success: consume the code, reset the origin's failure count.
	delete(s.codes, code)
	delete(s.locks, lockKey(origin))

	token, err := randomToken()
	if err != nil {
		return nil, "", err
	}

	now := s.now().UnixMilli()
	dev, exists := s.devices[deviceName]
	if !exists {
		dev = &Device{Name: deviceName, PairedAt: now}
		s.devices[deviceName] = dev
	}
	dev.LastSeen = now
	dev.TokenHash = hashToken(token)
	s.save()

	slog.Info("pairing approved", "device", deviceName, "origin", origin)
	return snapshot(dev), token, nil
}

// RecordFailedAttempt counts a failed pairing attempt from origin toward
// lockout. Exposed for auth layers that validate codes out of band.
func (s *Service) RecordFailedAttempt(origin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordFailureLocked(origin)
}

// Authenticate resolves a device bearer token. On success the device's
// last_seen is refreshed.
func (s *Service) Authenticate(token string) (*Device, bool) {
	if token == "" {
		return nil, false
	}
	hash := hashToken(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dev := range s.devices {
		if dev.TokenHash == hash {
			dev.LastSeen = s.now().UnixMilli()
			s.save()
			return snapshot(dev), true
		}
	}
	return nil, false
}

// IsPaired reports whether a device with the given name is paired.
func (s *Service) IsPaired(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.devices[name]
	return ok
}

// ListCodes returns outstanding (unexpired) pairing codes.
func (s *Service) ListCodes() []Code {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneExpired()
	result := make([]Code, 0, len(s.codes))
	for _, c := range s.codes {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt < result[j].CreatedAt })
	return result
}

// ListDevices returns a snapshot of paired devices ordered by pairing time.
func (s *Service) ListDevices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Device, 0, len(s.devices))
	for _, dev := range s.devices {
		result = append(result, *dev)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PairedAt != result[j].PairedAt {
			return result[i].PairedAt < result[j].PairedAt
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Revoke removes a paired device. Returns whether a device existed.
// Revocation is immediate: the device's token hash is gone, so its next
// authentication fails.
func (s *Service) Revoke(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[name]; !ok {
		return false
	}
	delete(s.devices, name)
	s.save()
	slog.Info("pairing revoked", "device", name)
	return true
}

// --- Internal ---

func lockKey(origin string) string {
	if origin == "" {
		return globalOrigin
	}
	return origin
}

// lockedLocked reports whether origin is currently locked out, clearing
// expired lockouts as a side effect. Caller holds s.mu.
func (s *Service) lockedLocked(origin string) bool {
	ls, ok := s.locks[lockKey(origin)]
	if !ok {
		return false
	}
	if ls.lockedUntil.IsZero() {
		return false
	}
	if s.now().Before(ls.lockedUntil) {
		return true
	}
	// Lockout elapsed: attempts reset to zero.
	delete(s.locks, lockKey(origin))
	return false
}

// recordFailureLocked increments origin's failure count and arms the lockout
// once maxAttempts is reached. Caller holds s.mu.
func (s *Service) recordFailureLocked(origin string) {
	key := lockKey(origin)
	ls, ok := s.locks[key]
	if !ok {
		ls = &lockState{}
		s.locks[key] = ls
	}
	ls.attempts++
	if ls.attempts >= s.maxAttempts && ls.lockedUntil.IsZero() {
		ls.lockedUntil = s.now().Add(s.lockout)
		slog.Warn("security.pairing_lockout_armed",
			"origin", origin,
			"attempts", ls.attempts,
			"until", ls.lockedUntil,
		)
	}
}

func (s *Service) pruneExpired() {
	now := s.now().UnixMilli()
	for code, c := range s.codes {
		if c.ExpiresAt <= now {
			delete(s.codes, code)
		}
	}
}

func (s *Service) load() {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		return // file doesn't exist yet
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Warn("pairing: store file unreadable, starting empty", "path", s.storePath, "error", err)
		return
	}
	for _, c := range p.Pending {
		s.codes[c.Code] = c
	}
	for i := range p.Paired {
		dev := p.Paired[i]
		s.devices[dev.Name] = &dev
	}
}

func (s *Service) save() {
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		slog.Error("pairing: failed to create dir", "error", err)
		return
	}

	p := persisted{
		Pending: make([]Code, 0, len(s.codes)),
		Paired:  make([]Device, 0, len(s.devices)),
	}
	for _, c := range s.codes {
		p.Pending = append(p.Pending, c)
	}
	for _, dev := range s.devices {
		p.Paired = append(p.Paired, *dev)
	}
	sort.Slice(p.Pending, func(i, j int) bool { return p.Pending[i].Code < p.Pending[j].Code })
	sort.Slice(p.Paired, func(i, j int) bool { return p.Paired[i].Name < p.Paired[j].Name })

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		slog.Error("pairing: failed to marshal store", "error", err)
		return
	}

	tmp := s.storePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		slog.Error("pairing: failed to write store", "error", err)
		return
	}
	if err := os.Rename(tmp, s.storePath); err != nil {
		slog.Error("pairing: failed to replace store", "error", err)
	}
}

func snapshot(dev *Device) *Device {
	cp := *dev
	return &cp
}

func randomCode() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	code := make([]byte, CodeLength)
	for i := range code {
		code[i] = CodeAlphabet[int(b[i])%len(CodeAlphabet)]
	}
	return string(code), nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
