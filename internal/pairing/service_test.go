package pairing

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// testClock lets tests advance time without sleeping.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, maxAttempts int, lockout time.Duration) (*Service, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Now()}
	s := NewService(filepath.Join(t.TempDir(), "pairing.json"), maxAttempts, lockout)
	s.now = clock.now
	return s, clock
}

func TestGenerateAndRedeem(t *testing.T) {
	s, _ := newTestService(t, 3, time.Minute)

	code, err := s.GenerateCode()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(code) != CodeLength {
		t.Fatalf("code length = %d, want %d", len(code), CodeLength)
	}

	dev, token, err := s.Redeem(code, "phone", "10.0.0.5")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if dev.Name != "phone" {
		t.Errorf("device name = %q", dev.Name)
	}
	if token == "" {
		t.Error("expected a bearer token")
	}
	if dev.TokenHash == token {
		t.Error("token stored unhashed")
	}
	if !s.IsPaired("phone") {
		t.Error("device not paired")
	}
}

func TestRedeemSingleUse(t *testing.T) {
	s, _ := newTestService(t, 10, time.Minute)

	code, _ := s.GenerateCode()
	if _, _, err := s.Redeem(code, "phone", ""); err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	if _, _, err := s.Redeem(code, "tablet", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("second redeem = %v, want ErrNotFound", err)
	}
}

func TestRedeemExpired(t *testing.T) {
	s, clock := newTestService(t, 10, time.Minute)

	code, _ := s.GenerateCode()
	clock.advance(CodeTTL + time.Second)

	if _, _, err := s.Redeem(code, "phone", ""); !errors.Is(err, ErrExpired) {
		t.Errorf("redeem after TTL = %v, want ErrExpired", err)
	}

	// Expired codes are consumed: a retry sees NotFound.
	if _, _, err := s.Redeem(code, "phone", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("retry after expiry = %v, want ErrNotFound", err)
	}
}

func TestRedeemUnknownCode(t *testing.T) {
	s, _ := newTestService(t, 10, time.Minute)
	if _, _, err := s.Redeem("WRONGCOD", "phone", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown code = %v, want ErrNotFound", err)
	}
}

func TestLockoutScenario(t *testing.T) {
	// max_attempts=3, lockout=60s: three wrong-code redemptions lock out;
	// a correct code during lockout still fails; after 60s it succeeds.
	s, clock := newTestService(t, 3, 60*time.Second)
	origin := "203.0.113.7"

	code, _ := s.GenerateCode()

	for i := 0; i < 3; i++ {
		if _, _, err := s.Redeem("WRONGCOD", "phone", origin); !errors.Is(err, ErrNotFound) {
			t.Fatalf("attempt %d = %v, want ErrNotFound", i, err)
		}
	}

	// Locked out now, even with the correct code.
	if _, _, err := s.Redeem(code, "phone", origin); !errors.Is(err, ErrLockedOut) {
		t.Fatalf("redeem during lockout = %v, want ErrLockedOut", err)
	}

	// A different origin is unaffected.
	if _, _, err := s.Redeem("ALSOWRNG", "phone", "198.51.100.9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other origin = %v, want ErrNotFound (not locked)", err)
	}

	// Lockout expires automatically; the correct code succeeds again.
	clock.advance(61 * time.Second)
	if _, _, err := s.Redeem(code, "phone", origin); err != nil {
		t.Fatalf("redeem after lockout elapsed: %v", err)
	}
}

func TestRecordFailedAttempt(t *testing.T) {
	s, _ := newTestService(t, 2, time.Minute)

	s.RecordFailedAttempt("origin-a")
	s.RecordFailedAttempt("origin-a")

	code, _ := s.GenerateCode()
	if _, _, err := s.Redeem(code, "phone", "origin-a"); !errors.Is(err, ErrLockedOut) {
		t.Errorf("expected lockout after recorded failures, got %v", err)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	s, _ := newTestService(t, 3, time.Minute)
	origin := "10.1.1.1"

	s.RecordFailedAttempt(origin)
	s.RecordFailedAttempt(origin)

	code, _ := s.GenerateCode()
	if _, _, err := s.Redeem(code, "phone", origin); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	// Two more failures must not trip the threshold: the count was reset.
	s.RecordFailedAttempt(origin)
	s.RecordFailedAttempt(origin)
	code2, _ := s.GenerateCode()
	if _, _, err := s.Redeem(code2, "tablet", origin); err != nil {
		t.Errorf("redeem after reset: %v", err)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	s, _ := newTestService(t, 3, time.Minute)

	code, _ := s.GenerateCode()
	if _, _, err := s.Redeem(code, "phone", ""); err != nil {
		t.Fatal(err)
	}

	if !s.Revoke("phone") {
		t.Error("first revoke should return true")
	}
	if s.Revoke("phone") {
		t.Error("second revoke should return false")
	}

	for _, d := range s.ListDevices() {
		if d.Name == "phone" {
			t.Error("revoked device still listed")
		}
	}
}

func TestRevokeInvalidatesToken(t *testing.T) {
	s, _ := newTestService(t, 3, time.Minute)

	code, _ := s.GenerateCode()
	_, token, err := s.Redeem(code, "phone", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Authenticate(token); !ok {
		t.Fatal("token should authenticate before revocation")
	}

	s.Revoke("phone")

	if _, ok := s.Authenticate(token); ok {
		t.Error("token must stop working immediately after revocation")
	}
}

func TestAuthenticateRefreshesLastSeen(t *testing.T) {
	s, clock := newTestService(t, 3, time.Minute)

	code, _ := s.GenerateCode()
	dev, token, err := s.Redeem(code, "phone", "")
	if err != nil {
		t.Fatal(err)
	}

	clock.advance(10 * time.Minute)
	got, ok := s.Authenticate(token)
	if !ok {
		t.Fatal("authenticate failed")
	}
	if got.LastSeen <= dev.LastSeen {
		t.Error("last_seen not refreshed")
	}
}

func TestMultipleOutstandingCodes(t *testing.T) {
	s, _ := newTestService(t, 3, time.Minute)

	c1, _ := s.GenerateCode()
	c2, _ := s.GenerateCode()
	if c1 == c2 {
		t.Fatal("codes must be unique")
	}
	if got := len(s.ListCodes()); got != 2 {
		t.Fatalf("outstanding codes = %d, want 2", got)
	}

	if _, _, err := s.Redeem(c2, "tablet", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Redeem(c1, "phone", ""); err != nil {
		t.Fatal(err)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pairing.json")

	s1 := NewService(path, 3, time.Minute)
	code, _ := s1.GenerateCode()
	if _, _, err := s1.Redeem(code, "phone", ""); err != nil {
		t.Fatal(err)
	}

	s2 := NewService(path, 3, time.Minute)
	if !s2.IsPaired("phone") {
		t.Error("paired device lost across restart")
	}
}
