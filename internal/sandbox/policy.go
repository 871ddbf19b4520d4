package sandbox

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// LoadPolicy reads a YAML policy override file. A missing file yields the
// zero Policy (built-in defaults only). A malformed file is an error: the
// caller keeps whatever policy it already has rather than running with a
// partially parsed one.
func LoadPolicy(path string) (Policy, error) {
	var p Policy
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, err
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// MergePolicies combines two policy overlays. List entries concatenate; the
// built-in blocklists always apply underneath.
func MergePolicies(a, b Policy) Policy {
	return Policy{
		BlockedCommands:  append(append([]string{}, a.BlockedCommands...), b.BlockedCommands...),
		BlockedArguments: append(append([]string{}, a.BlockedArguments...), b.BlockedArguments...),
		DenyMounts:       append(append([]string{}, a.DenyMounts...), b.DenyMounts...),
		AllowMounts:      append(append([]string{}, a.AllowMounts...), b.AllowMounts...),
	}
}

// PolicyWatcher watches the policy file and pushes reloaded policies into a
// Guard. Changes are debounced (300ms) to avoid rapid reloads while an
// editor is still writing.
type PolicyWatcher struct {
	path     string
	base     Policy
	guard    *Guard
	watcher  *fsnotify.Watcher
	debounce time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewPolicyWatcher creates a watcher feeding guard from the file at path.
// The base policy is merged under every reloaded file policy.
func NewPolicyWatcher(path string, base Policy, guard *Guard) (*PolicyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PolicyWatcher{
		path:     path,
		base:     base,
		guard:    guard,
		watcher:  w,
		debounce: 300 * time.Millisecond,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins watching the policy file for changes.
func (pw *PolicyWatcher) Start() error {
	if err := pw.watcher.Add(pw.path); err != nil {
		return err
	}
	go pw.watchLoop()
	slog.Info("sandbox policy watcher started", "path", pw.path)
	return nil
}

// Stop halts the file watcher.
func (pw *PolicyWatcher) Stop() {
	pw.stopOnce.Do(func() {
		close(pw.stopChan)
		pw.watcher.Close()
	})
}

func (pw *PolicyWatcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-pw.stopChan:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(pw.debounce, pw.reload)

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("sandbox policy watcher error", "error", err)
		}
	}
}

func (pw *PolicyWatcher) reload() {
	p, err := LoadPolicy(pw.path)
	if err != nil {
		// Keep the last good policy. Never fail open on a bad file.
		slog.Warn("security.policy_reload_failed, keeping previous policy",
			"path", pw.path, "error", err)
		return
	}
	pw.guard.SetPolicy(MergePolicies(pw.base, p))
}
