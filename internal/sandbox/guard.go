package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	shellwords "github.com/mattn/go-shellwords"
)

// defaultBlockedMounts are path prefixes that may never be exposed as extra
// mounts: system configuration, credential and key material, device nodes,
// and package manager roots. Entries starting with "~/" are expanded against
// the user's home directory at guard construction.
var defaultBlockedMounts = []string{
	"/etc",
	"/boot",
	"/root",
	"/proc",
	"/sys",
	"/dev",
	"/run",
	"/var/lib",
	"/var/run",
	"/usr",
	"/bin",
	"/sbin",
	"/lib",
	"/lib64",
	"~/.ssh",
	"~/.gnupg",
	"~/.aws",
	"~/.kube",
	"~/.docker",
	"~/.config",
	"~/.nanoclaw",
}

// defaultBlockedCommands are command names the agent may never execute.
var defaultBlockedCommands = []string{
	"sudo", "su", "doas",
	"mount", "umount", "chroot",
	"mkfs", "fdisk", "dd",
	"insmod", "rmmod", "modprobe",
	"reboot", "shutdown", "halt", "poweroff",
}

// defaultBlockedArguments are substrings that, appearing in any argument,
// deny the command: credential files and key material the agent has no
// business touching regardless of which binary is involved.
var defaultBlockedArguments = []string{
	".ssh/id_",
	".ssh/authorized_keys",
	"/etc/shadow",
	"/etc/sudoers",
	".aws/credentials",
	".gnupg/",
	".nanoclaw/tokens",
	".nanoclaw/pairing",
}

// Policy is the user-extensible part of the sandbox configuration. Values
// extend the built-in deny-lists; AllowMounts exempts exact prefixes from
// the mount deny-list.
type Policy struct {
	BlockedCommands  []string `yaml:"blocked_commands" json:"blocked_commands"`
	BlockedArguments []string `yaml:"blocked_arguments" json:"blocked_arguments"`
	DenyMounts       []string `yaml:"deny_mounts" json:"deny_mounts"`
	AllowMounts      []string `yaml:"allow_mounts" json:"allow_mounts"`
}

// Guard evaluates filesystem, mount, and shell policy for one workspace.
// Policy may be swapped at runtime (hot reload); checks take a read lock.
type Guard struct {
	workspace string
	home      string

	mu     sync.RWMutex
	policy Policy
}

// NewGuard creates a guard for the given workspace root.
func NewGuard(workspace string, policy Policy) *Guard {
	home, _ := os.UserHomeDir()
	return &Guard{
		workspace: workspace,
		home:      home,
		policy:    policy,
	}
}

// Workspace returns the configured workspace root.
func (g *Guard) Workspace() string { return g.workspace }

// SetPolicy replaces the user policy. Used by the config hot-reload watcher.
func (g *Guard) SetPolicy(p Policy) {
	g.mu.Lock()
	g.policy = p
	g.mu.Unlock()
	slog.Info("sandbox policy updated",
		"blocked_commands", len(p.BlockedCommands),
		"deny_mounts", len(p.DenyMounts),
		"allow_mounts", len(p.AllowMounts),
	)
}

// CheckPath validates that path stays inside the workspace and returns its
// canonical form.
func (g *Guard) CheckPath(path string) (string, error) {
	return ValidatePathInWorkspace(g.workspace, path)
}

// CheckMount validates a single extra-mount path against the deny-list.
// Fails closed: relative paths and paths that cannot be resolved are
// denied. The mount is canonicalized first so a symlink into a protected
// directory is judged by its target, not its name.
func (g *Guard) CheckMount(mount string) error {
	if !filepath.IsAbs(mount) {
		return fmt.Errorf("mount %q is not absolute: %w", mount, ErrBlocked)
	}
	clean, err := canonicalize(mount)
	if err != nil {
		return fmt.Errorf("mount %q cannot be resolved: %w", mount, ErrBlocked)
	}

	g.mu.RLock()
	allow := append([]string(nil), g.policy.AllowMounts...)
	deny := append([]string(nil), g.policy.DenyMounts...)
	g.mu.RUnlock()

	// The built-in blocklist is not overridable: an allow entry exempts
	// user deny rules only. Allowing ~/ must not re-expose ~/.ssh.
	for _, d := range defaultBlockedMounts {
		if pathHasPrefix(clean, g.expand(d)) {
			return fmt.Errorf("mount %q is a protected system path: %w", mount, ErrBlocked)
		}
	}
	for _, a := range allow {
		if pathHasPrefix(clean, g.expand(a)) {
			return nil
		}
	}
	for _, d := range deny {
		if pathHasPrefix(clean, g.expand(d)) {
			return fmt.Errorf("mount %q denied by policy: %w", mount, ErrBlocked)
		}
	}
	return nil
}

// CheckExtraMounts validates every entry of a user-declared mount list.
// Any single violation fails the whole batch so a partially sandboxed
// configuration never activates.
func (g *Guard) CheckExtraMounts(mounts []string) error {
	for _, m := range mounts {
		if err := g.CheckMount(m); err != nil {
			return err
		}
	}
	return nil
}

// CheckCommand validates a shell command line before execution. The line is
// tokenized with shell quoting rules; every token is matched against the
// blocked-command list (a blocked name hidden behind "env", ";" or "&&"
// still counts) and every argument against the blocked-argument patterns.
func (g *Guard) CheckCommand(cmdline string) error {
	// A fresh parser per call: shellwords.Parser mutates its own state
	// during Parse, and CheckCommand runs concurrently.
	args, err := shellwords.NewParser().Parse(cmdline)
	if err != nil {
		return fmt.Errorf("unparseable command line: %w", ErrBlocked)
	}
	if len(args) == 0 {
		return nil
	}

	g.mu.RLock()
	blockedCmds := append(append([]string(nil), defaultBlockedCommands...), g.policy.BlockedCommands...)
	blockedArgs := append(append([]string(nil), defaultBlockedArguments...), g.policy.BlockedArguments...)
	g.mu.RUnlock()

	name := filepath.Base(args[0])
	for _, arg := range args {
		token := filepath.Base(strings.TrimRight(arg, ";&|"))
		for _, b := range blockedCmds {
			if token == b {
				slog.Warn("security.command_blocked", "command", name, "token", token)
				return fmt.Errorf("command %q is not permitted: %w", token, ErrBlocked)
			}
		}
	}

	for _, arg := range args[1:] {
		expanded := g.expand(arg)
		for _, pat := range blockedArgs {
			if strings.Contains(expanded, g.expand(pat)) {
				slog.Warn("security.argument_blocked", "command", name, "pattern", pat)
				return fmt.Errorf("argument references protected path (%s): %w", pat, ErrBlocked)
			}
		}
		// Reject arguments that lexically climb out of the workspace.
		if strings.HasPrefix(arg, "../") || strings.Contains(arg, "/../") {
			if _, err := g.CheckPath(arg); err != nil {
				slog.Warn("security.argument_blocked", "command", name, "argument", arg)
				return fmt.Errorf("argument %q escapes workspace: %w", arg, ErrBlocked)
			}
		}
	}
	return nil
}

// expand substitutes a leading "~/" with the user's home directory.
func (g *Guard) expand(path string) string {
	if strings.HasPrefix(path, "~/") && g.home != "" {
		return filepath.Join(g.home, path[2:])
	}
	return path
}

// pathHasPrefix reports whether path equals prefix or is underneath it.
func pathHasPrefix(path, prefix string) bool {
	prefix = filepath.Clean(prefix)
	return path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator))
}
