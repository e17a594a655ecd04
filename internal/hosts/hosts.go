// Package hosts rewrites the managed section of /etc/hosts. The file is a
// derived cache of the rule store: every Apply recomputes the full section
// from scratch, and the live file is only ever replaced by an atomic rename
// of a fully validated candidate.
package hosts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sys/unix"

	"homeguard/internal/domain"
	"homeguard/internal/logger"
	"homeguard/internal/metrics"
)

const (
	StartMarker = "# HomeGuard - START"
	EndMarker   = "# HomeGuard - END"

	backupPrefix = "hosts_backup_"
	blockIP      = "127.0.0.1"
)

var ErrNoBackup = errors.New("no hosts backup available")

// systemEntries are re-injected whenever the preserved lines lack them; they
// are never deletable through this package.
var systemEntries = []struct {
	ip    string
	names []string
}{
	{"127.0.0.1", []string{"localhost", "localhost.localdomain"}},
	{"::1", []string{"localhost", "ip6-localhost", "ip6-loopback"}},
	{"fe00::0", []string{"ip6-localnet"}},
	{"ff00::0", []string{"ip6-mcastprefix"}},
	{"ff02::1", []string{"ip6-allnodes"}},
	{"ff02::2", []string{"ip6-allrouters"}},
}

type Manager struct {
	path       string
	backupDir  string
	backupKeep int

	mu sync.Mutex
}

func NewManager(path, backupDir string, backupKeep int) (*Manager, error) {
	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	if backupKeep <= 0 {
		backupKeep = 10
	}
	return &Manager{path: path, backupDir: backupDir, backupKeep: backupKeep}, nil
}

// Apply rewrites the managed section to exactly the given blocked domains.
// The sequence backup -> read -> transform -> validate -> atomic write runs
// under the manager lock; any failure before the final rename leaves the live
// file untouched.
func (m *Manager) Apply(domains []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.apply(domains); err != nil {
		metrics.HostsApplyErrors.Inc()
		return err
	}
	metrics.HostsApplies.Inc()
	return nil
}

func (m *Manager) apply(domains []string) error {
	if _, err := m.backup(); err != nil {
		return fmt.Errorf("backup hosts file: %w", err)
	}

	current, err := m.read()
	if err != nil {
		return fmt.Errorf("read hosts file: %w", err)
	}

	preserved := stripManagedSection(current)
	preserved = ensureSystemEntries(preserved)

	lines := preserved
	clean := cleanDomains(domains)
	if len(clean) > 0 {
		lines = append(lines, "", StartMarker)
		lines = append(lines, fmt.Sprintf("# Blocking %d domains", len(clean)))
		for _, d := range clean {
			lines = append(lines, blockIP+"\t"+d)
		}
		lines = append(lines, EndMarker, "")
	}

	content := strings.Join(lines, "\n")
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := validate(content); err != nil {
		return fmt.Errorf("candidate hosts content: %w", err)
	}
	return m.writeAtomic(content)
}

// Clear removes the managed section entirely.
func (m *Manager) Clear() error { return m.Apply(nil) }

// BlockedDomains parses the managed section of the live file.
func (m *Manager) BlockedDomains() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, err := m.read()
	if err != nil {
		return nil, err
	}
	var out []string
	inSection := false
	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.Contains(line, StartMarker):
			inSection = true
		case strings.Contains(line, EndMarker):
			inSection = false
		case inSection:
			fields := strings.Fields(line)
			if len(fields) >= 2 && fields[0] == blockIP {
				out = append(out, fields[1])
			}
		}
	}
	return out, nil
}

// Restore replaces the live file with the most recent backup, through the
// same validate-then-atomic-write path as Apply.
func (m *Manager) Restore() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backups, err := m.backups()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return ErrNoBackup
	}
	data, err := os.ReadFile(backups[0])
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := validate(string(data)); err != nil {
		return fmt.Errorf("backup %s: %w", filepath.Base(backups[0]), err)
	}
	return m.writeAtomic(string(data))
}

func (m *Manager) backup() (string, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return "", err
	}
	name := backupPrefix + time.Now().Format("20060102_150405")
	dst := filepath.Join(m.backupDir, name)
	if err := os.WriteFile(dst, data, 0o640); err != nil {
		return "", err
	}
	m.pruneBackups()
	return dst, nil
}

// backups returns backup paths, newest first.
func (m *Manager) backups() ([]string, error) {
	entries, err := os.ReadDir(m.backupDir)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) {
			paths = append(paths, filepath.Join(m.backupDir, e.Name()))
		}
	}
	// Timestamped names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}

func (m *Manager) pruneBackups() {
	paths, err := m.backups()
	if err != nil {
		logger.Warnf("prune backups: %v", err)
		return
	}
	for _, old := range paths[minInt(len(paths), m.backupKeep):] {
		if err := os.Remove(old); err != nil {
			logger.Warnf("remove old backup %s: %v", old, err)
		}
	}
}

// read loads the hosts file under a shared advisory lock so a concurrent
// writer holding the exclusive lock is not interleaved with.
func (m *Manager) read() (string, error) {
	f, err := os.Open(m.path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err == nil {
		defer unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *Manager) writeAtomic(content string) error {
	// Temp file in the hosts file's own directory so the rename stays on one
	// filesystem.
	err := renameio.WriteFile(m.path, []byte(content), 0o644,
		renameio.WithTempDir(filepath.Dir(m.path)))
	if err != nil {
		return fmt.Errorf("atomic write: %w", err)
	}
	return nil
}

func stripManagedSection(content string) []string {
	var out []string
	inSection := false
	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.Contains(line, StartMarker):
			inSection = true
		case strings.Contains(line, EndMarker):
			inSection = false
		case !inSection:
			out = append(out, line)
		}
	}
	// Drop trailing blank lines left over from a previous section.
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	return out
}

func ensureSystemEntries(lines []string) []string {
	type hostEntry struct {
		ip    string
		names map[string]bool
	}
	var existing []hostEntry
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		names := make(map[string]bool, len(fields)-1)
		for _, n := range fields[1:] {
			names[n] = true
		}
		existing = append(existing, hostEntry{ip: fields[0], names: names})
	}

	for _, sys := range systemEntries {
		found := false
		for _, e := range existing {
			if e.ip != sys.ip {
				continue
			}
			for _, n := range sys.names {
				if e.names[n] {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			line := sys.ip + "\t" + strings.Join(sys.names, "\t")
			lines = append(lines, line)
			logger.Infof("re-added missing system hosts entry: %s", line)
		}
	}
	return lines
}

// cleanDomains filters to valid, non-system domains and sorts for a
// deterministic section.
func cleanDomains(domains []string) []string {
	seen := make(map[string]bool, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			continue
		}
		if domain.IsSystem(d) || !domain.Valid(d) {
			logger.Warnf("skipping invalid or system domain in hosts section: %q", d)
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// validate refuses content that would break local name resolution.
func validate(content string) error {
	hasLocalhost := false
	hasV6Localhost := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		for _, name := range fields[1:] {
			if name == "localhost" {
				if fields[0] == "127.0.0.1" {
					hasLocalhost = true
				}
				if fields[0] == "::1" {
					hasV6Localhost = true
				}
			}
		}
	}
	if !hasLocalhost {
		return errors.New("missing 127.0.0.1 localhost entry")
	}
	if !hasV6Localhost {
		logger.Warn("hosts content missing ::1 localhost entry (not critical)")
	}
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
