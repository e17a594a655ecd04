package hosts

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"homeguard/internal/logger"
)

// Watcher re-applies the managed section when something other than this
// process rewrites the hosts file. The rule store is the source of truth;
// the hosts file is a disposable cache and always regenerated on mismatch.
type Watcher struct {
	manager *Manager
	source  func() ([]string, error) // desired blocked set, from the store
	settle  time.Duration
}

func NewWatcher(m *Manager, source func() ([]string, error)) *Watcher {
	return &Watcher{manager: m, source: source, settle: 500 * time.Millisecond}
}

// Run blocks until ctx is done. The parent directory is watched rather than
// the file itself because atomic renames replace the inode.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.manager.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Infof("watching %s for external changes", w.manager.path)

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Name != w.manager.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Editors and our own atomic writes produce event bursts; settle
			// before reconciling.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.settle, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("hosts watcher: %v", err)
		case <-fire:
			w.reconcile()
		}
	}
}

func (w *Watcher) reconcile() {
	want, err := w.source()
	if err != nil {
		logger.Errorf("reconcile hosts: read desired set: %v", err)
		return
	}
	have, err := w.manager.BlockedDomains()
	if err != nil {
		logger.Errorf("reconcile hosts: read live file: %v", err)
		return
	}
	if sameSet(want, have) {
		return
	}
	logger.Warnf("hosts managed section drifted (%d live vs %d expected), re-applying", len(have), len(want))
	if err := w.manager.Apply(want); err != nil {
		logger.Errorf("reconcile hosts: %v", err)
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		if !set[v] {
			return false
		}
	}
	return true
}
