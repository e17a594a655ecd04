// Package daemon runs the periodic enforcement loop. Once a minute it asks
// the decision engine for the domain-independent verdict (schedules and the
// daily usage cap) and converges the network enforcer to match, acting only
// on transitions so a steady state stays quiet in the logs and in iptables.
package daemon

import (
	"context"
	"time"

	"homeguard/internal/engine"
	"homeguard/internal/logger"
)

// NetworkEnforcer is the converged side effect; in production it is the
// iptables enforcer.
type NetworkEnforcer interface {
	Enable(reason string) error
	Disable() error
}

type Daemon struct {
	eng      *engine.Engine
	enforcer NetworkEnforcer
	interval time.Duration

	restricted bool
	synced     bool
}

func New(eng *engine.Engine, enforcer NetworkEnforcer, interval time.Duration) *Daemon {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Daemon{eng: eng, enforcer: enforcer, interval: interval}
}

// Run loops until ctx is cancelled, then disables the restriction
// unconditionally so a stopped daemon always fails open, whatever the
// in-memory state says the chain holds.
func (d *Daemon) Run(ctx context.Context) error {
	logger.Infof("enforcement loop started (interval %v)", d.interval)

	// First evaluation happens immediately, not one interval in.
	d.tick(time.Now())

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("enforcement loop stopping")
			if err := d.enforcer.Disable(); err != nil {
				logger.Errorf("disable restriction on shutdown: %v", err)
				return err
			}
			d.restricted = false
			return nil
		case now := <-ticker.C:
			d.tick(now)
		}
	}
}

// tick evaluates the time-based policy and converges the enforcer. The first
// successful tick converges unconditionally: a previous process may have
// crashed with the chain populated, and live iptables state, not this
// process's memory, is what matters. A store-unavailable verdict skips
// convergence entirely so a transient read failure cannot flap the firewall.
// Enforcer failures leave the recorded state untouched so the next tick
// retries the same transition.
func (d *Daemon) tick(now time.Time) {
	v := d.eng.Check("", now)
	if v.Category == engine.CategoryStoreError {
		logger.Warnf("skipping enforcement tick: %s", v.Reason)
		return
	}
	shouldRestrict := !v.Allowed

	if d.synced && shouldRestrict == d.restricted {
		return
	}
	if shouldRestrict {
		if err := d.enforcer.Enable(v.Reason); err != nil {
			logger.Errorf("enable restriction: %v", err)
			return
		}
		d.restricted = true
	} else {
		if err := d.enforcer.Disable(); err != nil {
			logger.Errorf("disable restriction: %v", err)
			return
		}
		d.restricted = false
	}
	d.synced = true
}
