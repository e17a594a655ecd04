package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeguard/internal/engine"
	"homeguard/internal/store"
)

type fakeEnforcer struct {
	enables  int
	disables int
	enabled  bool
}

func (f *fakeEnforcer) Enable(reason string) error {
	f.enables++
	f.enabled = true
	return nil
}

func (f *fakeEnforcer) Disable() error {
	f.disables++
	f.enabled = false
	return nil
}

type switchRules struct {
	restrict bool
	fail     bool
}

func (r *switchRules) Schedules(bool) ([]store.Schedule, error) {
	if r.fail {
		return nil, errors.New("database is locked")
	}
	if r.restrict {
		// A window no wall clock can ever fall into.
		return []store.Schedule{{StartTime: "23:59", EndTime: "23:59", Days: ""}}, nil
	}
	return nil, nil
}

func (r *switchRules) Settings() (store.Setting, error)                      { return store.Setting{}, nil }
func (r *switchRules) UsageFor(string) (store.UsageDay, error)               { return store.UsageDay{}, nil }
func (r *switchRules) BlockedSite(string) (*store.BlockEntry, error)         { return nil, store.ErrNotFound }
func (r *switchRules) Categories(bool) ([]store.Category, error)             { return nil, nil }
func (r *switchRules) BlacklistMatch(string) ([]string, error)               { return nil, nil }
func (r *switchRules) ActiveExceptions(time.Time) ([]store.Exception, error) { return nil, nil }
func (r *switchRules) RecordUsage(string, int, int, int) error               { return nil }

type nopReporter struct{}

func (nopReporter) Report(domain, action, category, reason string) {}

func newTestDaemon(rules *switchRules) (*Daemon, *fakeEnforcer) {
	eng := engine.New(rules, nopReporter{}, func(string) []string { return nil })
	enf := &fakeEnforcer{}
	return New(eng, enf, time.Minute), enf
}

func TestTickEnablesOnRestriction(t *testing.T) {
	rules := &switchRules{restrict: true}
	d, enf := newTestDaemon(rules)

	d.tick(time.Now())
	assert.True(t, enf.enabled)
	assert.Equal(t, 1, enf.enables)
}

func TestTickActsOnlyOnTransitions(t *testing.T) {
	rules := &switchRules{restrict: true}
	d, enf := newTestDaemon(rules)

	d.tick(time.Now())
	d.tick(time.Now())
	d.tick(time.Now())
	assert.Equal(t, 1, enf.enables, "steady restricted state must not re-enable")

	rules.restrict = false
	d.tick(time.Now())
	assert.False(t, enf.enabled)
	assert.Equal(t, 1, enf.disables)

	d.tick(time.Now())
	assert.Equal(t, 1, enf.disables, "steady open state must not re-disable")

	rules.restrict = true
	d.tick(time.Now())
	assert.Equal(t, 2, enf.enables)
}

// A previous process can crash with the chain populated; the first tick must
// converge against that, not against this process's zero-value memory.
func TestFirstTickFlushesLeftoverRules(t *testing.T) {
	rules := &switchRules{}
	d, enf := newTestDaemon(rules)
	enf.enabled = true // simulated leftover chain from a crashed run

	d.tick(time.Now())
	assert.False(t, enf.enabled)
	assert.Equal(t, 1, enf.disables)

	d.tick(time.Now())
	assert.Equal(t, 1, enf.disables, "steady state after the first tick must stay quiet")
}

func TestRunShutdownAlwaysDisables(t *testing.T) {
	rules := &switchRules{}
	d, enf := newTestDaemon(rules)
	enf.enabled = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	assert.False(t, enf.enabled, "shutdown must leave the machine unrestricted")
	assert.GreaterOrEqual(t, enf.disables, 1)
}

func TestTickSkipsConvergenceOnStoreError(t *testing.T) {
	rules := &switchRules{fail: true}
	d, enf := newTestDaemon(rules)

	d.tick(time.Now())
	assert.Equal(t, 0, enf.enables, "a store read failure must not flip the firewall")
	assert.Equal(t, 0, enf.disables)

	// Once the store recovers the loop converges normally.
	rules.fail = false
	rules.restrict = true
	d.tick(time.Now())
	assert.Equal(t, 1, enf.enables)
}
