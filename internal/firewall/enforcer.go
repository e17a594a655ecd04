package firewall

import (
	"fmt"

	"homeguard/internal/logger"
	"homeguard/internal/metrics"
)

const filterTable = "filter"

var privateNetworks = []string{"192.168.0.0/16", "172.16.0.0/12", "10.0.0.0/8"}

// Enforcer blocks all outbound internet traffic through one dedicated
// filter/OUTPUT chain. It stores no enabled flag of its own: enabled-ness is
// always recomputed from the live rule count, so a crashed process or an
// operator flushing rules by hand cannot desynchronize it.
type Enforcer struct {
	run   Runner
	chain string
}

func NewEnforcer(run Runner, chain string) *Enforcer {
	if chain == "" {
		chain = "HOMEGUARD"
	}
	return &Enforcer{run: run, chain: chain}
}

// EnsureChain creates the chain and its single OUTPUT reference.
func (e *Enforcer) EnsureChain() error {
	return ensureChain(e.run, filterTable, "OUTPUT", e.chain)
}

// Enable installs the blocking rule set. The chain is flushed first so the
// call is an idempotent reset, and rules are appended in evaluation order:
// loopback, established connections, private ranges and DNS are accepted
// before the final catch-all reject.
func (e *Enforcer) Enable(reason string) error {
	logger.Infof("enabling internet restriction: %s", reason)

	if err := e.EnsureChain(); err != nil {
		return err
	}
	if err := apply(e.run, filterTable, "-F", e.chain); err != nil {
		return fmt.Errorf("flush chain: %w", err)
	}

	rules := [][]string{
		{"-A", e.chain, "-o", "lo", "-j", "ACCEPT"},
		{"-A", e.chain, "-m", "state", "--state", "ESTABLISHED,RELATED", "-j", "ACCEPT"},
	}
	for _, network := range privateNetworks {
		rules = append(rules, []string{"-A", e.chain, "-d", network, "-j", "ACCEPT"})
	}
	rules = append(rules,
		[]string{"-A", e.chain, "-p", "udp", "--dport", "53", "-j", "ACCEPT"},
		[]string{"-A", e.chain, "-p", "tcp", "--dport", "53", "-j", "ACCEPT"},
		[]string{"-A", e.chain, "-j", "REJECT", "--reject-with", "icmp-net-prohibited"},
	)
	for _, rule := range rules {
		if err := apply(e.run, filterTable, rule...); err != nil {
			return fmt.Errorf("append rule %v: %w", rule, err)
		}
	}

	metrics.FirewallTransitions.WithLabelValues("enabled").Inc()
	logger.Info("internet restriction enabled")
	return nil
}

// Disable flushes the chain; an empty chain falls through to normal routing.
// Disabling twice is a no-op, not an error.
func (e *Enforcer) Disable() error {
	if err := apply(e.run, filterTable, "-F", e.chain); err != nil {
		return fmt.Errorf("flush chain: %w", err)
	}
	metrics.FirewallTransitions.WithLabelValues("disabled").Inc()
	logger.Info("internet restriction disabled")
	return nil
}

type Status struct {
	Enabled   bool
	RuleCount int
}

func (e *Enforcer) Status() (Status, error) {
	n, err := ruleCount(e.run, filterTable, e.chain)
	if err != nil {
		return Status{}, err
	}
	return Status{Enabled: n > 0, RuleCount: n}, nil
}

// Cleanup removes the OUTPUT reference and deletes the chain entirely, for
// uninstall.
func (e *Enforcer) Cleanup() error {
	return teardownChain(e.run, filterTable, "OUTPUT", e.chain)
}
