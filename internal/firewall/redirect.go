package firewall

import (
	"fmt"
	"strconv"

	"homeguard/internal/logger"
)

const natTable = "nat"

// Redirector rewrites loopback-destined web traffic to the block page server
// through a nat/OUTPUT chain. Only traffic the hosts enforcer already pointed
// at 127.0.0.1 is touched, so ordinary browsing is unaffected.
type Redirector struct {
	run       Runner
	chain     string
	httpPort  int
	httpsPort int
}

func NewRedirector(run Runner, chain string, httpPort, httpsPort int) *Redirector {
	if chain == "" {
		chain = "HOMEGUARD_REDIRECT"
	}
	return &Redirector{run: run, chain: chain, httpPort: httpPort, httpsPort: httpsPort}
}

func (r *Redirector) EnsureChain() error {
	return ensureChain(r.run, natTable, "OUTPUT", r.chain)
}

// Enable installs the two redirect rules, flushing first for idempotency.
func (r *Redirector) Enable() error {
	if err := r.EnsureChain(); err != nil {
		return err
	}
	if err := apply(r.run, natTable, "-F", r.chain); err != nil {
		return fmt.Errorf("flush chain: %w", err)
	}

	redirects := []struct{ dport, target int }{
		{80, r.httpPort},
		{443, r.httpsPort},
	}
	for _, rd := range redirects {
		err := apply(r.run, natTable,
			"-A", r.chain,
			"-p", "tcp",
			"-d", "127.0.0.1",
			"--dport", strconv.Itoa(rd.dport),
			"-j", "REDIRECT",
			"--to-port", strconv.Itoa(rd.target),
		)
		if err != nil {
			return fmt.Errorf("redirect port %d: %w", rd.dport, err)
		}
	}
	logger.Infof("port redirection enabled (80->%d, 443->%d)", r.httpPort, r.httpsPort)
	return nil
}

func (r *Redirector) Disable() error {
	if err := apply(r.run, natTable, "-F", r.chain); err != nil {
		return fmt.Errorf("flush chain: %w", err)
	}
	logger.Info("port redirection disabled")
	return nil
}

func (r *Redirector) Status() (Status, error) {
	n, err := ruleCount(r.run, natTable, r.chain)
	if err != nil {
		return Status{}, err
	}
	return Status{Enabled: n > 0, RuleCount: n}, nil
}

func (r *Redirector) Cleanup() error {
	return teardownChain(r.run, natTable, "OUTPUT", r.chain)
}
