// Package firewall drives iptables through a dedicated chain per concern:
// a filter/OUTPUT chain for full internet blocking and a nat/OUTPUT chain for
// redirecting blocked traffic to the block page server. iptables has no
// portable native API, so rules are applied by invoking the binary with a
// bounded timeout; duplicate-rule responses count as success because every
// operation here must be idempotent.
package firewall

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"homeguard/internal/logger"
)

// Runner executes one raw iptables invocation. A non-zero exit returns an
// error carrying the stderr text; callers decide which failures are soft.
type Runner func(table string, args ...string) (string, error)

var softFailures = []string{
	"already exists",
	"does a matching rule exist",
	"No chain/target/match by that name",
}

// ExecRunner shells out to iptables with the given timeout per invocation.
func ExecRunner(timeout time.Duration) Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return func(table string, args ...string) (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		full := append([]string{"-t", table}, args...)
		cmd := exec.CommandContext(ctx, "iptables", full...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		err := cmd.Run()
		if err == nil {
			return stdout.String(), nil
		}
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("iptables %s timed out after %v", strings.Join(args, " "), timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("iptables %s: %s", strings.Join(args, " "), msg)
	}
}

// apply runs an invocation and downgrades idempotency noise ("rule already
// exists", deleting something already gone) to success.
func apply(run Runner, table string, args ...string) error {
	_, err := run(table, args...)
	if err == nil {
		return nil
	}
	for _, soft := range softFailures {
		if strings.Contains(err.Error(), soft) {
			logger.Debugf("iptables soft failure treated as success: %v", err)
			return nil
		}
	}
	return err
}

// ruleExists reports whether the exact rule matches via `iptables -C`. Exit
// status is the only signal here; stderr noise must not be reinterpreted.
func ruleExists(run Runner, table string, args ...string) bool {
	_, err := run(table, append([]string{"-C"}, args...)...)
	return err == nil
}

// ruleCount counts live rules in a chain from `iptables -S` output, excluding
// the chain declaration itself. A missing chain counts as zero.
func ruleCount(run Runner, table, chain string) (int, error) {
	out, err := run(table, "-S", chain)
	if err != nil {
		if strings.Contains(err.Error(), "No chain") {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-N ") {
			continue
		}
		count++
	}
	return count, nil
}

// ensureChain creates the chain if needed and guarantees exactly one jump to
// it from the parent built-in chain.
func ensureChain(run Runner, table, parent, chain string) error {
	if err := apply(run, table, "-N", chain); err != nil {
		return fmt.Errorf("create chain %s: %w", chain, err)
	}
	if ruleExists(run, table, parent, "-j", chain) {
		return nil
	}
	if err := apply(run, table, "-I", parent, "1", "-j", chain); err != nil {
		return fmt.Errorf("reference %s from %s: %w", chain, parent, err)
	}
	logger.Infof("added %s jump to %s chain (%s table)", chain, parent, table)
	return nil
}

// teardownChain removes the parent reference, flushes and deletes the chain.
func teardownChain(run Runner, table, parent, chain string) error {
	if err := apply(run, table, "-D", parent, "-j", chain); err != nil {
		logger.Warnf("remove %s reference from %s: %v", chain, parent, err)
	}
	if err := apply(run, table, "-F", chain); err != nil {
		logger.Warnf("flush chain %s: %v", chain, err)
	}
	if err := apply(run, table, "-X", chain); err != nil {
		return fmt.Errorf("delete chain %s: %w", chain, err)
	}
	return nil
}
