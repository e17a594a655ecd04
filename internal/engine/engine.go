// Package engine decides, for a requested domain and a point in time, whether
// access is allowed. Decide is a pure predicate over store snapshots; Check
// adds the reporting and usage-accounting side effects around it.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"homeguard/internal/domain"
	"homeguard/internal/logger"
	"homeguard/internal/metrics"
	"homeguard/internal/store"
)

const (
	ReasonSchedule   = "Outside of allowed schedule"
	ReasonUsageLimit = "Daily usage limit reached"
	ReasonAllowed    = "Access allowed"

	// ReasonStoreError marks verdicts produced by a rule-store failure rather
	// than policy. Such verdicts deny but carry CategoryStoreError so callers
	// like the enforcement daemon can tell them apart from real restrictions.
	ReasonStoreError   = "Blocked (rule store unavailable)"
	CategoryStoreError = "error"
)

// Verdict is the outcome of one access decision.
type Verdict struct {
	Allowed  bool
	Reason   string
	Category string
}

// Rules is the read surface the engine needs from the rule store.
type Rules interface {
	Schedules(activeOnly bool) ([]store.Schedule, error)
	Settings() (store.Setting, error)
	UsageFor(date string) (store.UsageDay, error)
	BlockedSite(d string) (*store.BlockEntry, error)
	Categories(activeOnly bool) ([]store.Category, error)
	BlacklistMatch(d string) ([]string, error)
	ActiveExceptions(now time.Time) ([]store.Exception, error)
	RecordUsage(date string, minutes, accessed, blocks int) error
}

// Reporter receives every allow/deny event. Activity log storage itself is an
// external collaborator; the engine only emits.
type Reporter interface {
	Report(domain, action, category, reason string)
}

// LogReporter writes activity events to the process log.
type LogReporter struct{}

func (LogReporter) Report(d, action, category, reason string) {
	logger.L.Info().
		Str("domain", d).
		Str("action", action).
		Str("category", category).
		Str("reason", reason).
		Msg("activity")
}

type builtinLookup func(slug string) []string

type Engine struct {
	rules    Rules
	reporter Reporter
	builtin  builtinLookup
}

func New(rules Rules, reporter Reporter, builtin func(slug string) []string) *Engine {
	if reporter == nil {
		reporter = LogReporter{}
	}
	return &Engine{rules: rules, reporter: reporter, builtin: builtin}
}

// Decide evaluates the ordered blocking policy without side effects. The
// order is deliberate product policy: schedule, then usage cap, then manual
// blocks, then built-in categories, then the external blacklist union.
// An empty domain yields the domain-independent time/usage verdict.
func (e *Engine) Decide(d string, now time.Time) Verdict {
	// 1. Schedules. Zero configured schedules means default-allow.
	schedules, err := e.rules.Schedules(true)
	if err != nil {
		logger.Errorf("read schedules: %v", err)
		return Verdict{Allowed: false, Reason: ReasonStoreError, Category: CategoryStoreError}
	}
	if len(schedules) > 0 && !anyWindow(now, schedules) {
		return Verdict{Allowed: false, Reason: ReasonSchedule, Category: "time_restriction"}
	}

	// 2. Daily usage cap.
	if denied, v := e.usageCapExceeded(now); denied {
		return v
	}

	// 3. Domain-independent check stops here.
	if d == "" {
		return Verdict{Allowed: true, Reason: ReasonAllowed}
	}

	d = strings.ToLower(strings.TrimSpace(d))

	// 4. Temporary exceptions override domain blocks.
	if excs, err := e.rules.ActiveExceptions(now); err == nil {
		for _, exc := range excs {
			if exc.Domain == d {
				return Verdict{Allowed: true, Reason: "Temporary exception active"}
			}
		}
	}

	// 5. Manual blocks, exact match then parent walk.
	for _, cand := range append([]string{d}, domain.Parents(d)...) {
		entry, err := e.rules.BlockedSite(cand)
		if err == nil {
			cat := entry.Category
			if cat == "" {
				cat = "MANUAL"
			}
			return Verdict{
				Allowed:  false,
				Reason:   fmt.Sprintf("Blocked by manual site blocking (%s)", cat),
				Category: cat,
			}
		}
		if !errors.Is(err, store.ErrNotFound) {
			logger.Errorf("manual block lookup for %s: %v", cand, err)
			return Verdict{Allowed: false, Reason: ReasonStoreError, Category: CategoryStoreError}
		}
	}

	// 6. Built-in categories, active only.
	cats, err := e.rules.Categories(true)
	if err != nil {
		logger.Errorf("read categories: %v", err)
		return Verdict{Allowed: false, Reason: ReasonStoreError, Category: CategoryStoreError}
	}
	candidates := append([]string{d}, domain.Parents(d)...)
	for _, c := range cats {
		if c.Source != store.SourceBuiltin {
			continue
		}
		set := e.builtin(c.Slug)
		for _, cand := range candidates {
			if containsString(set, cand) {
				return Verdict{
					Allowed:  false,
					Reason:   fmt.Sprintf("Blocked by category: %s", c.Slug),
					Category: c.Slug,
				}
			}
		}
	}

	// 7. External blacklist union over active list categories.
	matched, err := e.rules.BlacklistMatch(d)
	if err != nil {
		logger.Errorf("blacklist lookup for %s: %v", d, err)
		return Verdict{Allowed: false, Reason: ReasonStoreError, Category: CategoryStoreError}
	}
	if len(matched) > 0 {
		return Verdict{
			Allowed:  false,
			Reason:   fmt.Sprintf("Blocked by categories: %s", strings.Join(matched, ", ")),
			Category: matched[0],
		}
	}

	return Verdict{Allowed: true, Reason: ReasonAllowed}
}

// Check runs Decide and performs the side effects: reporting the event and,
// on allow with a domain, charging one minute of usage (per-request sampling
// approximates continuous use).
func (e *Engine) Check(d string, now time.Time) Verdict {
	v := e.Decide(d, now)
	today := now.Format("2006-01-02")
	if v.Allowed {
		metrics.DecisionsAllowed.Inc()
		if d != "" {
			e.reporter.Report(d, "allowed", v.Category, v.Reason)
			if err := e.rules.RecordUsage(today, 1, 1, 0); err != nil {
				logger.Errorf("record usage: %v", err)
			}
		}
		return v
	}
	metrics.DecisionsDenied.WithLabelValues(v.Category).Inc()
	if d != "" {
		e.reporter.Report(d, "blocked", v.Category, v.Reason)
		if err := e.rules.RecordUsage(today, 0, 0, 1); err != nil {
			logger.Errorf("record block count: %v", err)
		}
	}
	return v
}

func (e *Engine) usageCapExceeded(now time.Time) (bool, Verdict) {
	st, err := e.rules.Settings()
	if err != nil {
		logger.Errorf("read settings: %v", err)
		return true, Verdict{Allowed: false, Reason: ReasonStoreError, Category: CategoryStoreError}
	}
	if !st.LimitActive || st.DailyLimitMinutes == nil {
		return false, Verdict{}
	}
	day, err := e.rules.UsageFor(now.Format("2006-01-02"))
	if err != nil {
		logger.Errorf("read usage: %v", err)
		return true, Verdict{Allowed: false, Reason: ReasonStoreError, Category: CategoryStoreError}
	}
	if day.MinutesUsed >= *st.DailyLimitMinutes {
		return true, Verdict{Allowed: false, Reason: ReasonUsageLimit, Category: "usage_limit"}
	}
	return false, Verdict{}
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
