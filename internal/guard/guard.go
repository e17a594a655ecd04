// Package guard is the orchestration layer tying the rule store, the hosts
// enforcer and the blacklist updater together. Every mutation that changes
// which domains should be blocked re-applies the hosts file afterwards, so
// the enforced state never drifts from the stored rules.
package guard

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"homeguard/internal/blacklist"
	"homeguard/internal/categories"
	"homeguard/internal/domain"
	"homeguard/internal/hosts"
	"homeguard/internal/logger"
	"homeguard/internal/store"
)

var ErrSystemDomain = errors.New("refusing to block a system domain")

type Guard struct {
	store   *store.Store
	hosts   *hosts.Manager
	updater *blacklist.Updater
}

func New(st *store.Store, hm *hosts.Manager, up *blacklist.Updater) *Guard {
	return &Guard{store: st, hosts: hm, updater: up}
}

// Bootstrap registers the built-in categories in the store so they can be
// toggled like any other category. Existing activation state is preserved.
func (g *Guard) Bootstrap() error {
	for _, slug := range categories.Slugs() {
		b, _ := categories.Get(slug)
		err := g.store.UpsertCategory(store.Category{
			Slug:        slug,
			Name:        b.Name,
			Description: b.Description,
			Source:      store.SourceBuiltin,
			DomainCount: len(b.Domains),
		})
		if err != nil {
			return fmt.Errorf("register category %s: %w", slug, err)
		}
	}
	return nil
}

// BlockSite adds one manually blocked domain and re-applies the hosts file.
// It reports whether the domain was newly added.
func (g *Guard) BlockSite(raw string) (bool, error) {
	d, err := domain.Normalize(raw)
	if err != nil {
		return false, err
	}
	if domain.IsSystem(d) {
		return false, ErrSystemDomain
	}
	added, err := g.store.AddBlockedSite(d, "MANUAL")
	if err != nil {
		return false, err
	}
	if !added {
		return false, nil
	}
	return true, g.ApplyHosts()
}

// UnblockSite removes a manual block and re-applies the hosts file. Removing
// a domain that was never blocked is not an error.
func (g *Guard) UnblockSite(raw string) (bool, error) {
	d, err := domain.Normalize(raw)
	if err != nil {
		return false, err
	}
	removed, err := g.store.RemoveBlockedSite(d)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	return true, g.ApplyHosts()
}

// SetCategoryActive toggles a category and re-applies the hosts file so the
// change takes effect immediately.
func (g *Guard) SetCategoryActive(slug string, active bool) error {
	if err := g.store.SetCategoryActive(slug, active); err != nil {
		return err
	}
	return g.ApplyHosts()
}

// SetActiveCategories activates exactly the given category slugs and
// deactivates every other category, then re-applies the hosts file once.
func (g *Guard) SetActiveCategories(slugs []string) error {
	want := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		want[s] = true
	}
	cats, err := g.store.Categories(false)
	if err != nil {
		return err
	}
	for _, c := range cats {
		if c.Active == want[c.Slug] {
			continue
		}
		if err := g.store.SetCategoryActive(c.Slug, want[c.Slug]); err != nil {
			return err
		}
	}
	return g.ApplyHosts()
}

// TemporaryUnblock grants access to a blocked domain for the given duration
// and re-applies the hosts file without it.
func (g *Guard) TemporaryUnblock(raw string, d time.Duration) (*store.Exception, error) {
	nd, err := domain.Normalize(raw)
	if err != nil {
		return nil, err
	}
	if d <= 0 {
		return nil, errors.New("exception duration must be positive")
	}
	exc, err := g.store.AddException(nd, time.Now().Add(d))
	if err != nil {
		return nil, err
	}
	logger.Infof("temporary exception for %s until %s", nd, exc.ExpiresAt.Format(time.RFC3339))
	return exc, g.ApplyHosts()
}

// UpdateBlacklist refreshes one external category list.
func (g *Guard) UpdateBlacklist(slug string) (int, error) {
	c, err := g.store.CategoryBySlug(slug)
	if err != nil {
		return 0, err
	}
	if c.Source != store.SourceList {
		return 0, fmt.Errorf("category %s is not list-sourced", slug)
	}
	n, err := g.updater.Update(slug)
	if err != nil {
		return 0, err
	}
	if c.Active {
		return n, g.ApplyHosts()
	}
	return n, nil
}

// UpdateAllBlacklists refreshes every list category and re-applies the hosts
// file once at the end.
func (g *Guard) UpdateAllBlacklists() (map[string]int, error) {
	counts, err := g.updater.UpdateAll()
	if applyErr := g.ApplyHosts(); applyErr != nil && err == nil {
		err = applyErr
	}
	return counts, err
}

// BlockedDomains computes the full enforced set: manual blocks plus the
// domains of every active category, minus domains under an active exception.
func (g *Guard) BlockedDomains() ([]string, error) {
	set := make(map[string]struct{})

	entries, err := g.store.BlockedSites()
	if err != nil {
		return nil, fmt.Errorf("read blocked sites: %w", err)
	}
	for _, e := range entries {
		set[e.Domain] = struct{}{}
	}

	cats, err := g.store.Categories(true)
	if err != nil {
		return nil, fmt.Errorf("read categories: %w", err)
	}
	for _, c := range cats {
		var domains []string
		switch c.Source {
		case store.SourceBuiltin:
			domains = categories.Domains(c.Slug)
		case store.SourceList:
			domains, err = g.store.CategoryDomains(c.Slug)
			if err != nil {
				return nil, fmt.Errorf("read category %s: %w", c.Slug, err)
			}
		}
		for _, d := range domains {
			set[d] = struct{}{}
		}
	}

	excs, err := g.store.ActiveExceptions(time.Now())
	if err != nil {
		return nil, fmt.Errorf("read exceptions: %w", err)
	}
	for _, exc := range excs {
		delete(set, exc.Domain)
	}

	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

// ApplyHosts writes the current blocked set into the hosts file.
func (g *Guard) ApplyHosts() error {
	domains, err := g.BlockedDomains()
	if err != nil {
		return err
	}
	return g.hosts.Apply(domains)
}

// ClearHosts removes the managed hosts section without touching stored rules.
func (g *Guard) ClearHosts() error {
	return g.hosts.Clear()
}

// Status summarizes the stored and enforced state.
type Status struct {
	ManualBlocks     int
	ActiveCategories []string
	BlockedDomains   int
	HostsEntries     int
	ActiveExceptions int
	ProtectionActive bool
}

func (g *Guard) Status() (Status, error) {
	var st Status

	entries, err := g.store.BlockedSites()
	if err != nil {
		return st, err
	}
	st.ManualBlocks = len(entries)

	cats, err := g.store.Categories(true)
	if err != nil {
		return st, err
	}
	for _, c := range cats {
		st.ActiveCategories = append(st.ActiveCategories, c.Slug)
	}

	domains, err := g.BlockedDomains()
	if err != nil {
		return st, err
	}
	st.BlockedDomains = len(domains)

	live, err := g.hosts.BlockedDomains()
	if err != nil {
		return st, err
	}
	st.HostsEntries = len(live)

	excs, err := g.store.ActiveExceptions(time.Now())
	if err != nil {
		return st, err
	}
	st.ActiveExceptions = len(excs)

	settings, err := g.store.Settings()
	if err != nil {
		return st, err
	}
	st.ProtectionActive = settings.ProtectionActive
	return st, nil
}
