package guard

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeguard/internal/hosts"
	"homeguard/internal/store"
)

func newTestGuard(t *testing.T) (*Guard, *store.Store, *hosts.Manager) {
	t.Helper()
	dir := t.TempDir()

	hostsPath := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(hostsPath, []byte("127.0.0.1\tlocalhost\n"), 0o644))
	hm, err := hosts.NewManager(hostsPath, filepath.Join(dir, "backups"), 5)
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(dir, "guard.db"))
	require.NoError(t, err)

	g := New(st, hm, nil)
	require.NoError(t, g.Bootstrap())
	return g, st, hm
}

func TestBootstrapRegistersBuiltins(t *testing.T) {
	_, st, _ := newTestGuard(t)

	cats, err := st.Categories(false)
	require.NoError(t, err)

	slugs := make([]string, 0, len(cats))
	for _, c := range cats {
		slugs = append(slugs, c.Slug)
		assert.Equal(t, store.SourceBuiltin, c.Source)
		assert.False(t, c.Active)
	}
	assert.Contains(t, slugs, "social_media")
	assert.Contains(t, slugs, "gaming")
	assert.Contains(t, slugs, "video")
}

func TestBlockSiteUpdatesHosts(t *testing.T) {
	g, _, hm := newTestGuard(t)

	added, err := g.BlockSite("https://www.Example.com/page")
	require.NoError(t, err)
	assert.True(t, added)

	live, err := hm.BlockedDomains()
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com"}, live)

	// Blocking again reports no change.
	added, err = g.BlockSite("example.com")
	require.NoError(t, err)
	assert.False(t, added)
}

func TestBlockSiteRejectsSystemDomain(t *testing.T) {
	g, _, _ := newTestGuard(t)

	_, err := g.BlockSite("localhost")
	assert.ErrorIs(t, err, ErrSystemDomain)
}

func TestUnblockSiteUpdatesHosts(t *testing.T) {
	g, _, hm := newTestGuard(t)

	_, err := g.BlockSite("example.com")
	require.NoError(t, err)

	removed, err := g.UnblockSite("example.com")
	require.NoError(t, err)
	assert.True(t, removed)

	live, err := hm.BlockedDomains()
	require.NoError(t, err)
	assert.Empty(t, live)

	removed, err = g.UnblockSite("example.com")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestCategoryToggleChangesBlockedSet(t *testing.T) {
	g, _, hm := newTestGuard(t)

	require.NoError(t, g.SetCategoryActive("video", true))
	live, err := hm.BlockedDomains()
	require.NoError(t, err)
	assert.Contains(t, live, "youtube.com")
	assert.Contains(t, live, "netflix.com")

	require.NoError(t, g.SetCategoryActive("video", false))
	live, err = hm.BlockedDomains()
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestTemporaryUnblockRemovesFromHosts(t *testing.T) {
	g, _, hm := newTestGuard(t)

	_, err := g.BlockSite("example.com")
	require.NoError(t, err)

	exc, err := g.TemporaryUnblock("example.com", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "example.com", exc.Domain)

	live, err := hm.BlockedDomains()
	require.NoError(t, err)
	assert.Empty(t, live)

	_, err = g.TemporaryUnblock("example.com", -time.Minute)
	assert.Error(t, err)
}

func TestSetActiveCategoriesReplacesSet(t *testing.T) {
	g, st, hm := newTestGuard(t)

	require.NoError(t, g.SetActiveCategories([]string{"video", "gaming"}))
	active, err := st.Categories(true)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	require.NoError(t, g.SetActiveCategories([]string{"gaming"}))
	active, err = st.Categories(true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "gaming", active[0].Slug)

	live, err := hm.BlockedDomains()
	require.NoError(t, err)
	assert.Contains(t, live, "roblox.com")
	assert.NotContains(t, live, "youtube.com")
}

func TestBlockedDomainsUnionsSources(t *testing.T) {
	g, _, _ := newTestGuard(t)

	_, err := g.BlockSite("manual.com")
	require.NoError(t, err)
	require.NoError(t, g.SetCategoryActive("gaming", true))

	domains, err := g.BlockedDomains()
	require.NoError(t, err)
	assert.Contains(t, domains, "manual.com")
	assert.Contains(t, domains, "roblox.com")
}

func TestStatus(t *testing.T) {
	g, _, _ := newTestGuard(t)

	_, err := g.BlockSite("example.com")
	require.NoError(t, err)
	require.NoError(t, g.SetCategoryActive("video", true))

	s, err := g.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, s.ManualBlocks)
	assert.Equal(t, []string{"video"}, s.ActiveCategories)
	assert.True(t, s.BlockedDomains > 1)
	assert.Equal(t, s.BlockedDomains, s.HostsEntries)
	assert.True(t, s.ProtectionActive)
}
