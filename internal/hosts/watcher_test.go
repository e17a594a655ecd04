package hosts

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileRepairsDrift(t *testing.T) {
	m, path := newTestManager(t)
	require.NoError(t, m.Apply([]string{"example.com"}))

	// Someone edits the managed section out by hand.
	require.NoError(t, os.WriteFile(path, []byte(baseHosts), 0o644))

	w := NewWatcher(m, func() ([]string, error) {
		return []string{"example.com"}, nil
	})
	w.reconcile()

	live, err := m.BlockedDomains()
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com"}, live)
}

func TestReconcileLeavesMatchingStateAlone(t *testing.T) {
	m, path := newTestManager(t)
	require.NoError(t, m.Apply([]string{"example.com"}))

	before, err := os.ReadFile(path)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)

	w := NewWatcher(m, func() ([]string, error) {
		return []string{"example.com"}, nil
	})
	w.reconcile()

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	// No rewrite happened, so the inode was not replaced.
	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), info2.ModTime())
}

func TestSameSet(t *testing.T) {
	assert.True(t, sameSet([]string{"a", "b"}, []string{"b", "a"}))
	assert.False(t, sameSet([]string{"a"}, []string{"a", "b"}))
	assert.False(t, sameSet([]string{"a"}, []string{"b"}))
	assert.True(t, sameSet(nil, nil))
}
