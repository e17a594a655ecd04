package blacklist

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeguard/internal/store"
)

func makeArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	// Pad past the small-response check; tar's zero-block trailer usually does
	// this already but tiny fixtures can come in under it.
	out := buf.Bytes()
	if len(out) < minArchiveSize {
		// Incompressible padding so the gzip output clears the threshold.
		pad := make([]byte, minArchiveSize)
		_, err := rand.Read(pad)
		require.NoError(t, err)
		var padded bytes.Buffer
		gz2 := gzip.NewWriter(&padded)
		tw2 := tar.NewWriter(gz2)
		for name, content := range files {
			require.NoError(t, tw2.WriteHeader(&tar.Header{
				Name:     name,
				Typeflag: tar.TypeReg,
				Mode:     0o644,
				Size:     int64(len(content)),
			}))
			_, err := tw2.Write([]byte(content))
			require.NoError(t, err)
		}
		require.NoError(t, tw2.WriteHeader(&tar.Header{
			Name:     "padding.bin",
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(pad)),
		}))
		_, err = tw2.Write(pad)
		require.NoError(t, err)
		require.NoError(t, tw2.Close())
		require.NoError(t, gz2.Close())
		out = padded.Bytes()
	}
	return out
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "guard.db"))
	require.NoError(t, err)
	require.NoError(t, s.UpsertCategory(store.Category{Slug: "adult", Source: store.SourceList}))
	return s
}

func TestUpdateDownloadsAndStores(t *testing.T) {
	archive := makeArchive(t, map[string]string{
		"adult/domains": "bad.com\nworse.com\n# comment\n\nWWW.Dup.com\ndup.com\n",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/adult.tar.gz", r.URL.Path)
		w.Write(archive)
	}))
	defer srv.Close()

	st := newTestStore(t)
	u := NewUpdater(st, srv.URL, 1, time.Millisecond)

	n, err := u.Update("adult")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	domains, err := st.CategoryDomains("adult")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bad.com", "worse.com", "dup.com"}, domains)
}

func TestUpdateRetriesThenFails(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	u := NewUpdater(newTestStore(t), srv.URL, 3, time.Millisecond)
	_, err := u.Update("adult")
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestUpdateRejectsTinyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not found"))
	}))
	defer srv.Close()

	u := NewUpdater(newTestStore(t), srv.URL, 1, time.Millisecond)
	_, err := u.Update("adult")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too small")
}

func TestUpdateRejectsArchiveWithoutDomainsFile(t *testing.T) {
	archive := makeArchive(t, map[string]string{"adult/urls": "http://bad.com/x\n"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	u := NewUpdater(newTestStore(t), srv.URL, 1, time.Millisecond)
	_, err := u.Update("adult")
	assert.ErrorIs(t, err, ErrNoDomains)
}

func TestExtractSkipsTraversalEntries(t *testing.T) {
	archive := makeArchive(t, map[string]string{
		"../../etc/domains": "evil.com\n",
		"adult/domains":     "listed.com\n",
	})
	domains, err := extractDomains(archive)
	require.NoError(t, err)
	assert.Equal(t, []string{"listed.com"}, domains)
}

func TestParseDomainsNormalizes(t *testing.T) {
	in := strings.NewReader("Example.COM\nwww.other.org\nnot a domain!\n#skip\n")
	domains, err := parseDomains(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com", "other.org"}, domains)
}
