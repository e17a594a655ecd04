// Package blacklist imports category domain lists from the Université
// Toulouse 1 Capitole collection. Each category is published as a tar.gz
// archive containing a "domains" file with one domain per line.
package blacklist

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"homeguard/internal/domain"
	"homeguard/internal/logger"
	"homeguard/internal/store"
)

var ErrNoDomains = errors.New("archive contains no domains file")

// minArchiveSize guards against error pages served with status 200.
const minArchiveSize = 1024

// maxListSize caps how much of one archive we are willing to read.
const maxListSize = 64 << 20

type Updater struct {
	store      *store.Store
	baseURL    string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
}

func NewUpdater(st *store.Store, baseURL string, maxRetries int, retryDelay time.Duration) *Updater {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	return &Updater{
		store:      st,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		client:     &http.Client{Timeout: 2 * time.Minute},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Update downloads one category list and replaces its stored domain set.
// Transient download failures are retried with a doubling delay.
func (u *Updater) Update(category string) (int, error) {
	url := fmt.Sprintf("%s/%s.tar.gz", u.baseURL, category)

	var body []byte
	var err error
	delay := u.retryDelay
	for attempt := 1; attempt <= u.maxRetries; attempt++ {
		body, err = u.download(url)
		if err == nil {
			break
		}
		logger.Warnf("download %s attempt %d/%d: %v", category, attempt, u.maxRetries, err)
		if attempt < u.maxRetries {
			time.Sleep(delay)
			delay *= 2
		}
	}
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", category, err)
	}

	domains, err := extractDomains(body)
	if err != nil {
		return 0, fmt.Errorf("extract %s: %w", category, err)
	}
	if len(domains) == 0 {
		return 0, fmt.Errorf("category %s: list is empty", category)
	}

	n, err := u.store.ReplaceCategoryDomains(category, domains)
	if err != nil {
		return 0, fmt.Errorf("store %s: %w", category, err)
	}
	logger.Infof("updated blacklist %s: %d domains", category, n)
	return n, nil
}

// UpdateAll refreshes every list-sourced category and returns per-category
// counts. One failing category does not abort the rest.
func (u *Updater) UpdateAll() (map[string]int, error) {
	cats, err := u.store.Categories(false)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	var firstErr error
	for _, c := range cats {
		if c.Source != store.SourceList {
			continue
		}
		n, err := u.Update(c.Slug)
		if err != nil {
			logger.Errorf("update category %s: %v", c.Slug, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		counts[c.Slug] = n
	}
	return counts, firstErr
}

func (u *Updater) download(url string) ([]byte, error) {
	resp, err := u.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListSize))
	if err != nil {
		return nil, err
	}
	if len(body) < minArchiveSize {
		return nil, fmt.Errorf("archive too small (%d bytes)", len(body))
	}
	return body, nil
}

// extractDomains walks the archive looking for a file named "domains" and
// parses it. Entry names are normalized through path.Clean and anything that
// escapes upward is skipped.
func extractDomains(archive []byte) ([]string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, ErrNoDomains
		}
		if err != nil {
			return nil, fmt.Errorf("tar: %w", err)
		}
		name := path.Clean(hdr.Name)
		if strings.HasPrefix(name, "..") || path.IsAbs(name) {
			continue
		}
		if hdr.Typeflag != tar.TypeReg || path.Base(name) != "domains" {
			continue
		}
		return parseDomains(tr)
	}
}

func parseDomains(r io.Reader) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d, err := domain.Normalize(line)
		if err != nil {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read domains: %w", err)
	}
	return out, nil
}
