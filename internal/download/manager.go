// Package download fetches remote media into a local, quota-bounded cache.
// Every id is fetched at most once per Manager; repeat calls share the
// cached entry until it is revoked. Callers that read an entry's file after
// another goroutine might revoke it take a lease with Acquire.
package download

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bobarin/beatcut/internal/retry"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DefaultCapBytes is 2 GiB.
const DefaultCapBytes int64 = 2 << 30

const DefaultUserAgent = "beatcut/1.0"

// maxFetchTime bounds a fetch when the backoff has no per-attempt timeout.
const maxFetchTime = 10 * time.Minute

type Options struct {
	// CacheDir holds the cached files. Defaults to a fresh temp directory.
	CacheDir string

	// CapBytes is the most the cache may hold at once.
	CapBytes int64

	HTTPClient *http.Client

	// Backoff defaults to retry.DefaultBackoff().
	Backoff *retry.Backoff

	UserAgent string
}

// Handle is a cached download.
type Handle struct {
	ID          string `json:"id"`
	ObjectURL   string `json:"objectUrl"`
	Path        string `json:"path"`
	Bytes       int64  `json:"bytes"`
	ContentType string `json:"contentType"`
	OriginalURL string `json:"originalUrl"`
}

type Manager struct {
	cacheDir  string
	capBytes  int64
	client    *http.Client
	backoff   retry.Backoff
	userAgent string

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*Handle
	total   int64

	// leases counts outstanding Acquire calls per file path. A revoked
	// entry with leases left stays on disk, and in total, until the last
	// one is released.
	leases   map[string]int
	draining map[string]int64
}

func NewManager(opts Options) (*Manager, error) {
	dir := opts.CacheDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "beatcut-cache-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
		dir = tmp
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir %s: %w", dir, err)
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache dir: %w", err)
	}

	m := &Manager{
		cacheDir:  dir,
		capBytes:  opts.CapBytes,
		client:    opts.HTTPClient,
		backoff:   retry.DefaultBackoff(),
		userAgent: opts.UserAgent,
		entries:   make(map[string]*Handle),
		leases:    make(map[string]int),
		draining:  make(map[string]int64),
	}
	if m.capBytes <= 0 {
		m.capBytes = DefaultCapBytes
	}
	if m.client == nil {
		m.client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if opts.Backoff != nil {
		m.backoff = *opts.Backoff
	}
	if m.userAgent == "" {
		m.userAgent = DefaultUserAgent
	}
	return m, nil
}

// CacheDir is where entries are written.
func (m *Manager) CacheDir() string { return m.cacheDir }

// CapBytes is the cache quota.
func (m *Manager) CapBytes() int64 { return m.capBytes }

// Download returns the cached entry for id, fetching rawURL first if there
// is none. Concurrent calls for the same id share one fetch, which runs
// detached from any single caller: a caller whose ctx ends gets ctx.Err()
// while the others keep waiting. Failed fetches are not remembered, so a
// later call tries again.
func (m *Manager) Download(ctx context.Context, id, rawURL string) (*Handle, error) {
	if id == "" {
		id = rawURL
	}
	if h, ok := m.Get(id); ok {
		return h, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := m.group.DoChan(id, func() (interface{}, error) {
		if h, ok := m.Get(id); ok {
			return h, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchBudget())
		defer cancel()
		return m.fetch(fetchCtx, id, rawURL)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			log.Printf("[Download] %s: joined in-flight fetch", id)
		}
		h := *res.Val.(*Handle)
		return &h, nil
	}
}

// Acquire is Download plus a lease on the returned entry. The entry's file
// stays on disk until the lease is given back with Release, even if the
// entry is revoked in the meantime.
func (m *Manager) Acquire(ctx context.Context, id, rawURL string) (*Handle, error) {
	if id == "" {
		id = rawURL
	}
	for attempt := 0; attempt < 5; attempt++ {
		h, err := m.Download(ctx, id, rawURL)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if cur, ok := m.entries[id]; ok && cur.Path == h.Path {
			m.leases[h.Path]++
			m.mu.Unlock()
			return h, nil
		}
		m.mu.Unlock()
		// Revoked between the fetch and the lease; fetch again.
	}
	return nil, fmt.Errorf("failed to lease %s: entry kept being revoked", id)
}

// Release gives back a lease taken by Acquire. Releasing the last lease on
// a revoked entry deletes its file.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	n := m.leases[h.Path]
	if n <= 0 {
		m.mu.Unlock()
		return
	}
	if n > 1 {
		m.leases[h.Path] = n - 1
		m.mu.Unlock()
		return
	}
	delete(m.leases, h.Path)
	size, revoked := m.draining[h.Path]
	if revoked {
		delete(m.draining, h.Path)
		m.total -= size
	}
	m.mu.Unlock()

	if revoked {
		removeFile(h.Path)
	}
}

// fetchBudget bounds a detached fetch: every attempt at its timeout plus
// the longest sleep between them.
func (m *Manager) fetchBudget() time.Duration {
	if m.backoff.AttemptTimeout <= 0 {
		return maxFetchTime
	}
	attempts := m.backoff.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts) * (m.backoff.AttemptTimeout + m.backoff.Max)
}

// Get returns the cached entry for id without fetching.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	c := *h
	return &c, true
}

func (m *Manager) fetch(ctx context.Context, id, rawURL string) (*Handle, error) {
	log.Printf("[Download] Fetching %s from %s", id, rawURL)
	start := time.Now()

	var (
		tmpPath     string
		size        int64
		contentType string
		attempts    int
	)

	err := retry.Do(ctx, "download "+id, m.backoff, classify, func(ctx context.Context, attempt int) error {
		attempts = attempt
		p, n, ct, err := m.fetchOnce(ctx, id, rawURL)
		if err != nil {
			return err
		}
		tmpPath, size, contentType = p, n, ct
		return nil
	})
	if err != nil {
		var integrity *IntegrityError
		var quota *QuotaExceededError
		if errors.As(err, &integrity) || errors.As(err, &quota) {
			return nil, err
		}
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.Err
		}
		log.Printf("[Download] %s failed after %d attempt(s): %v", id, attempts, err)
		return nil, &DownloadError{ID: id, URL: rawURL, Attempts: attempts, Err: err}
	}

	h, err := m.admit(id, tmpPath, size, contentType, rawURL)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	log.Printf("[Download] Cached %s: %d bytes (%s) in %v", id, size, contentType, time.Since(start).Round(time.Millisecond))
	return h, nil
}

// fetchOnce performs a single GET, streaming the body to a temp file.
func (m *Manager) fetchOnce(ctx context.Context, id, rawURL string) (string, int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", m.userAgent)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", 0, "", &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	if resp.ContentLength > m.capBytes {
		return "", 0, "", &QuotaExceededError{ID: id, Incoming: resp.ContentLength, Current: m.TotalBytes(), Cap: m.capBytes}
	}

	tmp, err := os.CreateTemp(m.cacheDir, ".partial-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("failed to create cache file: %w", err)
	}
	tmpPath := tmp.Name()

	// Never stream more than the cap onto disk.
	body := bufio.NewReaderSize(io.LimitReader(resp.Body, m.capBytes+1), sniffLen)
	head, _ := body.Peek(sniffLen)
	head = append([]byte(nil), head...)

	n, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return "", 0, "", fmt.Errorf("failed to read body: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", 0, "", fmt.Errorf("failed to write cache file: %w", closeErr)
	}

	if n == 0 {
		os.Remove(tmpPath)
		return "", 0, "", &IntegrityError{ID: id, Reason: "payload is empty"}
	}
	if n > m.capBytes {
		os.Remove(tmpPath)
		return "", 0, "", &QuotaExceededError{ID: id, Incoming: n, Current: m.TotalBytes(), Cap: m.capBytes}
	}

	contentType := ResolveContentType(resp.Header.Get("Content-Type"), head)
	return tmpPath, n, contentType, nil
}

// admit checks the quota and records the entry. The check and the update
// happen under one lock so concurrent admissions cannot overshoot the cap.
func (m *Manager) admit(id, srcPath string, size int64, contentType, originalURL string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.entries[id]; ok {
		c := *existing
		return &c, nil
	}
	if m.total+size > m.capBytes {
		log.Printf("[Download] Rejected %s: %d bytes would exceed quota (%d/%d in use)", id, size, m.total, m.capBytes)
		return nil, &QuotaExceededError{ID: id, Incoming: size, Current: m.total, Cap: m.capBytes}
	}

	finalPath := filepath.Join(m.cacheDir, uuid.NewString()+ExtensionFor(contentType, originalURL))
	if err := os.Rename(srcPath, finalPath); err != nil {
		return nil, fmt.Errorf("failed to move %s into cache: %w", id, err)
	}

	h := &Handle{
		ID:          id,
		ObjectURL:   FileURL(finalPath),
		Path:        finalPath,
		Bytes:       size,
		ContentType: contentType,
		OriginalURL: originalURL,
	}
	m.entries[id] = h
	m.total += size

	c := *h
	return &c, nil
}

// Revoke drops the entry for id and deletes its file, or defers the delete
// to the last Release while leases are out. It reports whether there was an
// entry. A revoked id is fetched again on the next Download.
func (m *Manager) Revoke(id string) bool {
	m.mu.Lock()
	h, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.entries, id)
	if m.leases[h.Path] > 0 {
		m.draining[h.Path] = h.Bytes
		m.mu.Unlock()
		log.Printf("[Download] Revoked %s; file kept until %d lease(s) are released", id, m.leases[h.Path])
		return true
	}
	m.total -= h.Bytes
	m.mu.Unlock()

	removeFile(h.Path)
	return true
}

// ClearAll drops every entry, leased or not.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	entries := m.entries
	draining := m.draining
	m.entries = make(map[string]*Handle)
	m.leases = make(map[string]int)
	m.draining = make(map[string]int64)
	m.total = 0
	m.mu.Unlock()

	for _, h := range entries {
		removeFile(h.Path)
	}
	for path := range draining {
		removeFile(path)
	}
	if n := len(entries) + len(draining); n > 0 {
		log.Printf("[Download] Cleared %d cached entries", n)
	}
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[Download] Failed to remove %s: %v", path, err)
	}
}

// Close releases everything the manager holds. Call it on shutdown.
func (m *Manager) Close() error {
	m.ClearAll()
	return nil
}

// TotalBytes counts every file the cache holds, including revoked entries
// still under lease.
func (m *Manager) TotalBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// FileURL is the object URL for a local file.
func FileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// classify decides which failures are worth another attempt.
func classify(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return status.Transient()
	}
	var integrity *IntegrityError
	var quota *QuotaExceededError
	if errors.As(err, &integrity) || errors.As(err, &quota) {
		return false
	}
	return retry.IsNetworkError(err)
}
