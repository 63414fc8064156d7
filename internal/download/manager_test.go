package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobarin/beatcut/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mp4Head = []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0}

type fakeOrigin struct {
	mu   sync.Mutex
	hits map[string]int
	srv  *httptest.Server
}

// newOrigin serves paths from handler while counting hits per path.
func newOrigin(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, hit int)) *fakeOrigin {
	t.Helper()
	o := &fakeOrigin{hits: map[string]int{}}
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.Path]++
		hit := o.hits[r.URL.Path]
		o.mu.Unlock()
		handler(w, r, hit)
	}))
	t.Cleanup(o.srv.Close)
	return o
}

func (o *fakeOrigin) url(path string) string { return o.srv.URL + path }

func (o *fakeOrigin) count(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func newTestManager(t *testing.T, capBytes int64) *Manager {
	t.Helper()
	b := retry.Backoff{Attempts: 5, Base: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2, AttemptTimeout: 5 * time.Second}
	m, err := NewManager(Options{CacheDir: t.TempDir(), CapBytes: capBytes, Backoff: &b})
	require.NoError(t, err)
	t.Cleanup(m.ClearAll)
	return m
}

func serveBytes(contentType string, body []byte) func(http.ResponseWriter, *http.Request, int) {
	return func(w http.ResponseWriter, r *http.Request, hit int) {
		w.Header().Set("Content-Type", contentType)
		w.Write(body)
	}
}

func TestDownloadFetchesOnce(t *testing.T) {
	origin := newOrigin(t, serveBytes("video/mp4", append(mp4Head, []byte("payload")...)))
	m := newTestManager(t, 0)

	first, err := m.Download(context.Background(), "clip-1", origin.url("/clip.mp4"))
	require.NoError(t, err)
	second, err := m.Download(context.Background(), "clip-1", origin.url("/clip.mp4"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, origin.count("/clip.mp4"))
	assert.Equal(t, int64(len(mp4Head)+7), first.Bytes)
	assert.True(t, strings.HasPrefix(first.ObjectURL, "file://"))
	assert.Equal(t, origin.url("/clip.mp4"), first.OriginalURL)

	data, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, first.Bytes, int64(len(data)))
}

func TestConcurrentDownloadsShareOneFetch(t *testing.T) {
	release := make(chan struct{})
	origin := newOrigin(t, func(w http.ResponseWriter, r *http.Request, hit int) {
		<-release
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(mp4Head)
	})
	m := newTestManager(t, 0)

	var wg sync.WaitGroup
	handles := make([]*Handle, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := m.Download(context.Background(), "same", origin.url("/same.mp4"))
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, origin.count("/same.mp4"))
	for _, h := range handles[1:] {
		assert.Equal(t, handles[0], h)
	}
	assert.Equal(t, 1, m.Len())
}

func TestDownloadManyToleratesOneFailure(t *testing.T) {
	origin := newOrigin(t, func(w http.ResponseWriter, r *http.Request, hit int) {
		if r.URL.Path == "/3.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(mp4Head)
	})
	m := newTestManager(t, 0)

	var items []Item
	for i := 1; i <= 5; i++ {
		items = append(items, Item{ID: fmt.Sprintf("clip-%d", i), URL: origin.url(fmt.Sprintf("/%d.mp4", i))})
	}

	var reported int32
	results := m.DownloadMany(context.Background(), items, ManyOptions{
		Concurrency: 2,
		OnResult:    func(Result) { atomic.AddInt32(&reported, 1) },
	})

	require.Len(t, results, 5)
	assert.Equal(t, int32(5), reported)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, items[i].ID, r.ID)
		if i == 2 {
			var dlErr *DownloadError
			require.True(t, errors.As(r.Err, &dlErr))
			assert.Equal(t, 5, dlErr.Attempts)
			var status *StatusError
			require.True(t, errors.As(r.Err, &status))
			assert.Equal(t, http.StatusNotFound, status.StatusCode)
			assert.Nil(t, r.Handle)
			continue
		}
		assert.NoError(t, r.Err)
		assert.NotNil(t, r.Handle)
	}
	assert.Equal(t, 5, origin.count("/3.mp4"))
	assert.Equal(t, 4, m.Len())
}

func TestLockedIsRetriedUntilReady(t *testing.T) {
	origin := newOrigin(t, func(w http.ResponseWriter, r *http.Request, hit int) {
		if hit < 3 {
			w.WriteHeader(http.StatusLocked)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(mp4Head)
	})
	m := newTestManager(t, 0)

	h, err := m.Download(context.Background(), "locked", origin.url("/locked.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", h.ContentType)
	assert.Equal(t, 3, origin.count("/locked.mp4"))
}

func TestServerErrorIsNotRetried(t *testing.T) {
	origin := newOrigin(t, func(w http.ResponseWriter, r *http.Request, hit int) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	m := newTestManager(t, 0)

	_, err := m.Download(context.Background(), "broken", origin.url("/broken.mp4"))

	var status *StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusInternalServerError, status.StatusCode)
	assert.Equal(t, 1, origin.count("/broken.mp4"))
}

func TestFailedFetchIsNotCached(t *testing.T) {
	origin := newOrigin(t, func(w http.ResponseWriter, r *http.Request, hit int) {
		if hit == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(mp4Head)
	})
	m := newTestManager(t, 0)

	_, err := m.Download(context.Background(), "flaky", origin.url("/flaky.mp4"))
	require.Error(t, err)
	assert.Equal(t, 0, m.Len())

	h, err := m.Download(context.Background(), "flaky", origin.url("/flaky.mp4"))
	require.NoError(t, err)
	assert.NotNil(t, h)
}

func TestEmptyPayloadIsIntegrityError(t *testing.T) {
	origin := newOrigin(t, serveBytes("video/mp4", nil))
	m := newTestManager(t, 0)

	_, err := m.Download(context.Background(), "empty", origin.url("/empty.mp4"))

	var integrity *IntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Equal(t, 1, origin.count("/empty.mp4"))
	assert.Equal(t, int64(0), m.TotalBytes())
}

func TestMislabelledVideoIsRecovered(t *testing.T) {
	origin := newOrigin(t, func(w http.ResponseWriter, r *http.Request, hit int) {
		if r.URL.Path == "/video" {
			w.Header().Set("Content-Type", "application/octet-stream")
			w.Write(append(mp4Head, 1, 2, 3))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello there, not a video"))
	})
	m := newTestManager(t, 0)

	h, err := m.Download(context.Background(), "video", origin.url("/video"))
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", h.ContentType)
	assert.True(t, strings.HasSuffix(h.Path, ".mp4"))

	h, err = m.Download(context.Background(), "text", origin.url("/text"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", h.ContentType)
}

func TestQuotaRejectsOnlyTheCrossingItem(t *testing.T) {
	body := make([]byte, 100)
	copy(body, mp4Head)
	origin := newOrigin(t, func(w http.ResponseWriter, r *http.Request, hit int) {
		w.Header().Set("Content-Type", "video/mp4")
		if r.URL.Path == "/small" {
			w.Write(body[:50])
			return
		}
		w.Write(body)
	})
	m := newTestManager(t, 250)

	for _, id := range []string{"a", "b"} {
		_, err := m.Download(context.Background(), id, origin.url("/"+id))
		require.NoError(t, err)
	}

	_, err := m.Download(context.Background(), "c", origin.url("/c"))
	var quota *QuotaExceededError
	require.True(t, errors.As(err, &quota))
	assert.Equal(t, int64(100), quota.Incoming)
	assert.Equal(t, int64(200), quota.Current)

	assert.Equal(t, int64(200), m.TotalBytes())
	assert.Equal(t, 2, m.Len())

	_, err = m.Download(context.Background(), "small", origin.url("/small"))
	require.NoError(t, err)
	assert.Equal(t, int64(250), m.TotalBytes())
	assert.LessOrEqual(t, m.TotalBytes(), m.CapBytes())
}

func TestRevokeAndClearAll(t *testing.T) {
	origin := newOrigin(t, serveBytes("video/mp4", mp4Head))
	m := newTestManager(t, 0)

	h, err := m.Download(context.Background(), "x", origin.url("/x.mp4"))
	require.NoError(t, err)

	assert.True(t, m.Revoke("x"))
	assert.False(t, m.Revoke("x"))
	_, statErr := os.Stat(h.Path)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, int64(0), m.TotalBytes())

	_, err = m.Download(context.Background(), "x", origin.url("/x.mp4"))
	require.NoError(t, err)
	assert.Equal(t, 2, origin.count("/x.mp4"))

	y, err := m.Download(context.Background(), "y", origin.url("/y.mp4"))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, int64(0), m.TotalBytes())
	_, statErr = os.Stat(y.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadManyStopsOnCancel(t *testing.T) {
	origin := newOrigin(t, serveBytes("video/mp4", mp4Head))
	m := newTestManager(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []Item{{ID: "a", URL: origin.url("/a")}, {ID: "b", URL: origin.url("/b")}, {ID: "c", URL: origin.url("/c")}}
	results := m.DownloadMany(ctx, items, ManyOptions{Concurrency: 2})

	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Equal(t, 0, origin.count("/a")+origin.count("/b")+origin.count("/c"))
}

func TestRevokeWaitsForLeases(t *testing.T) {
	origin := newOrigin(t, serveBytes("audio/mpeg", []byte("ID3 song")))
	m := newTestManager(t, 0)
	ctx := context.Background()

	a, err := m.Acquire(ctx, "song", origin.url("/song.mp3"))
	require.NoError(t, err)
	b, err := m.Acquire(ctx, "song", origin.url("/song.mp3"))
	require.NoError(t, err)
	assert.Equal(t, a.Path, b.Path)
	assert.Equal(t, 1, origin.count("/song.mp3"))

	// First job is done with the song.
	m.Release(a)
	assert.True(t, m.Revoke("song"))
	assert.Equal(t, 0, m.Len())

	data, err := os.ReadFile(b.Path)
	require.NoError(t, err, "second job still holds a lease")
	assert.Equal(t, "ID3 song", string(data))
	assert.Equal(t, int64(8), m.TotalBytes())

	m.Release(b)
	_, statErr := os.Stat(b.Path)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, int64(0), m.TotalBytes())

	// Extra releases are ignored.
	m.Release(b)
	assert.Equal(t, int64(0), m.TotalBytes())
}

func TestReleaseWithoutRevokeKeepsEntry(t *testing.T) {
	origin := newOrigin(t, serveBytes("video/mp4", mp4Head))
	m := newTestManager(t, 0)

	h, err := m.Acquire(context.Background(), "x", origin.url("/x.mp4"))
	require.NoError(t, err)
	m.Release(h)

	cached, ok := m.Get("x")
	require.True(t, ok)
	_, statErr := os.Stat(cached.Path)
	assert.NoError(t, statErr)

	assert.True(t, m.Revoke("x"))
	_, statErr = os.Stat(cached.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadManyLeases(t *testing.T) {
	origin := newOrigin(t, serveBytes("video/mp4", mp4Head))
	m := newTestManager(t, 0)

	items := []Item{{ID: "a", URL: origin.url("/a.mp4")}, {ID: "b", URL: origin.url("/b.mp4")}}
	results := m.DownloadMany(context.Background(), items, ManyOptions{Lease: true})
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.True(t, m.Revoke(r.ID))
		_, statErr := os.Stat(r.Handle.Path)
		assert.NoError(t, statErr, r.ID)
		m.Release(r.Handle)
		_, statErr = os.Stat(r.Handle.Path)
		assert.True(t, os.IsNotExist(statErr), r.ID)
	}
	assert.Equal(t, int64(0), m.TotalBytes())
}

func TestClearAllRemovesLeasedFiles(t *testing.T) {
	origin := newOrigin(t, serveBytes("video/mp4", mp4Head))
	m := newTestManager(t, 0)

	h, err := m.Acquire(context.Background(), "x", origin.url("/x.mp4"))
	require.NoError(t, err)
	m.Revoke("x")

	m.ClearAll()
	_, statErr := os.Stat(h.Path)
	assert.True(t, os.IsNotExist(statErr))
	assert.Equal(t, int64(0), m.TotalBytes())
}

func TestCancelledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	origin := newOrigin(t, func(w http.ResponseWriter, r *http.Request, hit int) {
		<-release
		w.Header().Set("Content-Type", "video/mp4")
		w.Write(mp4Head)
	})
	defer close(release)
	m := newTestManager(t, 0)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := m.Download(ctx, "x", origin.url("/x.mp4"))
		first <- err
	}()

	require.Eventually(t, func() bool { return origin.count("/x.mp4") == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	second := make(chan error, 1)
	go func() {
		_, err := m.Download(context.Background(), "x", origin.url("/x.mp4"))
		second <- err
	}()
	release <- struct{}{}

	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, 1, origin.count("/x.mp4"))
	assert.Equal(t, 1, m.Len())
}
