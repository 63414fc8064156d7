package edit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/beatcut/internal/download"
	"github.com/bobarin/beatcut/internal/ingest"
	"github.com/bobarin/beatcut/internal/library"
	"github.com/bobarin/beatcut/internal/models"
	"github.com/bobarin/beatcut/internal/retry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mp4Bytes = append([]byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm'}, bytes.Repeat([]byte{3}, 100)...)

type fakePlanner struct {
	plan *models.GenerateEditPlan
	err  error
	seed *int64
}

func (f *fakePlanner) Assemble(ctx context.Context, slug string, seed *int64) (*models.GenerateEditPlan, error) {
	f.seed = seed
	if f.err != nil {
		return nil, f.err
	}
	return f.plan, nil
}

type memRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*models.MediaItem
}

func (r *memRepo) CreateMediaItem(ctx context.Context, item *models.MediaItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
	return nil
}

func (r *memRepo) GetMediaItem(ctx context.Context, id uuid.UUID) (*models.MediaItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.items[id]; ok {
		return item, nil
	}
	return nil, errors.New("not found")
}

// twoClipPlan references clipURL twice and songURL once.
func twoClipPlan(clipURL, songURL string) *models.GenerateEditPlan {
	plan := &models.GenerateEditPlan{
		SongSlug:            "midnight-drive",
		Fps:                 30,
		TotalFrames:         120,
		SongDurationSeconds: 4,
		SongURL:             songURL,
	}
	for i := 0; i < 2; i++ {
		start := float64(i * 2)
		plan.Segments = append(plan.Segments, models.PlanSegment{
			Index:           i,
			Slot:            i,
			StartSeconds:    start,
			EndSeconds:      start + 2,
			DurationSeconds: 2,
			Asset:           models.PlanAsset{VideoID: "v1", Start: 0, End: 2, DurationSeconds: 2, LocalPath: clipURL},
			BeatMetadata: models.PlanBeatMetadata{
				ClipSlot:          models.ResolvedClipSlot{MusicVolume: 1},
				BeatWindowSeconds: 2,
			},
		})
	}
	return plan
}

type origin struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newOrigin(t *testing.T) *origin {
	o := &origin{hits: map[string]int{}}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.hits[r.URL.Path]++
		o.mu.Unlock()
		switch r.URL.Path {
		case "/clip.mp4":
			w.Header().Set("Content-Type", "video/mp4")
			w.Write(mp4Bytes)
		case "/song.mp3":
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte("ID3 fake song bytes"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(o.Close)
	return o
}

func newManager(t *testing.T) *download.Manager {
	t.Helper()
	b := retry.Backoff{Attempts: 2, Base: time.Millisecond, Factor: 2}
	m, err := download.NewManager(download.Options{CacheDir: t.TempDir(), Backoff: &b})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func newIngester(t *testing.T, fetcher ingest.Fetcher) *ingest.Service {
	t.Helper()
	store, err := ingest.NewBlobStore(t.TempDir())
	require.NoError(t, err)
	return ingest.New(store, &memRepo{items: map[uuid.UUID]*models.MediaItem{}}, nil, fetcher)
}

func TestRunWithoutLocalization(t *testing.T) {
	planner := &fakePlanner{plan: twoClipPlan("https://cdn.test/clip.mp4", "https://cdn.test/song.mp3")}
	p := New(planner, nil, nil, Config{AspectRatio: "1:1"})

	seed := int64(9)
	res, err := p.Run(context.Background(), Request{JobID: "job-1", SongSlug: "midnight-drive", Seed: &seed, ProjectID: "proj"})
	require.NoError(t, err)
	assert.Equal(t, &seed, planner.seed)
	assert.Nil(t, res.Localize)
	assert.Equal(t, "1:1", res.Payload.AspectRatio)
	assert.Equal(t, "job-1", res.Payload.Meta.JobID)
	assert.Equal(t, "proj", res.Payload.Meta.ProjectID)
	assert.Len(t, res.Payload.Overlays, 3)
	for _, o := range res.Payload.Overlays {
		assert.True(t, strings.HasPrefix(o.Src, "https://cdn.test/"))
	}
}

func TestRunRequiresSlugAndPropagatesAssemblyErrors(t *testing.T) {
	p := New(&fakePlanner{}, nil, nil, Config{})
	_, err := p.Run(context.Background(), Request{})
	assert.Error(t, err)

	cfgErr := &library.ConfigurationError{Slug: "nope", Reason: "format not found"}
	p = New(&fakePlanner{err: cfgErr}, nil, nil, Config{})
	_, err = p.Run(context.Background(), Request{SongSlug: "nope"})
	var target *library.ConfigurationError
	assert.True(t, errors.As(err, &target))
}

func TestLocalizeIntoMediaStore(t *testing.T) {
	o := newOrigin(t)
	manager := newManager(t)
	ingester := newIngester(t, manager)

	plan := twoClipPlan(o.URL+"/clip.mp4", o.URL+"/song.mp3")
	p := New(&fakePlanner{plan: plan}, manager, ingester, Config{MediaBaseURL: "https://api.test/", DownloadConcurrency: 2})

	var mu sync.Mutex
	var progress int
	res, err := p.Run(context.Background(), Request{SongSlug: "midnight-drive", Localize: true, OwnerID: "user-7", OnDownload: func(download.Result) {
		mu.Lock()
		progress++
		mu.Unlock()
	}})
	require.NoError(t, err)

	require.NotNil(t, res.Localize)
	assert.Equal(t, LocalizeStats{Requested: 2, Localized: 2}, *res.Localize)
	assert.Equal(t, 2, progress)
	assert.Equal(t, 1, o.hits["/clip.mp4"])
	assert.Equal(t, 0, manager.Len())
	assert.Empty(t, res.Payload.Meta.Warnings)

	for _, ov := range res.Payload.Overlays {
		assert.True(t, strings.HasPrefix(ov.Src, "https://api.test/v1/media/"), ov.Src)
		assert.True(t, strings.HasSuffix(ov.Src, "/content"))
		assert.NotEmpty(t, ov.Meta["mediaId"])
		assert.True(t, strings.HasPrefix(ov.Meta["originalSrc"].(string), o.URL))
	}

	video := res.Payload.Overlays[0]
	assert.Equal(t, video.Src, res.Payload.Overlays[1].Src)
}

func TestLocalizeSharedCacheAcrossJobs(t *testing.T) {
	o := newOrigin(t)
	manager := newManager(t)
	ingester := newIngester(t, manager)

	newJob := func() *Pipeline {
		plan := twoClipPlan(o.URL+"/clip.mp4", o.URL+"/song.mp3")
		return New(&fakePlanner{plan: plan}, manager, ingester, Config{DownloadConcurrency: 2})
	}

	// Another job still holds the song when this one finishes with it.
	held, err := manager.Acquire(context.Background(), o.URL+"/song.mp3", o.URL+"/song.mp3")
	require.NoError(t, err)

	res, err := newJob().Run(context.Background(), Request{SongSlug: "midnight-drive", Localize: true, OwnerID: "a"})
	require.NoError(t, err)
	assert.Equal(t, LocalizeStats{Requested: 2, Localized: 2}, *res.Localize)

	res2, err := ingester.Ingest(context.Background(), "b", ingest.FromBlob(held), ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", res2.Item.MimeType)
	manager.Release(held)
	assert.Equal(t, int64(0), manager.TotalBytes())

	var wg sync.WaitGroup
	results := make([]*Result, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = newJob().Run(context.Background(), Request{SongSlug: "midnight-drive", Localize: true, OwnerID: fmt.Sprintf("job-%d", i)})
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, LocalizeStats{Requested: 2, Localized: 2}, *results[i].Localize)
		assert.Empty(t, results[i].Payload.Meta.Warnings)
	}
	assert.Equal(t, 0, manager.Len())
	assert.Equal(t, int64(0), manager.TotalBytes())
}

func TestLocalizeFailureBecomesWarning(t *testing.T) {
	o := newOrigin(t)
	manager := newManager(t)

	plan := twoClipPlan(o.URL+"/clip.mp4", o.URL+"/broken.mp3")
	p := New(&fakePlanner{plan: plan}, manager, nil, Config{})

	res, err := p.Run(context.Background(), Request{SongSlug: "midnight-drive", Localize: true})
	require.NoError(t, err)

	assert.Equal(t, LocalizeStats{Requested: 2, Localized: 1, Failed: 1}, *res.Localize)
	require.Len(t, res.Payload.Meta.Warnings, 1)
	assert.Contains(t, res.Payload.Meta.Warnings[0], "broken.mp3")

	for _, ov := range res.Payload.Overlays {
		if ov.Type == models.OverlayTypeVideo {
			assert.True(t, strings.HasPrefix(ov.Src, "file://"), ov.Src)
		} else {
			assert.Equal(t, o.URL+"/broken.mp3", ov.Src)
		}
	}
	assert.Equal(t, 1, manager.Len())
}

func TestLocalizeWithoutFetcherWarns(t *testing.T) {
	plan := twoClipPlan("https://cdn.test/clip.mp4", "https://cdn.test/song.mp3")
	p := New(&fakePlanner{plan: plan}, nil, nil, Config{})

	res, err := p.Run(context.Background(), Request{SongSlug: "midnight-drive", Localize: true})
	require.NoError(t, err)
	assert.Nil(t, res.Localize)
	assert.Len(t, res.Payload.Meta.Warnings, 1)
}

func TestRemoteSources(t *testing.T) {
	payload := &models.GenerateEditImportPayload{Overlays: []models.Overlay{
		{Src: "/clips/local.mp4"},
		{Src: "https://cdn.test/a.mp4"},
		{Src: "http://cdn.test/b.mp4"},
		{Src: "https://cdn.test/a.mp4"},
		{Src: "file:///tmp/c.mp4"},
	}}
	assert.Equal(t, []string{"https://cdn.test/a.mp4", "http://cdn.test/b.mp4"}, RemoteSources(payload))

	p := New(nil, nil, nil, Config{})
	assert.Equal(t, "/v1/media/abc/content", p.MediaURL("abc"))
}
