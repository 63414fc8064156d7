package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/beatcut/internal/edit"
	"github.com/bobarin/beatcut/internal/models"
	"github.com/bobarin/beatcut/internal/queue"
	"github.com/bobarin/beatcut/internal/slotplan"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.EditJob
	done chan uuid.UUID
}

func newMemStore(jobs ...*models.EditJob) *memStore {
	s := &memStore{jobs: map[uuid.UUID]*models.EditJob{}, done: make(chan uuid.UUID, 8)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) GetEditJob(ctx context.Context, id uuid.UUID) (*models.EditJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, errors.New("edit job not found")
	}
	c := *j
	return &c, nil
}

func (s *memStore) MarkEditJobRunning(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return errors.New("edit job not found")
	}
	j.Status = models.JobStatusRunning
	j.Attempts++
	return nil
}

func (s *memStore) CompleteEditJob(ctx context.Context, id uuid.UUID, payload models.JSONB) error {
	s.mu.Lock()
	j := s.jobs[id]
	j.Status = models.JobStatusSucceeded
	j.Payload = payload
	s.mu.Unlock()
	s.done <- id
	return nil
}

func (s *memStore) FailEditJob(ctx context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	j := s.jobs[id]
	j.Status = models.JobStatusFailed
	j.ErrorMessage = &msg
	s.mu.Unlock()
	s.done <- id
	return nil
}

type chanQueue struct {
	jobs chan *queue.Job
}

func (q *chanQueue) Dequeue(ctx context.Context, name string, timeout time.Duration) (*queue.Job, error) {
	select {
	case j := <-q.jobs:
		return j, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeRunner struct {
	mu   sync.Mutex
	reqs []edit.Request
	err  error
}

func (r *fakeRunner) Run(ctx context.Context, req edit.Request) (*edit.Result, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return &edit.Result{Payload: &models.GenerateEditImportPayload{
		Overlays: []models.Overlay{},
		Fps:      30,
		Meta:     models.PayloadMeta{JobID: req.JobID, SongSlug: req.SongSlug, Warnings: []string{}},
	}}, nil
}

type fakeUploader struct {
	paths  []string
	err    error
	urlErr error
}

func (u *fakeUploader) UploadJSON(ctx context.Context, path string, v interface{}) error {
	u.paths = append(u.paths, path)
	return u.err
}

func (u *fakeUploader) PublishedURL(ctx context.Context, path string) (string, error) {
	if u.urlErr != nil {
		return "", u.urlErr
	}
	return "https://storage.test/" + path, nil
}

func newJob(slug string) *models.EditJob {
	project := "proj-1"
	song := "https://cdn.test/override.mp3"
	seed := int64(11)
	return &models.EditJob{ID: uuid.New(), SongSlug: slug, ProjectID: &project, SongURL: &song, Seed: &seed, Localize: true, Status: models.JobStatusQueued}
}

func TestHandleJobSucceeds(t *testing.T) {
	job := newJob("midnight-drive")
	store := newMemStore(job)
	runner := &fakeRunner{}
	uploader := &fakeUploader{}
	w := New(store, nil, uploader, runner)

	require.NoError(t, w.HandleJob(context.Background(), job.ID))

	require.Len(t, runner.reqs, 1)
	req := runner.reqs[0]
	assert.Equal(t, job.ID.String(), req.JobID)
	assert.Equal(t, "proj-1", req.ProjectID)
	assert.Equal(t, "https://cdn.test/override.mp3", req.SongURL)
	assert.Equal(t, int64(11), *req.Seed)
	assert.True(t, req.Localize)

	assert.Equal(t, []string{"edits/" + job.ID.String() + "/payload.json"}, uploader.paths)

	got := store.jobs[job.ID]
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 30.0, got.Payload["fps"])
	meta := got.Payload["meta"].(map[string]interface{})
	assert.Equal(t, "https://storage.test/edits/"+job.ID.String()+"/payload.json", meta["renderUrl"])
}

func TestHandleJobWithoutPublishedURL(t *testing.T) {
	job := newJob("midnight-drive")
	store := newMemStore(job)
	w := New(store, nil, &fakeUploader{urlErr: errors.New("sign failed")}, &fakeRunner{})

	require.NoError(t, w.HandleJob(context.Background(), job.ID))

	got := store.jobs[job.ID]
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	meta := got.Payload["meta"].(map[string]interface{})
	assert.NotContains(t, meta, "renderUrl")
	warnings := meta["warnings"].([]interface{})
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "sign failed")
}

func TestHandleJobRecordsRawAssemblyError(t *testing.T) {
	job := newJob("midnight-drive")
	store := newMemStore(job)
	assemblyErr := &slotplan.CandidateExhaustionError{Slot: 3, TargetDuration: 1.5, Available: 4}
	w := New(store, nil, nil, &fakeRunner{err: assemblyErr})

	err := w.HandleJob(context.Background(), job.ID)
	var target *slotplan.CandidateExhaustionError
	require.True(t, errors.As(err, &target))

	got := store.jobs[job.ID]
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, assemblyErr.Error(), *got.ErrorMessage)
}

func TestUploadFailureIsAWarning(t *testing.T) {
	job := newJob("midnight-drive")
	store := newMemStore(job)
	w := New(store, nil, &fakeUploader{err: errors.New("status 503")}, &fakeRunner{})

	require.NoError(t, w.HandleJob(context.Background(), job.ID))

	got := store.jobs[job.ID]
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	meta := got.Payload["meta"].(map[string]interface{})
	warnings := meta["warnings"].([]interface{})
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "status 503")
	assert.NotContains(t, meta, "renderUrl")
}

func TestStartDrainsQueueAndStops(t *testing.T) {
	a, b := newJob("a"), newJob("b")
	store := newMemStore(a, b)
	q := &chanQueue{jobs: make(chan *queue.Job, 3)}
	w := New(store, q, nil, &fakeRunner{})
	w.pollWait = 10 * time.Millisecond

	q.jobs <- &queue.Job{ID: uuid.New(), Type: "something_else"}
	q.jobs <- &queue.Job{ID: a.ID, Type: queue.JobTypeAssembleEdit, SongSlug: "a"}
	q.jobs <- &queue.Job{ID: b.ID, Type: queue.JobTypeAssembleEdit, SongSlug: "b"}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Start(ctx, 2)
		close(stopped)
	}()

	seen := map[uuid.UUID]bool{}
	for len(seen) < 2 {
		select {
		case id := <-store.done:
			seen[id] = true
		case <-time.After(5 * time.Second):
			t.Fatal("jobs were not processed")
		}
	}
	cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.Equal(t, models.JobStatusSucceeded, store.jobs[a.ID].Status)
	assert.Equal(t, models.JobStatusSucceeded, store.jobs[b.ID].Status)
}
