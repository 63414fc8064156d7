package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests talk to a real Redis and are skipped unless REDIS_TEST_URL is set.
func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	q, err := New(url)
	require.NoError(t, err)
	t.Cleanup(func() {
		q.client.Del(context.Background(), QueueAssembleEdit)
		q.Close()
	})
	q.client.Del(context.Background(), QueueAssembleEdit)
	return q
}

func TestAssembleEditRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id := uuid.New()
	seed := int64(42)
	require.NoError(t, q.EnqueueAssembleEdit(ctx, id, "midnight-drive", &seed, true))

	n, err := q.GetQueueLength(ctx, QueueAssembleEdit)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	job, err := q.Dequeue(ctx, QueueAssembleEdit, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, JobTypeAssembleEdit, job.Type)
	assert.Equal(t, "midnight-drive", job.SongSlug)
	require.NotNil(t, job.Seed)
	assert.Equal(t, int64(42), *job.Seed)
	assert.True(t, job.Localize)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestDequeueTimesOutEmpty(t *testing.T) {
	q := newTestQueue(t)

	job, err := q.Dequeue(context.Background(), QueueAssembleEdit, time.Second)
	assert.NoError(t, err)
	assert.Nil(t, job)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("not a redis url")
	assert.Error(t, err)
}
