package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(id string, failedAt time.Time) *Entry {
	return &Entry{
		TaskID:       id,
		Label:        "demo",
		FailedAt:     failedAt,
		FailureCount: 3,
		Errors:       []string{"first", "second", "third"},
	}
}

func TestDLQ_PushPopRoundTrip(t *testing.T) {
	ctx := context.Background()
	dlq := NewDeadLetterQueue(DLQConfig{})

	require.NoError(t, dlq.Push(ctx, newEntry("t1", time.Now())))
	assert.Equal(t, 1, dlq.Len())

	entry, err := dlq.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", entry.TaskID)
	assert.Equal(t, "demo", entry.Label)
	assert.Equal(t, 3, entry.FailureCount)
	assert.Len(t, entry.Errors, 3)
	assert.Equal(t, 0, dlq.Len())
}

func TestDLQ_PeekDoesNotRemove(t *testing.T) {
	ctx := context.Background()
	dlq := NewDeadLetterQueue(DLQConfig{})

	require.NoError(t, dlq.Push(ctx, newEntry("t1", time.Now())))

	entry, err := dlq.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t1", entry.TaskID)
	assert.Equal(t, 1, dlq.Len())
}

func TestDLQ_PopEmpty(t *testing.T) {
	dlq := NewDeadLetterQueue(DLQConfig{})
	_, err := dlq.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestDLQ_OnEntryCallback(t *testing.T) {
	ctx := context.Background()
	called := make(chan *Entry, 1)
	dlq := NewDeadLetterQueue(DLQConfig{
		OnEntry: func(e *Entry) { called <- e },
	})

	require.NoError(t, dlq.Push(ctx, newEntry("t1", time.Now())))

	select {
	case e := <-called:
		assert.Equal(t, "t1", e.TaskID)
	case <-time.After(time.Second):
		t.Fatal("OnEntry was not called")
	}
}

func TestDLQ_MaxSize(t *testing.T) {
	ctx := context.Background()
	dlq := NewDeadLetterQueue(DLQConfig{MaxSize: 1})

	require.NoError(t, dlq.Push(ctx, newEntry("t1", time.Now())))
	assert.ErrorIs(t, dlq.Push(ctx, newEntry("t2", time.Now())), ErrQueueFull)
}

func TestDLQ_CleanupDropsExpired(t *testing.T) {
	ctx := context.Background()
	dlq := NewDeadLetterQueue(DLQConfig{Retention: time.Hour})

	require.NoError(t, dlq.Push(ctx, newEntry("old", time.Now().Add(-2*time.Hour))))
	require.NoError(t, dlq.Push(ctx, newEntry("fresh", time.Now())))

	require.NoError(t, dlq.Cleanup(ctx))
	assert.Equal(t, 1, dlq.Len())

	entry, err := dlq.Peek(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", entry.TaskID)
}

func TestDLQ_CleanupWithoutRetention(t *testing.T) {
	ctx := context.Background()
	dlq := NewDeadLetterQueue(DLQConfig{})

	require.NoError(t, dlq.Push(ctx, newEntry("old", time.Now().Add(-24*time.Hour))))
	require.NoError(t, dlq.Cleanup(ctx))
	assert.Equal(t, 1, dlq.Len(), "retention 0 keeps everything")
}
