package persistence

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one dead-lettered task.
type Entry struct {
	TaskID       string    `json:"task_id"`
	Label        string    `json:"label,omitempty"`
	FailedAt     time.Time `json:"failed_at"`
	FailureCount int       `json:"failure_count"`
	Errors       []string  `json:"errors"`
}

// DLQConfig configures a dead letter queue.
type DLQConfig struct {
	MaxSize   int           // entries beyond this are rejected by the storage
	Retention time.Duration // Cleanup drops entries older than this; 0 keeps forever
	Storage   Queue         // where entries live; defaults to a MemoryQueue
	OnEntry   func(*Entry)  // called (on its own goroutine) for every new entry
}

// DeadLetterQueue stores tasks that exhausted their retries, so failures
// can be inspected and replayed instead of vanishing into a log line.
type DeadLetterQueue struct {
	storage   Queue
	retention time.Duration
	onEntry   func(*Entry)
}

// NewDeadLetterQueue creates a DLQ over cfg.Storage.
func NewDeadLetterQueue(cfg DLQConfig) *DeadLetterQueue {
	storage := cfg.Storage
	if storage == nil {
		storage = NewMemoryQueue(cfg.MaxSize)
	}
	return &DeadLetterQueue{
		storage:   storage,
		retention: cfg.Retention,
		onEntry:   cfg.OnEntry,
	}
}

// Push records a dead-lettered task.
func (dlq *DeadLetterQueue) Push(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	item := &Item{
		ID:        entry.TaskID,
		Data:      data,
		CreatedAt: entry.FailedAt,
	}
	if err := dlq.storage.Push(ctx, item); err != nil {
		return err
	}

	if dlq.onEntry != nil {
		go dlq.onEntry(entry)
	}
	return nil
}

// Pop removes and returns the oldest entry. The entry is acked immediately;
// callers that want to replay it are expected to resubmit the task
// themselves.
func (dlq *DeadLetterQueue) Pop(ctx context.Context) (*Entry, error) {
	item, err := dlq.storage.Pop(ctx)
	if err != nil {
		return nil, err
	}
	if err := dlq.storage.Ack(ctx, item.ID); err != nil {
		return nil, err
	}
	return decodeEntry(item)
}

// Peek returns the oldest entry without removing it.
func (dlq *DeadLetterQueue) Peek(ctx context.Context) (*Entry, error) {
	item, err := dlq.storage.Peek(ctx)
	if err != nil {
		return nil, err
	}
	return decodeEntry(item)
}

// Cleanup drops entries older than the retention period.
func (dlq *DeadLetterQueue) Cleanup(ctx context.Context) error {
	if dlq.retention == 0 {
		return nil
	}
	cutoff := time.Now().Add(-dlq.retention)

	for {
		entry, err := dlq.Peek(ctx)
		if err == ErrQueueEmpty {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.FailedAt.After(cutoff) {
			return nil
		}
		if _, err := dlq.Pop(ctx); err != nil {
			return err
		}
	}
}

// Len returns the number of stored entries.
func (dlq *DeadLetterQueue) Len() int {
	return dlq.storage.Len()
}

// Close closes the underlying storage.
func (dlq *DeadLetterQueue) Close() error {
	return dlq.storage.Close()
}

func decodeEntry(item *Item) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(item.Data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
