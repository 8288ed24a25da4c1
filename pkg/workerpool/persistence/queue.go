// Package persistence provides durable task queues and a dead letter queue
// for the worker pool. Implementations exist for process memory, Redis and
// Postgres behind one Queue interface.
package persistence

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueEmpty is returned when the queue has no items.
	ErrQueueEmpty = errors.New("persistence: queue is empty")
	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("persistence: queue is full")
	// ErrNotProcessing is returned when acking an item that was never popped.
	ErrNotProcessing = errors.New("persistence: item is not being processed")
)

// Item is one queued payload. Data is opaque to the queue.
type Item struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	Attempts  int       `json:"attempts"`
}

// Queue is a FIFO with at-least-once delivery: Pop moves an item into a
// processing set, Ack drops it, Nack requeues it.
type Queue interface {
	Push(ctx context.Context, item *Item) error
	Pop(ctx context.Context) (*Item, error)
	Peek(ctx context.Context) (*Item, error)
	Ack(ctx context.Context, itemID string) error
	Nack(ctx context.Context, itemID string) error
	Len() int
	Close() error
}

// MemoryQueue is the in-process Queue implementation.
type MemoryQueue struct {
	mu         sync.RWMutex
	items      []*Item
	processing map[string]*Item
	maxSize    int // 0 means unbounded
}

// NewMemoryQueue creates an in-process queue. maxSize 0 means unbounded.
func NewMemoryQueue(maxSize int) *MemoryQueue {
	return &MemoryQueue{
		processing: make(map[string]*Item),
		maxSize:    maxSize,
	}
}

func (q *MemoryQueue) Push(ctx context.Context, item *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, ErrQueueEmpty
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.processing[item.ID] = item
	return item, nil
}

func (q *MemoryQueue) Peek(ctx context.Context) (*Item, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.items) == 0 {
		return nil, ErrQueueEmpty
	}
	return q.items[0], nil
}

func (q *MemoryQueue) Ack(ctx context.Context, itemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.processing[itemID]; !ok {
		return ErrNotProcessing
	}
	delete(q.processing, itemID)
	return nil
}

func (q *MemoryQueue) Nack(ctx context.Context, itemID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.processing[itemID]
	if !ok {
		return ErrNotProcessing
	}
	delete(q.processing, itemID)
	item.Attempts++
	q.items = append(q.items, item)
	return nil
}

func (q *MemoryQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

func (q *MemoryQueue) Close() error {
	return nil
}
