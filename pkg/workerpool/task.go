package workerpool

import (
	"time"

	"github.com/google/uuid"
)

// Task is a unit of work owned by the pool from submission until it has run
// to completion. The function takes no arguments and its return value is
// consumed by the pool; results never flow back to the submitter.
type Task struct {
	ID      string       // unique task identifier
	Label   string       // optional caller-supplied grouping label
	Fn      func() error // task body
	Created time.Time
}

func newTask(label string, fn func() error) *Task {
	return &Task{
		ID:      uuid.NewString(),
		Label:   label,
		Fn:      fn,
		Created: time.Now(),
	}
}
