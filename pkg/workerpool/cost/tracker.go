// Package cost accumulates per-label execution cost for pool tasks, using
// exact decimal arithmetic so the numbers can feed billing directly.
package cost

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Config prices task execution. TaskBase is charged once per task,
// PerMillisecond for every millisecond of wall time.
type Config struct {
	TaskBase       decimal.Decimal
	PerMillisecond decimal.Decimal
}

// DefaultConfig charges nothing per task and 0.0001 per millisecond.
func DefaultConfig() Config {
	return Config{
		TaskBase:       decimal.Zero,
		PerMillisecond: decimal.NewFromFloat(0.0001),
	}
}

// LabelCost is the accumulated cost for one label.
type LabelCost struct {
	Label string          `json:"label"`
	Tasks int64           `json:"tasks"`
	Spent time.Duration   `json:"spent"`
	Cost  decimal.Decimal `json:"cost"`
}

// Tracker accumulates cost per task label. Safe for concurrent use.
type Tracker struct {
	cfg Config

	mu     sync.Mutex
	labels map[string]*LabelCost
}

// NewTracker creates a tracker with the given pricing.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:    cfg,
		labels: make(map[string]*LabelCost),
	}
}

// Record charges one task execution of the given duration to label.
// An empty label is accounted under "default".
func (t *Tracker) Record(label string, d time.Duration) {
	if label == "" {
		label = "default"
	}

	cost := t.cfg.TaskBase.Add(
		t.cfg.PerMillisecond.Mul(decimal.NewFromInt(d.Milliseconds())))

	t.mu.Lock()
	defer t.mu.Unlock()

	lc, ok := t.labels[label]
	if !ok {
		lc = &LabelCost{Label: label}
		t.labels[label] = lc
	}
	lc.Tasks++
	lc.Spent += d
	lc.Cost = lc.Cost.Add(cost)
}

// Totals returns a snapshot of every label's accumulated cost.
func (t *Tracker) Totals() []LabelCost {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]LabelCost, 0, len(t.labels))
	for _, lc := range t.labels {
		out = append(out, *lc)
	}
	return out
}

// Total returns the summed cost across all labels.
func (t *Tracker) Total() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := decimal.Zero
	for _, lc := range t.labels {
		total = total.Add(lc.Cost)
	}
	return total
}
