// Package status tracks background cache operations, such as preload
// jobs, with progress reporting and a bounded history.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/objectfs/iconcache/pkg/errors"
)

// OperationStatus represents the status of a tracked operation
type OperationStatus int

const (
	// StatusInProgress indicates the operation is currently executing
	StatusInProgress OperationStatus = iota

	// StatusCompleted indicates the operation ran to the end. Individual
	// items may still have failed; see Summary.
	StatusCompleted

	// StatusCanceled indicates the operation was canceled
	StatusCanceled
)

// String returns the string representation of an operation status
func (s OperationStatus) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s OperationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Operation is a tracked operation
type Operation struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Status    OperationStatus        `json:"status"`
	Progress  *Progress              `json:"progress,omitempty"`
	Summary   *Summary               `json:"summary,omitempty"`
	StartTime time.Time              `json:"start_time"`
	EndTime   *time.Time             `json:"end_time,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Summary is the outcome of a finished operation
type Summary struct {
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Progress tracks the progress of an operation
type Progress struct {
	Current    int64          `json:"current"`
	Total      int64          `json:"total"`
	Percentage float64        `json:"percentage"`
	Rate       float64        `json:"rate,omitempty"` // items per second
	ETA        *time.Duration `json:"eta,omitempty"`

	started time.Time
}

// Tracker tracks active operations and keeps the most recent finished
// ones. It is safe for concurrent use.
type Tracker struct {
	mu         sync.RWMutex
	operations map[string]*Operation
	history    []*Operation
	maxHistory int
	now        func() time.Time
}

// TrackerConfig configures operation tracking behavior
type TrackerConfig struct {
	MaxHistorySize int `json:"max_history_size" yaml:"max_history_size"`
}

// DefaultTrackerConfig returns default configuration
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxHistorySize: 50,
	}
}

// NewTracker creates a new operation tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = DefaultTrackerConfig().MaxHistorySize
	}

	return &Tracker{
		operations: make(map[string]*Operation),
		history:    make([]*Operation, 0, config.MaxHistorySize),
		maxHistory: config.MaxHistorySize,
		now:        time.Now,
	}
}

// Begin starts tracking operation id. For an id that is already active
// or finished only the type and metadata are filled in, so progress
// reported from another goroutine before Begin is kept.
func (t *Tracker) Begin(id, opType string, total int, metadata map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.operations[id]
	if !ok {
		op = t.finishedLocked(id)
	}
	if op != nil {
		if op.Type == "" {
			op.Type = opType
		}
		for k, v := range metadata {
			op.Metadata[k] = v
		}
		return
	}
	op = t.startLocked(id, opType)
	for k, v := range metadata {
		op.Metadata[k] = v
	}
	op.Progress.update(0, int64(total), t.now())
}

// UpdateProgress records that current of total items are done. An
// unknown id starts a new operation of unknown type.
func (t *Tracker) UpdateProgress(id string, current, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.operations[id]
	if !ok {
		if t.finishedLocked(id) != nil {
			return
		}
		op = t.startLocked(id, "")
	}
	op.Progress.update(int64(current), int64(total), t.now())
}

// Finish moves operation id to the history with the given summary.
func (t *Tracker) Finish(id string, summary Summary, canceled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.operations[id]
	if !ok {
		if t.finishedLocked(id) != nil {
			return
		}
		op = t.startLocked(id, "")
	}

	now := t.now()
	op.EndTime = &now
	op.Summary = &summary
	op.Status = StatusCompleted
	if canceled {
		op.Status = StatusCanceled
	}

	delete(t.operations, id)
	t.history = append([]*Operation{op}, t.history...)
	if len(t.history) > t.maxHistory {
		t.history = t.history[:t.maxHistory]
	}
}

// GetOperation returns a copy of operation id, active or finished.
func (t *Tracker) GetOperation(id string) (*Operation, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if op, ok := t.operations[id]; ok {
		return op.Copy(), nil
	}
	if op := t.finishedLocked(id); op != nil {
		return op.Copy(), nil
	}
	return nil, errors.NewError(errors.ErrCodeOperationNotFound, "operation not found").
		WithComponent("status").WithContext("operation_id", id)
}

// Active returns copies of the running operations, oldest first.
func (t *Tracker) Active() []*Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ops := make([]*Operation, 0, len(t.operations))
	for _, op := range t.operations {
		ops = append(ops, op.Copy())
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].StartTime.Equal(ops[j].StartTime) {
			return ops[i].ID < ops[j].ID
		}
		return ops[i].StartTime.Before(ops[j].StartTime)
	})
	return ops
}

// History returns up to limit finished operations, most recent first.
// A limit of zero or less returns all of them.
func (t *Tracker) History(limit int) []*Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}

	result := make([]*Operation, limit)
	for i := range result {
		result[i] = t.history[i].Copy()
	}
	return result
}

func (t *Tracker) startLocked(id, opType string) *Operation {
	now := t.now()
	op := &Operation{
		ID:        id,
		Type:      opType,
		Status:    StatusInProgress,
		StartTime: now,
		Progress:  &Progress{started: now},
		Metadata:  make(map[string]interface{}),
	}
	t.operations[id] = op
	return op
}

func (t *Tracker) finishedLocked(id string) *Operation {
	for _, op := range t.history {
		if op.ID == id {
			return op
		}
	}
	return nil
}

// Copy creates a deep copy of an operation
func (o *Operation) Copy() *Operation {
	c := *o
	c.Metadata = make(map[string]interface{}, len(o.Metadata))
	for k, v := range o.Metadata {
		c.Metadata[k] = v
	}
	if o.Progress != nil {
		p := *o.Progress
		if o.Progress.ETA != nil {
			eta := *o.Progress.ETA
			p.ETA = &eta
		}
		c.Progress = &p
	}
	if o.Summary != nil {
		s := *o.Summary
		c.Summary = &s
	}
	if o.EndTime != nil {
		end := *o.EndTime
		c.EndTime = &end
	}
	return &c
}

// update recomputes percentage, rate and ETA from the average rate since
// the operation started.
func (p *Progress) update(current, total int64, now time.Time) {
	p.Current = current
	p.Total = total
	p.Percentage = 0
	p.Rate = 0
	p.ETA = nil

	if total > 0 {
		p.Percentage = float64(current) / float64(total) * 100
	}

	elapsed := now.Sub(p.started).Seconds()
	if current > 0 && elapsed > 0 {
		p.Rate = float64(current) / elapsed
		if total > current {
			eta := time.Duration(float64(total-current) / p.Rate * float64(time.Second))
			p.ETA = &eta
		}
	}
}
