package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/license-resolver/internal/progress"
)

const defaultStatusHistory = 16

// PassStatus is the latest known state of one pass.
type PassStatus struct {
	RunID      string            `json:"run_id"`
	Running    bool              `json:"running"`
	StartedAt  time.Time         `json:"started_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Counters   progress.Counters `json:"counters"`
	LastURLID  string            `json:"last_url_id,omitempty"`
	LastResult progress.Result   `json:"last_result,omitempty"`
	LastLabel  string            `json:"last_label,omitempty"`
	Elapsed    time.Duration     `json:"elapsed_ns"`
}

// StatusBoard keeps the most recent passes in memory for the status server.
type StatusBoard struct {
	mu      sync.RWMutex
	limit   int
	order   []string
	entries map[string]*PassStatus
}

// NewStatusBoard returns a board remembering up to limit passes.
func NewStatusBoard(limit int) *StatusBoard {
	if limit <= 0 {
		limit = defaultStatusHistory
	}
	return &StatusBoard{limit: limit, entries: make(map[string]*PassStatus)}
}

// Consume folds the batch into the board.
func (b *StatusBoard) Consume(_ context.Context, batch []progress.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, evt := range batch {
		st := b.entry(evt)
		st.UpdatedAt = evt.TS
		st.Counters = evt.Counters
		switch evt.Stage {
		case progress.StagePassStart:
			st.Running = true
			st.StartedAt = evt.TS
		case progress.StageRecordDone:
			st.LastURLID = evt.URLID
			st.LastResult = evt.Result
			st.LastLabel = evt.Label
		case progress.StagePassDone:
			st.Running = false
			st.Elapsed = evt.Elapsed
		}
	}
	return nil
}

func (b *StatusBoard) entry(evt progress.Event) *PassStatus {
	if st, ok := b.entries[evt.RunID]; ok {
		return st
	}
	st := &PassStatus{RunID: evt.RunID, StartedAt: evt.TS}
	b.entries[evt.RunID] = st
	b.order = append(b.order, evt.RunID)
	if len(b.order) > b.limit {
		delete(b.entries, b.order[0])
		b.order = b.order[1:]
	}
	return st
}

// Recent returns copies of the remembered passes, newest first.
func (b *StatusBoard) Recent() []PassStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PassStatus, 0, len(b.order))
	for i := len(b.order) - 1; i >= 0; i-- {
		out = append(out, *b.entries[b.order[i]])
	}
	return out
}

// Latest returns the newest pass, if any.
func (b *StatusBoard) Latest() (PassStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.order) == 0 {
		return PassStatus{}, false
	}
	return *b.entries[b.order[len(b.order)-1]], true
}

// Close implements the Sink interface; it performs no action.
func (b *StatusBoard) Close(context.Context) error {
	return nil
}
