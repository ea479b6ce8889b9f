package processing

import (
	"context"
	"errors"

	"github.com/minasoft/hl7-liteboard/internal/db"
	"github.com/minasoft/hl7-liteboard/internal/store"
)

// Status is the polling view of a message.
type Status struct {
	MessageID string             `json:"message_id"`
	State     db.ProcessingState `json:"status"`
	Progress  int                `json:"progress"`
	Step      string             `json:"current_step"`
}

var progress = map[db.ProcessingState]struct {
	percent int
	step    string
}{
	db.StatePending:    {10, "Queued"},
	db.StateProcessing: {50, "Converting"},
	db.StatePartial:    {75, "Partially completed"},
	db.StateCompleted:  {100, "Completed"},
	db.StateFailed:     {0, "Failed"},
}

// Progress maps a state to its fixed percentage and step label.
func Progress(state db.ProcessingState) (int, string) {
	p, ok := progress[state]
	if !ok {
		return 0, "Unknown"
	}
	return p.percent, p.step
}

type stateReader interface {
	GetState(ctx context.Context, id string) (db.ProcessingState, error)
}

// StatusTracker reports the last persisted state. It never sees an
// intermediate state that was not persisted.
type StatusTracker struct {
	store stateReader
}

func NewStatusTracker(st stateReader) *StatusTracker {
	return &StatusTracker{store: st}
}

// Status returns nil and no error when id is unknown.
func (t *StatusTracker) Status(ctx context.Context, id string) (*Status, error) {
	state, err := t.store.GetState(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	percent, step := Progress(state)
	return &Status{
		MessageID: id,
		State:     state,
		Progress:  percent,
		Step:      step,
	}, nil
}
