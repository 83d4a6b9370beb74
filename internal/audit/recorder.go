package audit

import (
	"context"
	"time"
)

// recordTimeout bounds a single audit insert.
const recordTimeout = 2 * time.Second

// Logger is the subset of the structured logger the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder writes entries on behalf of request handlers.
// A nil *Recorder discards everything.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder wraps repo. logger receives insert failures.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Record stores e. The insert runs detached from ctx's cancellation so a
// client disconnecting after a write still leaves a trail.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, &e); err != nil && r.logger != nil {
		r.logger.Warn("audit entry not stored",
			"action", e.Action, "entity_type", e.EntityType, "entity_id", e.EntityID, "error", err)
	}
}

// List returns a page of entries.
func (r *Recorder) List(ctx context.Context, filter Filter) (*Page, error) {
	if r == nil || r.repo == nil {
		return &Page{Entries: []Entry{}, Limit: clampLimit(filter.Limit)}, nil
	}
	return r.repo.List(ctx, filter)
}

// Prune deletes entries older than retention. A non-positive retention
// keeps everything.
func (r *Recorder) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if r == nil || r.repo == nil || retention <= 0 {
		return 0, nil
	}
	return r.repo.Prune(ctx, time.Now().Add(-retention))
}
