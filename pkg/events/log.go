package events

import (
	"context"
	"iter"
	"time"
)

// Log is the append-only event store.
type Log interface {
	// Append validates and stores an event, returning its id.
	Append(ctx context.Context, event *Event) (int64, error)

	// Scan yields events in the window ordered by created_at, then id.
	Scan(ctx context.Context, window TimeRange, filter Filter) iter.Seq2[*Event, error]

	// Since returns up to limit events with id > afterID, ordered by id.
	Since(ctx context.Context, afterID int64, limit int) ([]*Event, error)

	// Purge deletes events created before the cutoff and returns how many were removed.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// PurgeIDs deletes exactly the given events and returns how many were removed.
	// Unknown ids are ignored.
	PurgeIDs(ctx context.Context, ids []int64) (int64, error)
}

// TimeRange is a half-open [From, To) window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Validate rejects windows that are open-ended or empty.
func (r TimeRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return ErrUnboundedScan
	}
	return nil
}

// Contains reports whether t falls inside the window.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Filter narrows a scan. Zero values match everything.
type Filter struct {
	Names      []string
	Categories []string
	PlayerID   string
}

// Match reports whether the event passes the filter.
func (f Filter) Match(e *Event) bool {
	if f.PlayerID != "" && e.PlayerID != f.PlayerID {
		return false
	}
	if len(f.Names) > 0 && !contains(f.Names, e.Name) {
		return false
	}
	if len(f.Categories) > 0 && !contains(f.Categories, e.Category) {
		return false
	}
	return true
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// Option configures a Log implementation.
type Option func(*options)

type options struct {
	now func() time.Time
}

func defaultOptions() options {
	return options{now: time.Now}
}

// WithClock sets the clock used to stamp events that arrive without created_at.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
