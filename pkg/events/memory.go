package events

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"
)

// MemoryLog is an in-process Log. Appends and reads may run concurrently; a scan
// sees the events that were present when it started.
type MemoryLog struct {
	mu     sync.RWMutex
	events []*Event // ordered by id
	nextID int64
	opts   options
}

// NewMemoryLog creates an empty in-memory log
func NewMemoryLog(opts ...Option) *MemoryLog {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryLog{opts: o}
}

// Append stores a copy of the event and returns its id
func (l *MemoryLog) Append(ctx context.Context, event *Event) (int64, error) {
	if err := event.Validate(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	stored := event.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = l.opts.now()
	}
	stored.CreatedAt = stored.CreatedAt.UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	stored.ID = l.nextID
	l.events = append(l.events, stored)

	return stored.ID, nil
}

// Scan yields matching events in the window ordered by created_at, then id
func (l *MemoryLog) Scan(ctx context.Context, window TimeRange, filter Filter) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		if err := window.Validate(); err != nil {
			yield(nil, err)
			return
		}

		l.mu.RLock()
		matched := make([]*Event, 0, len(l.events)/4)
		for _, e := range l.events {
			if window.Contains(e.CreatedAt) && filter.Match(e) {
				matched = append(matched, e)
			}
		}
		l.mu.RUnlock()

		sort.SliceStable(matched, func(i, j int) bool {
			if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].CreatedAt.Before(matched[j].CreatedAt)
			}
			return matched[i].ID < matched[j].ID
		})

		for _, e := range matched {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(e.Clone(), nil) {
				return
			}
		}
	}
}

// Since returns up to limit events with id > afterID
func (l *MemoryLog) Since(ctx context.Context, afterID int64, limit int) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := sort.Search(len(l.events), func(i int) bool {
		return l.events[i].ID > afterID
	})

	end := len(l.events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]*Event, 0, end-start)
	for _, e := range l.events[start:end] {
		out = append(out, e.Clone())
	}
	return out, nil
}

// Purge removes events created before the cutoff
func (l *MemoryLog) Purge(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return l.remove(func(e *Event) bool { return e.CreatedAt.Before(before) }), nil
}

// PurgeIDs removes the events with the given ids
func (l *MemoryLog) PurgeIDs(ctx context.Context, ids []int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	return l.remove(func(e *Event) bool {
		_, ok := drop[e.ID]
		return ok
	}), nil
}

func (l *MemoryLog) remove(match func(e *Event) bool) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.events[:0]
	var purged int64
	for _, e := range l.events {
		if match(e) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	// Drop references held past the new length
	for i := len(kept); i < len(l.events); i++ {
		l.events[i] = nil
	}
	l.events = kept

	return purged
}

// Len returns the number of stored events
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
