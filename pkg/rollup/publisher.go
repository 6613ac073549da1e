package rollup

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Sink durably stores a snapshot before it becomes visible
type Sink interface {
	Write(ctx context.Context, snap *Snapshot) error
}

// Loader returns the most recent durable snapshot, or ErrNoSnapshot
type Loader interface {
	Latest(ctx context.Context) (*Snapshot, error)
}

// Publisher makes snapshots visible to readers with a single pointer swap
type Publisher struct {
	current atomic.Pointer[Snapshot]
	sinks   []Sink
}

// NewPublisher creates a publisher that writes every sink before swapping
func NewPublisher(sinks ...Sink) *Publisher {
	return &Publisher{sinks: sinks}
}

// Publish writes snap to every sink, then makes it current. If ctx is already cancelled
// or a sink fails, the previous snapshot stays current. Once the sinks have committed
// the snapshot becomes current even if ctx is cancelled meanwhile, so memory never
// lags what a warm start would load.
func (p *Publisher) Publish(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, sink := range p.sinks {
		if err := sink.Write(ctx, snap); err != nil {
			return fmt.Errorf("failed to write rollup snapshot %s: %w", snap.Version, err)
		}
	}
	p.current.Store(snap)
	return nil
}

// Current returns the published snapshot
func (p *Publisher) Current() (*Snapshot, error) {
	snap := p.current.Load()
	if snap == nil {
		return nil, ErrNoSnapshot
	}
	return snap, nil
}

// Published reports whether any snapshot has been made current
func (p *Publisher) Published() bool {
	return p.current.Load() != nil
}

// WarmStart loads the latest durable snapshot and makes it current, unless a run has
// already published. It returns false when the loader has nothing stored.
func (p *Publisher) WarmStart(ctx context.Context, loader Loader) (bool, error) {
	snap, err := loader.Latest(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load latest rollup snapshot: %w", err)
	}
	return p.current.CompareAndSwap(nil, snap), nil
}
