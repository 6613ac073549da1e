package counters

import (
	"context"
	"hash/fnv"
	"sync"
)

const memoryStripes = 64

// MemoryStore keeps counters in a map. Updates to one player serialize on that
// player's stripe lock; different players proceed in parallel.
type MemoryStore struct {
	stripes [memoryStripes]sync.Mutex

	mu       sync.RWMutex
	counters map[string]PlayerCounters

	opts options
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]PlayerCounters),
		opts:     buildOptions(opts),
	}
}

func (s *MemoryStore) stripe(playerID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(playerID))
	return &s.stripes[h.Sum32()%memoryStripes]
}

// Upsert applies delta under the player's stripe lock
func (s *MemoryStore) Upsert(ctx context.Context, playerID string, delta DeltaFunc) (PlayerCounters, error) {
	if err := validatePlayerID(playerID); err != nil {
		return PlayerCounters{}, err
	}

	return upsert(ctx, s.opts, "memory", func() (PlayerCounters, error) {
		if err := ctx.Err(); err != nil {
			return PlayerCounters{}, err
		}

		lock := s.stripe(playerID)
		lock.Lock()
		defer lock.Unlock()

		s.mu.RLock()
		current, ok := s.counters[playerID]
		s.mu.RUnlock()
		if !ok {
			current = newCounters(playerID, s.opts.now())
		}

		next := apply(delta, current, !ok)

		s.mu.Lock()
		s.counters[playerID] = next
		s.mu.Unlock()

		return next, nil
	})
}

// Get returns the counters for playerID
func (s *MemoryStore) Get(ctx context.Context, playerID string) (PlayerCounters, error) {
	if err := ctx.Err(); err != nil {
		return PlayerCounters{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pc, ok := s.counters[playerID]
	if !ok {
		return PlayerCounters{}, ErrNotFound
	}
	return pc, nil
}

// Len returns the number of players with counters
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.counters)
}
