package retention

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/playerpulse/pkg/events"
)

// Archiver stores one day of expiring events
type Archiver interface {
	Archive(ctx context.Context, day time.Time, evs []*events.Event) error
}

// ArchiveKey returns the object key for a day's archive
func ArchiveKey(day time.Time) string {
	d := events.Day(day)
	return fmt.Sprintf("events/%04d/%02d/%02d.jsonl", d.Year(), int(d.Month()), d.Day())
}

// EncodeJSONL writes one JSON object per line
func EncodeJSONL(evs []*events.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range evs {
		if err := enc.Encode(e); err != nil {
			return nil, fmt.Errorf("failed to encode event %d: %w", e.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// MergeJSONL appends the events whose ids are not already in existing.
// It returns the merged archive and its line count, so re-archiving a day is idempotent.
func MergeJSONL(existing []byte, evs []*events.Event) ([]byte, int, error) {
	seen := make(map[int64]struct{})
	sc := bufio.NewScanner(bytes.NewReader(existing))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var line struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return nil, 0, fmt.Errorf("failed to decode archived event: %w", err)
		}
		seen[line.ID] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read archive: %w", err)
	}

	fresh := make([]*events.Event, 0, len(evs))
	for _, e := range evs {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		fresh = append(fresh, e)
	}
	data, err := EncodeJSONL(fresh)
	if err != nil {
		return nil, 0, err
	}

	merged := make([]byte, 0, len(existing)+len(data))
	merged = append(merged, existing...)
	if len(merged) > 0 && merged[len(merged)-1] != '\n' {
		merged = append(merged, '\n')
	}
	return append(merged, data...), len(seen), nil
}

// MemoryArchiver keeps archives in process, keyed like the S3 archive
type MemoryArchiver struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryArchiver creates an empty in-memory archive
func NewMemoryArchiver() *MemoryArchiver {
	return &MemoryArchiver{objects: make(map[string][]byte)}
}

// Archive merges the day's events into its object
func (a *MemoryArchiver) Archive(ctx context.Context, day time.Time, evs []*events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	key := ArchiveKey(day)
	data, _, err := MergeJSONL(a.objects[key], evs)
	if err != nil {
		return err
	}
	a.objects[key] = data
	return nil
}

// Object returns a copy of the stored archive for key
func (a *MemoryArchiver) Object(key string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[key]
	return bytes.Clone(data), ok
}

// Len returns the number of stored objects
func (a *MemoryArchiver) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.objects)
}
