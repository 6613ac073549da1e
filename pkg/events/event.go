package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid event")

	// ErrMalformedParameter matches every *MalformedParameterError.
	ErrMalformedParameter = errors.New("malformed parameter")

	// ErrUnboundedScan is returned when a scan window is missing an end.
	ErrUnboundedScan = errors.New("scan window must be bounded")
)

// Event is an immutable player action.
type Event struct {
	ID         int64          `json:"id"`
	PlayerID   string         `json:"player_id"`
	Name       string         `json:"event_name"`
	Category   string         `json:"event_category,omitempty"`
	Priority   int            `json:"event_priority,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	Platform   string         `json:"platform,omitempty"`
	AppVersion string         `json:"app_version,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ValidationError describes why an event was rejected at ingestion.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// MalformedParameterError reports a parameter that is missing or not numeric.
type MalformedParameterError struct {
	EventID   int64
	EventName string
	Parameter string
	Value     any
}

func (e *MalformedParameterError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("event %d (%s): parameter %q is missing", e.EventID, e.EventName, e.Parameter)
	}
	return fmt.Sprintf("event %d (%s): parameter %q is not numeric: %v", e.EventID, e.EventName, e.Parameter, e.Value)
}

// Is reports whether target is ErrMalformedParameter.
func (e *MalformedParameterError) Is(target error) bool {
	return target == ErrMalformedParameter
}

// Validate checks the fields the log requires.
func (e *Event) Validate() error {
	if e == nil {
		return &ValidationError{Field: "event", Reason: "is nil"}
	}
	if strings.TrimSpace(e.PlayerID) == "" {
		return &ValidationError{Field: "player_id", Reason: "is required"}
	}
	if strings.TrimSpace(e.Name) == "" {
		return &ValidationError{Field: "event_name", Reason: "is required"}
	}
	return nil
}

// Day returns the UTC calendar date of the event.
func (e *Event) Day() time.Time {
	return Day(e.CreatedAt)
}

// Clone returns a copy that shares nothing mutable with e.
func (e *Event) Clone() *Event {
	c := *e
	if e.Parameters != nil {
		c.Parameters = make(map[string]any, len(e.Parameters))
		for k, v := range e.Parameters {
			c.Parameters[k] = v
		}
	}
	return &c
}

// Text returns the parameter as a string, or "" when it is absent.
func (e *Event) Text(key string) string {
	v, ok := e.Parameters[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Number returns the parameter as a float64.
func (e *Event) Number(key string) (float64, error) {
	v, ok := e.Parameters[key]
	if !ok || v == nil {
		return 0, e.malformed(key, nil)
	}

	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, e.malformed(key, v)
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, e.malformed(key, v)
		}
		f = parsed
	default:
		return 0, e.malformed(key, v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, e.malformed(key, v)
	}
	return f, nil
}

// Count returns the parameter as a non-negative int64, truncating any fraction.
// Negative values and values that do not fit in an int64 are malformed.
func (e *Event) Count(key string) (int64, error) {
	f, err := e.Number(key)
	if err != nil {
		return 0, err
	}
	// float64(math.MaxInt64) rounds up to 2^63, which is already out of range
	if f < 0 || f >= float64(math.MaxInt64) {
		return 0, e.malformed(key, e.Parameters[key])
	}
	return int64(f), nil
}

// AddCount adds n to a running total, saturating at math.MaxInt64 instead of wrapping.
func AddCount(total, n int64) int64 {
	if n > 0 && total > math.MaxInt64-n {
		return math.MaxInt64
	}
	return total + n
}

// Decimal returns the parameter as an exact decimal. Strings are parsed exactly;
// floats use their shortest representation so sums stay deterministic.
func (e *Event) Decimal(key string) (decimal.Decimal, error) {
	v, ok := e.Parameters[key]
	if !ok || v == nil {
		return decimal.Zero, e.malformed(key, nil)
	}

	switch n := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, e.malformed(key, v)
		}
		return d, nil
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, e.malformed(key, v)
		}
		return d, nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	}

	f, err := e.Number(key)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(f), nil
}

func (e *Event) malformed(key string, value any) error {
	return &MalformedParameterError{
		EventID:   e.ID,
		EventName: e.Name,
		Parameter: key,
		Value:     value,
	}
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
