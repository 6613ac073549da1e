package storage

import "errors"

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable is returned when a backend cannot be reached.
	// Ingestion and aggregation fail closed on it.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// unavailableError wraps a backend failure so that it matches ErrStorageUnavailable
// while keeping the driver error reachable through errors.Unwrap.
type unavailableError struct {
	op  string
	err error
}

func (e *unavailableError) Error() string {
	return "storage unavailable: " + e.op + ": " + e.err.Error()
}

func (e *unavailableError) Unwrap() []error {
	return []error{ErrStorageUnavailable, e.err}
}

// Unavailable marks err as a storage availability failure for op.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return &unavailableError{op: op, err: err}
}
