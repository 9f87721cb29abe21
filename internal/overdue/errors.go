package overdue

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable marks a failed read from the record store. A pass
	// that hits it returns no result at all.
	ErrSourceUnavailable = errors.New("data source unavailable")
	// ErrUnknownActor means no visibility scope could be established.
	ErrUnknownActor = errors.New("unknown actor")
)

// SourceError wraps a record store failure with the fetch that caused it.
type SourceError struct {
	Op  string
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrSourceUnavailable, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrSourceUnavailable }

func sourceErr(op string, err error) error {
	var se *SourceError
	if errors.As(err, &se) {
		return err
	}
	return &SourceError{Op: op, Err: err}
}
