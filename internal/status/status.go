// Package status tracks the processing lifecycle of uploaded and rendered
// videos. A Store maps an opaque file identifier to a Status; every
// implementation is safe for concurrent use.
package status

import (
	"context"
	"errors"
	"fmt"
)

// Status is the lifecycle tag of a tracked identifier.
type Status string

const (
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
	Unknown    Status = "unknown"
)

var ErrInvalidStatus = errors.New("invalid status")

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// Valid reports whether s may be stored. Unknown is what Get returns for
// absent identifiers and is never persisted.
func (s Status) Valid() bool {
	switch s {
	case Processing, Completed, Failed:
		return true
	}
	return false
}

// Store is the status mapping. Get returns Unknown for identifiers that were
// never set.
type Store interface {
	Set(ctx context.Context, id string, s Status) error
	Get(ctx context.Context, id string) (Status, error)
}

func checkSet(id string, s Status) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidStatus)
	}
	if !s.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return nil
}
