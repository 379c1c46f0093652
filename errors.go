package livecache

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLoader is returned by OnServerEvent when no loader is known for the key.
	ErrNoLoader = errors.New("livecache: no loader registered for key")
	// ErrClosed is returned by fetches, mutations and events after Close.
	ErrClosed = errors.New("livecache: cache closed")
)

// FetchError is returned to every waiter of a failed loader invocation.
// The cached value, if any, is still valid.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("livecache: fetch %q: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationStatus is the terminal state of an optimistic mutation.
type MutationStatus int

const (
	StatusPending MutationStatus = iota
	StatusCommitted
	StatusReverted
)

func (s MutationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCommitted:
		return "committed"
	case StatusReverted:
		return "reverted"
	default:
		return fmt.Sprintf("MutationStatus(%d)", int(s))
	}
}

// MutationError reports a mutation that did not finish cleanly.
//
// Status == StatusReverted: the remote operation failed and the cache already
// holds the pre-mutation snapshot. Err is the remote error.
//
// Status == StatusCommitted: the remote operation succeeded but the reconcile
// refresh failed. The cache keeps the speculative value. Err is the fetch error.
type MutationError struct {
	ID     string
	Key    string
	Status MutationStatus
	Err    error
}

func (e *MutationError) Error() string {
	switch e.Status {
	case StatusReverted:
		return fmt.Sprintf("livecache: mutation %s on %q reverted: %v", e.ID, e.Key, e.Err)
	case StatusCommitted:
		return fmt.Sprintf("livecache: mutation %s on %q committed, reconcile failed: %v", e.ID, e.Key, e.Err)
	default:
		return fmt.Sprintf("livecache: mutation %s on %q: %v", e.ID, e.Key, e.Err)
	}
}

func (e *MutationError) Unwrap() error { return e.Err }

// Reverted reports whether err is a MutationError whose snapshot was rolled back.
func Reverted(err error) bool {
	var me *MutationError
	return errors.As(err, &me) && me.Status == StatusReverted
}
