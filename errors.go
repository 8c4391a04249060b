package ipsecmgr

import (
	"errors"
	"fmt"
)

// ErrNotFound is the sentinel wrapped by all not-found errors. A
// resource is "not found" when the caller's principal has no record of
// that class with that ID; another principal's records are invisible.
var ErrNotFound = errors.New("resource not found")

// ErrResourceExhausted is the sentinel wrapped by quota errors. It is
// recoverable: the caller should release resources or retry later.
var ErrResourceExhausted = errors.New("resource quota exhausted")

// NotFoundError reports a lookup miss for one (class, id) pair.
type NotFoundError struct {
	Class Class
	ID    ResourceID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d does not exist", e.Class, e.ID)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// QuotaError reports that a principal has reached the per-class
// resource limit.
type QuotaError struct {
	Principal Principal
	Class     Class
	Max       int
}

func (e QuotaError) Error() string {
	return fmt.Sprintf("%s has reached the limit of %d %s resources", e.Principal, e.Max, e.Class)
}

func (e QuotaError) Unwrap() error { return ErrResourceExhausted }

// AccessError reports an attempt to operate on another principal's
// records without privilege.
type AccessError struct {
	Caller Principal
	Owner  Principal
}

func (e AccessError) Error() string {
	return fmt.Sprintf("%s may not access resources owned by %s", e.Caller, e.Owner)
}

// BackendError wraps a failure reported by the kernel backend during
// resource creation. The manager does not interpret backend error codes
// beyond success/failure; teardown-time backend errors are logged, not
// wrapped, because local bookkeeping must complete regardless.
type BackendError struct {
	Op  string
	Err error
}

func (e BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e BackendError) Unwrap() error { return e.Err }
