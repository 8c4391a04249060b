// Package api defines the wire protocol between the ipsecmgr daemon
// and its clients: newline-delimited JSON over a Unix stream socket,
// with file descriptors carried as SCM_RIGHTS ancillary data where an
// operation needs one. The caller's principal is never part of the
// protocol; the server takes it from SO_PEERCRED.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// Operation names. Each request names exactly one.
const (
	OpReserveSpi      = "reserve-spi"
	OpReleaseSpi      = "release-spi"
	OpOpenEncap       = "open-encap-socket"
	OpCloseEncap      = "close-encap-socket"
	OpCreateTransform = "create-transform"
	OpDeleteTransform = "delete-transform"
	OpApplyTransform  = "apply-transform"
	OpRemoveTransform = "remove-transform"
	OpList            = "list"
)

// Request is the envelope for one operation. Body is the op-specific
// request type.
type Request struct {
	Seq  uint64          `json:"seq"`
	Op   string          `json:"op"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Response is the envelope for one reply. Exactly one of Error and Body
// is meaningful.
type Response struct {
	Seq   uint64          `json:"seq"`
	Error *Error          `json:"error,omitempty"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// ErrorKind classifies a failure for the client. Kinds map onto the
// manager's error taxonomy so clients can branch without string
// matching.
type ErrorKind string

const (
	KindInvalidArgument   ErrorKind = "invalid-argument"
	KindNotFound          ErrorKind = "not-found"
	KindResourceExhausted ErrorKind = "resource-exhausted"
	KindPermissionDenied  ErrorKind = "permission-denied"
	KindBackend           ErrorKind = "backend"
)

// Error is a wire-encoded failure.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// FromError classifies err for the wire. Returns nil for nil.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	kind := KindInvalidArgument
	var (
		accessErr  ipsecmgr.AccessError
		backendErr ipsecmgr.BackendError
	)
	switch {
	case errors.Is(err, ipsecmgr.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, ipsecmgr.ErrResourceExhausted):
		kind = KindResourceExhausted
	case errors.As(err, &accessErr):
		kind = KindPermissionDenied
	case errors.As(err, &backendErr):
		kind = KindBackend
	}
	return &Error{Kind: kind, Message: err.Error()}
}

// Err reconstructs a client-side error. Not-found and exhausted
// failures wrap the package sentinels so errors.Is works across the
// wire.
func (e *Error) Err() error {
	switch e.Kind {
	case KindNotFound:
		return fmt.Errorf("%s: %w", e.Message, ipsecmgr.ErrNotFound)
	case KindResourceExhausted:
		return fmt.Errorf("%s: %w", e.Message, ipsecmgr.ErrResourceExhausted)
	default:
		return errors.New(e.Message)
	}
}

// MarshalBody encodes an op-specific body for the envelope.
func MarshalBody(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return data, nil
}

// UnmarshalBody decodes an op-specific body from the envelope.
func UnmarshalBody(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// ReserveSpiRequest reserves an SPI for one direction of a future
// transform. Spi zero lets the kernel choose.
type ReserveSpiRequest struct {
	Direction ipsecmgr.Direction `json:"direction"`
	Src       net.IP             `json:"src"`
	Dst       net.IP             `json:"dst"`
	Spi       ipsecmgr.SPI       `json:"spi,omitempty"`
}

type ReserveSpiResponse struct {
	ID  ipsecmgr.ResourceID `json:"id"`
	Spi ipsecmgr.SPI        `json:"spi"`
}

// ReleaseRequest names one resource to release. Used by release-spi,
// close-encap-socket and delete-transform.
type ReleaseRequest struct {
	ID ipsecmgr.ResourceID `json:"id"`
}

// OpenEncapRequest opens a UDP encapsulation socket. Port zero asks for
// a kernel-chosen port.
type OpenEncapRequest struct {
	Port int `json:"port"`
}

// OpenEncapResponse reports the new socket. The bound descriptor rides
// alongside as SCM_RIGHTS.
type OpenEncapResponse struct {
	ID   ipsecmgr.ResourceID `json:"id"`
	Port int                 `json:"port"`
}

type CreateTransformRequest struct {
	Spec ipsecmgr.TransformSpec `json:"spec"`
}

type CreateTransformResponse struct {
	ID ipsecmgr.ResourceID `json:"id"`
}

// ApplyTransformRequest applies a transform to the client socket sent
// as SCM_RIGHTS with the request.
type ApplyTransformRequest struct {
	ID ipsecmgr.ResourceID `json:"id"`
}

// ListRequest asks for a snapshot of a principal's resources. Zero
// names the caller itself; a non-privileged caller naming anyone else
// is refused.
type ListRequest struct {
	Principal ipsecmgr.Principal `json:"principal"`
}
