package ipsecmgr

import (
	"fmt"
	"net"
)

// Principal is the security identity a set of resources and quotas is
// scoped to. On Linux this is the client's UID as reported by
// SO_PEERCRED; resources are scoped per principal, not per connection.
type Principal uint32

const (
	// PrincipalRoot may operate on any principal's resources.
	PrincipalRoot Principal = 0
	// PrincipalSystem is the privileged system identity (AID_SYSTEM
	// convention) and may likewise operate on any principal's resources.
	PrincipalSystem Principal = 1000
)

// Privileged reports whether the principal may act on records owned by
// other principals.
func (p Principal) Privileged() bool {
	return p == PrincipalRoot || p == PrincipalSystem
}

func (p Principal) String() string { return fmt.Sprintf("uid:%d", uint32(p)) }

// ResourceID names one allocated resource. IDs are issued monotonically
// by the manager and never reused while any record with that ID is
// live. Zero is never a valid ID.
type ResourceID uint32

// InvalidResourceID is the zero value; it never names a resource.
const InvalidResourceID ResourceID = 0

// ConnID identifies one client connection for liveness tracking. A
// principal may hold several connections; each resource is bound to the
// connection that created it.
type ConnID uint64

// Class is a resource class. Quotas and lookup tables are maintained
// per (principal, class).
type Class int

const (
	ClassSPI Class = iota
	ClassTransform
	ClassEncapSocket
)

func (c Class) String() string {
	switch c {
	case ClassSPI:
		return "spi"
	case ClassTransform:
		return "transform"
	case ClassEncapSocket:
		return "encap-socket"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// SPI is a security parameter index as carried in the ESP header.
type SPI uint32

// Direction distinguishes the two security associations of a transform.
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Directions lists both directions in teardown order.
var Directions = [2]Direction{DirectionIn, DirectionOut}

// SaInfo identifies one directional security association in the kernel:
// the addresses it runs between and the SPI that names it. It is the
// key for both creation and teardown backend calls.
type SaInfo struct {
	Direction Direction
	Src       net.IP
	Dst       net.IP
	SPI       SPI
}

// Algo describes one transform algorithm. Name uses the kernel's
// algorithm naming (e.g. "hmac(sha256)", "cbc(aes)", "rfc4106(gcm(aes))").
type Algo struct {
	Name string
	Key  []byte
	// TruncLenBits is the truncation length for authentication
	// algorithms, or the ICV length for AEAD.
	TruncLenBits int
}

// EncapConfig carries UDP encapsulation parameters for a security
// association (ESP-in-UDP per RFC 3948).
type EncapConfig struct {
	SrcPort int
	DstPort int
}

// SaConfig is the security-association configuration shared by both
// directions of a transform. Shape validation beyond what the kernel
// itself enforces is the RPC layer's job; by the time an SaConfig
// reaches the manager it is treated as well-formed.
type SaConfig struct {
	Src net.IP
	Dst net.IP

	Auth  *Algo
	Crypt *Algo
	Aead  *Algo

	ReqID int

	// Encap is non-nil when the transform tunnels ESP through a UDP
	// encapsulation socket.
	Encap *EncapConfig
}

// TransformSpec names the dependencies and configuration of a composite
// transform: one reserved SPI per direction and an optional
// encapsulation socket, all owned by the requesting principal.
type TransformSpec struct {
	Config SaConfig

	SpiIn  ResourceID
	SpiOut ResourceID

	// EncapSocket is InvalidResourceID when the transform does not use
	// UDP encapsulation.
	EncapSocket ResourceID
}

// EncapSocket is an open, bound UDP encapsulation socket. The concrete
// implementation lives in the encap package; tests substitute fakes.
type EncapSocket interface {
	// Port returns the bound local port.
	Port() int
	// FD returns the underlying descriptor for passing to clients.
	FD() uintptr
	// Close releases the socket. Safe to call exactly once.
	Close() error
}
