package ipsecmgr

import "context"

// Backend is the narrow interface to the privileged kernel collaborator
// that realises security associations. The production implementation
// speaks netlink XFRM (backend/xfrm); tests substitute fakes.
//
// Backend calls are synchronous and are made while the manager holds
// its state lock, so implementations must not call back into the
// manager.
type Backend interface {
	// AllocateSpi reserves an SPI for the association described by sa.
	// sa.SPI carries the caller's requested value, or zero to let the
	// kernel choose. Returns the SPI actually reserved.
	AllocateSpi(ctx context.Context, sa SaInfo) (SPI, error)

	// AddSecurityAssociation installs one directional security
	// association for a previously reserved SPI.
	AddSecurityAssociation(ctx context.Context, sa SaInfo, cfg SaConfig) error

	// DeleteSecurityAssociation tears down one directional security
	// association. Deleting an association the kernel no longer knows
	// about is an error the caller is expected to log and ignore.
	DeleteSecurityAssociation(ctx context.Context, sa SaInfo) error

	// ApplyTransform points traffic on the given socket at the
	// association described by sa.
	ApplyTransform(ctx context.Context, socket uintptr, sa SaInfo, cfg SaConfig) error

	// RemoveTransform undoes ApplyTransform for the given socket.
	RemoveTransform(ctx context.Context, socket uintptr) error

	// IsAlive probes the backend connection itself, independent of any
	// per-client state. Used for readiness reporting only.
	IsAlive(ctx context.Context) bool
}
