// Package ipsecmgr defines the domain model for the IPsec
// security-association manager: principals, resource identifiers,
// security-association configuration, the error taxonomy, and the
// narrow Backend interface to the privileged kernel collaborator.
//
// The manager brokers three classes of kernel resource on behalf of
// untrusted client processes: SPI reservations, UDP encapsulation
// sockets, and transforms (a composite of two directional security
// associations plus an optional encapsulation socket). Ownership is
// tracked per principal, quotas are enforced per principal and class,
// and every kernel resource is released exactly once, on explicit
// client request or when the owning client connection dies.
//
// The lifecycle engine lives in the registry package; orchestration in
// the manager package. This package carries only types shared across
// those layers.
package ipsecmgr
