// Package registry is the resource lifecycle engine: refcounted
// records of kernel IPsec state, per-principal lookup tables, and
// per-principal quota accounting.
//
// # Ownership model
//
// Every allocated kernel object is held by exactly one record
// (SpiRecord, EncapSocketRecord or TransformRecord), wrapped in a
// Refcounted. The reference count starts at one (the creating client's
// explicit hold) and grows by one for each composite resource that
// depends on the record. When the count reaches zero the kernel
// resource is freed, the quota unit returned, and every child reference
// released in turn. The dependency graph is a DAG by construction (a
// transform can only reference records that already exist), so the
// cascade always terminates.
//
// # Concurrency
//
// Nothing in this package locks. All mutation, from allocation through
// liveness-triggered cleanup, happens under the manager's single
// coarse lock, which is what makes cross-resource invariants (counts,
// quota, table membership) atomic relative to one another.
package registry
