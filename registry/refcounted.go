package registry

import (
	"context"
	"fmt"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// Record is one allocated kernel object plus the bookkeeping needed to
// retire it: Invalidate removes the record from its owning lookup
// table, FreeUnderlying performs the kernel teardown and returns the
// quota unit. Both are called exactly once, by the Refcounted wrapper.
type Record interface {
	ID() ipsecmgr.ResourceID
	Class() ipsecmgr.Class

	// Invalidate removes this record from its owning UserRecord table.
	Invalidate()

	// FreeUnderlying tears down the kernel resource and gives the quota
	// unit back. Backend failures are logged by the record, never
	// propagated: local bookkeeping must complete regardless, because
	// retrying an already-consumed kernel identifier is not meaningful.
	FreeUnderlying(ctx context.Context)
}

// LivenessBinder subscribes a release callback to the creating client
// connection's termination signal and returns the matching unsubscribe.
// The manager supplies a binder that re-acquires its state lock before
// invoking the callback.
type LivenessBinder func(onTerminated func()) (unsubscribe func())

// NopBinder is a LivenessBinder for resources with no connection to
// watch (tests, system-owned records).
func NopBinder(func()) func() { return func() {} }

// spent marks a Refcounted whose teardown has completed. Any further
// release is a double-free bug in the engine.
const spent = -1

// Refcounted pairs one Record with a reference count, the child
// references a composite resource holds, and a subscription to the
// creating connection's termination signal.
//
// The count strictly decreases toward exactly zero exactly once over
// the object's life. Crossing zero frees the record's own kernel
// resource strictly before recursing into children: the parent's kernel
// object may still reference a child's until the parent is gone, so
// parent-then-children is the only supported teardown order.
type Refcounted struct {
	record      Record
	refCount    int
	children    []*Refcounted
	unsubscribe func() // nil once released; doubles as the idempotency marker
}

// NewRefcounted wraps rec with an initial count of one, takes one
// reference on each child, and binds cleanup to the creating
// connection's liveness. The backing kernel resource must already be
// realised; construction cannot fail.
func NewRefcounted(rec Record, bind LivenessBinder, children ...*Refcounted) *Refcounted {
	r := &Refcounted{
		record:   rec,
		refCount: 1,
		children: children,
	}
	for _, child := range children {
		child.retain()
	}
	r.unsubscribe = bind(func() {
		r.UserRelease(context.Background())
	})
	return r
}

// Record returns the wrapped record.
func (r *Refcounted) Record() Record { return r.record }

// RefCount returns the current count. Diagnostic only.
func (r *Refcounted) RefCount() int { return r.refCount }

// Released reports whether the creator's explicit hold has been given
// up (by client request or connection death).
func (r *Refcounted) Released() bool { return r.unsubscribe == nil }

// retain takes one additional reference on behalf of a dependent
// composite resource. Retaining a spent resource is a contract
// violation: the composite-creation path looks records up in the owning
// table, and a spent record cannot still be published there.
func (r *Refcounted) retain() {
	if r.refCount <= 0 {
		panic(fmt.Sprintf("registry: retain on spent %s %d (refcount %d)",
			r.record.Class(), r.record.ID(), r.refCount))
	}
	r.refCount++
}

// UserRelease gives up the creating client's explicit hold. It is the
// only entry point callers outside the engine may use, and it is
// idempotent: explicit release followed by the connection-termination
// callback (or vice versa) collapses to one release.
func (r *Refcounted) UserRelease(ctx context.Context) {
	if r.unsubscribe == nil {
		return
	}
	r.unsubscribe()
	r.unsubscribe = nil

	r.record.Invalidate()
	r.ReleaseReference(ctx)
}

// ReleaseReference drops one reference. At exactly zero the record's
// kernel resource is freed, then every child is released recursively,
// then the object is marked spent. Releasing a spent object panics:
// it means double-free logic elsewhere in the engine, which must never
// be swallowed.
func (r *Refcounted) ReleaseReference(ctx context.Context) {
	if r.refCount <= 0 {
		panic(fmt.Sprintf("registry: release of spent %s %d (refcount %d)",
			r.record.Class(), r.record.ID(), r.refCount))
	}
	r.refCount--
	if r.refCount > 0 {
		return
	}

	r.record.FreeUnderlying(ctx)
	for _, child := range r.children {
		child.ReleaseReference(ctx)
	}
	r.refCount = spent
}
