package registry

import (
	"fmt"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// Table maps resource identifiers to refcounted resources for one
// (principal, class) pair. Get is the authoritative existence check the
// rest of the system relies on: no other component independently
// verifies that a resource exists or that the caller owns it.
type Table struct {
	class   ipsecmgr.Class
	entries map[ipsecmgr.ResourceID]*Refcounted
}

func newTable(class ipsecmgr.Class) *Table {
	return &Table{
		class:   class,
		entries: make(map[ipsecmgr.ResourceID]*Refcounted),
	}
}

// Get returns the resource registered under id, or a NotFoundError.
func (t *Table) Get(id ipsecmgr.ResourceID) (*Refcounted, error) {
	if r, ok := t.entries[id]; ok {
		return r, nil
	}
	return nil, ipsecmgr.NotFoundError{Class: t.class, ID: id}
}

// Put registers a resource. Nil resources and duplicate identifiers are
// contract violations: identifiers are issued monotonically and never
// reused while live, so either indicates a bug in the manager.
func (t *Table) Put(id ipsecmgr.ResourceID, r *Refcounted) {
	if r == nil {
		panic(fmt.Sprintf("registry: nil resource inserted into %s table", t.class))
	}
	if _, ok := t.entries[id]; ok {
		panic(fmt.Sprintf("registry: duplicate %s id %d", t.class, id))
	}
	t.entries[id] = r
}

// remove deletes an entry. Called only from record Invalidate; removing
// an absent id is harmless.
func (t *Table) remove(id ipsecmgr.ResourceID) {
	delete(t.entries, id)
}

// Len returns the number of registered resources.
func (t *Table) Len() int { return len(t.entries) }

// IDs returns the registered identifiers in unspecified order.
func (t *Table) IDs() []ipsecmgr.ResourceID {
	ids := make([]ipsecmgr.ResourceID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	return ids
}
