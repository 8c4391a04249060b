package registry

import (
	"log/slog"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
	"github.com/frobware/go-ipsecmgr/quota"
)

// Quotas fixes the per-principal admission limits for each resource
// class.
type Quotas struct {
	Spis         int
	Transforms   int
	EncapSockets int
}

// DefaultQuotas returns the stock per-principal limits.
func DefaultQuotas() Quotas {
	return Quotas{Spis: 8, Transforms: 4, EncapSockets: 2}
}

// UserRecord holds one principal's view of the world: one lookup table
// and one quota tracker per resource class. Records remove themselves
// from these tables via Invalidate; nothing else mutates them.
type UserRecord struct {
	principal ipsecmgr.Principal

	spis         *Table
	transforms   *Table
	encapSockets *Table

	spiQuota       *quota.Tracker
	transformQuota *quota.Tracker
	encapQuota     *quota.Tracker
}

func newUserRecord(p ipsecmgr.Principal, quotas Quotas, logger *slog.Logger) *UserRecord {
	logger = logger.With("principal", p.String())
	return &UserRecord{
		principal:      p,
		spis:           newTable(ipsecmgr.ClassSPI),
		transforms:     newTable(ipsecmgr.ClassTransform),
		encapSockets:   newTable(ipsecmgr.ClassEncapSocket),
		spiQuota:       quota.NewTracker(ipsecmgr.ClassSPI.String(), quotas.Spis, logger),
		transformQuota: quota.NewTracker(ipsecmgr.ClassTransform.String(), quotas.Transforms, logger),
		encapQuota:     quota.NewTracker(ipsecmgr.ClassEncapSocket.String(), quotas.EncapSockets, logger),
	}
}

// Principal returns the identity this record is scoped to.
func (u *UserRecord) Principal() ipsecmgr.Principal { return u.principal }

// Spis returns the SPI lookup table.
func (u *UserRecord) Spis() *Table { return u.spis }

// Transforms returns the transform lookup table.
func (u *UserRecord) Transforms() *Table { return u.transforms }

// EncapSockets returns the encapsulation-socket lookup table.
func (u *UserRecord) EncapSockets() *Table { return u.encapSockets }

// SpiQuota returns the SPI admission tracker.
func (u *UserRecord) SpiQuota() *quota.Tracker { return u.spiQuota }

// TransformQuota returns the transform admission tracker.
func (u *UserRecord) TransformQuota() *quota.Tracker { return u.transformQuota }

// EncapSocketQuota returns the encapsulation-socket admission tracker.
func (u *UserRecord) EncapSocketQuota() *quota.Tracker { return u.encapQuota }

// Table removal is reserved for record Invalidate.

func (u *UserRecord) removeSpiRecord(id ipsecmgr.ResourceID) { u.spis.remove(id) }

func (u *UserRecord) removeTransformRecord(id ipsecmgr.ResourceID) { u.transforms.remove(id) }

func (u *UserRecord) removeEncapSocketRecord(id ipsecmgr.ResourceID) { u.encapSockets.remove(id) }
