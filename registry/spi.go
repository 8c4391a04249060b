package registry

import (
	"context"
	"log/slog"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// SpiRecord is a reserved security parameter index: the directional
// half of a future transform. Until a transform consumes it, releasing
// the record tears down the kernel's larval SA reservation.
type SpiRecord struct {
	id      ipsecmgr.ResourceID
	user    *UserRecord
	backend ipsecmgr.Backend
	logger  *slog.Logger

	sa ipsecmgr.SaInfo

	// ownedByTransform is set when a transform embeds this SPI.
	// Ownership transfers: the transform's teardown becomes
	// authoritative for the kernel SA, and this record's own teardown
	// no longer issues a backend call. The quota unit is still returned
	// here, since the reservation was charged to this record.
	ownedByTransform bool
}

// NewSpiRecord records a reserved SPI. The backend reservation must
// already have succeeded.
func NewSpiRecord(id ipsecmgr.ResourceID, user *UserRecord, backend ipsecmgr.Backend, logger *slog.Logger, sa ipsecmgr.SaInfo) *SpiRecord {
	return &SpiRecord{
		id:      id,
		user:    user,
		backend: backend,
		logger:  logger.With("component", "registry"),
		sa:      sa,
	}
}

func (r *SpiRecord) ID() ipsecmgr.ResourceID { return r.id }

func (r *SpiRecord) Class() ipsecmgr.Class { return ipsecmgr.ClassSPI }

// SaInfo identifies the reserved association.
func (r *SpiRecord) SaInfo() ipsecmgr.SaInfo { return r.sa }

// Direction returns the direction the SPI was reserved for.
func (r *SpiRecord) Direction() ipsecmgr.Direction { return r.sa.Direction }

// Value returns the reserved SPI.
func (r *SpiRecord) Value() ipsecmgr.SPI { return r.sa.SPI }

// OwnedByTransform reports whether a transform has consumed this SPI.
func (r *SpiRecord) OwnedByTransform() bool { return r.ownedByTransform }

// TransferOwnership marks the SPI as consumed by a transform. From this
// point the transform's teardown is authoritative for the kernel SA.
func (r *SpiRecord) TransferOwnership() { r.ownedByTransform = true }

// Invalidate removes the record from the owner's SPI table.
func (r *SpiRecord) Invalidate() { r.user.removeSpiRecord(r.id) }

// FreeUnderlying deletes the kernel SA reservation unless ownership has
// transferred to a transform, then returns the quota unit either way.
func (r *SpiRecord) FreeUnderlying(ctx context.Context) {
	if !r.ownedByTransform {
		if err := r.backend.DeleteSecurityAssociation(ctx, r.sa); err != nil {
			r.logger.Error("failed to delete SA for released SPI",
				"id", uint32(r.id), "spi", uint32(r.sa.SPI), "error", err)
		}
	}
	r.sa.SPI = 0
	r.user.SpiQuota().Give()
}
