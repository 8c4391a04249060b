package registry

import (
	"context"
	"log/slog"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// TransformRecord is a composite resource: two directional security
// associations realised in the kernel, built on two reserved SPIs and
// optionally tunnelled through a UDP encapsulation socket. The SPI and
// socket records are held as children of the transform's Refcounted
// wrapper; this record keeps typed references for teardown and
// apply/remove operations.
type TransformRecord struct {
	id      ipsecmgr.ResourceID
	user    *UserRecord
	backend ipsecmgr.Backend
	logger  *slog.Logger

	cfg    ipsecmgr.SaConfig
	spiIn  *SpiRecord
	spiOut *SpiRecord
	encap  *EncapSocketRecord // nil without UDP encapsulation
}

// NewTransformRecord records a fully realised transform: both
// directional SAs must already exist in the kernel.
func NewTransformRecord(
	id ipsecmgr.ResourceID,
	user *UserRecord,
	backend ipsecmgr.Backend,
	logger *slog.Logger,
	cfg ipsecmgr.SaConfig,
	spiIn, spiOut *SpiRecord,
	encap *EncapSocketRecord,
) *TransformRecord {
	return &TransformRecord{
		id:      id,
		user:    user,
		backend: backend,
		logger:  logger.With("component", "registry"),
		cfg:     cfg,
		spiIn:   spiIn,
		spiOut:  spiOut,
		encap:   encap,
	}
}

func (r *TransformRecord) ID() ipsecmgr.ResourceID { return r.id }

func (r *TransformRecord) Class() ipsecmgr.Class { return ipsecmgr.ClassTransform }

// Config returns the security-association configuration.
func (r *TransformRecord) Config() ipsecmgr.SaConfig { return r.cfg }

// Sa returns the association identity for the given direction.
func (r *TransformRecord) Sa(dir ipsecmgr.Direction) ipsecmgr.SaInfo {
	if dir == ipsecmgr.DirectionIn {
		return r.spiIn.SaInfo()
	}
	return r.spiOut.SaInfo()
}

// Invalidate removes the record from the owner's transform table.
func (r *TransformRecord) Invalidate() { r.user.removeTransformRecord(r.id) }

// FreeUnderlying deletes both directional SAs and returns the quota
// unit. The transform owns the SAs (the SPI records transferred
// ownership at creation), so this is the one place they are torn down.
// Backend errors are logged, never propagated: a teardown the kernel
// rejects cannot be retried meaningfully, and the local bookkeeping
// must complete.
func (r *TransformRecord) FreeUnderlying(ctx context.Context) {
	for _, spi := range [2]*SpiRecord{r.spiIn, r.spiOut} {
		sa := spi.SaInfo()
		if err := r.backend.DeleteSecurityAssociation(ctx, sa); err != nil {
			r.logger.Error("failed to delete transform SA",
				"id", uint32(r.id), "direction", sa.Direction.String(),
				"spi", uint32(sa.SPI), "error", err)
		}
	}
	r.user.TransformQuota().Give()
}
