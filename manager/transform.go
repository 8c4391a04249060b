package manager

import (
	"context"
	"fmt"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
	"github.com/frobware/go-ipsecmgr/registry"
)

// defaultEncapRemotePort is the IKE NAT-T convention used when the
// caller does not name a remote encapsulation port.
const defaultEncapRemotePort = 4500

// CreateTransform realises a composite transform from two reserved
// SPIs and an optional encapsulation socket, installing one security
// association per direction in the kernel.
//
// Dependency resolution happens first: any missing dependency fails the
// whole operation with not-found before the kernel is touched. The
// transform quota is checked next. Only after both directional SA
// installs succeed is anything registered: the dependency handles
// become children of the new transform (taking one reference each),
// the SPIs transfer ownership to the transform, and the transform is
// published in the caller's table.
//
// If the second directional install fails, the first is compensated
// with a delete (log-only on failure) and no trace remains: no
// identifier published, quota untouched, dependency counts unchanged.
func (m *Manager) CreateTransform(ctx context.Context, caller ipsecmgr.Principal, conn ipsecmgr.ConnID, spec ipsecmgr.TransformSpec) (ipsecmgr.ResourceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, err := m.users.UserRecord(caller, caller)
	if err != nil {
		return 0, err
	}

	resIn, err := user.Spis().Get(spec.SpiIn)
	if err != nil {
		m.audit(ctx, "create-transform", caller, ipsecmgr.ClassTransform, 0, err)
		return 0, err
	}
	resOut, err := user.Spis().Get(spec.SpiOut)
	if err != nil {
		m.audit(ctx, "create-transform", caller, ipsecmgr.ClassTransform, 0, err)
		return 0, err
	}
	spiIn := resIn.Record().(*registry.SpiRecord)
	spiOut := resOut.Record().(*registry.SpiRecord)

	if spiIn.Direction() != ipsecmgr.DirectionIn {
		return 0, fmt.Errorf("spi resource %d was reserved for direction %s, want in", spec.SpiIn, spiIn.Direction())
	}
	if spiOut.Direction() != ipsecmgr.DirectionOut {
		return 0, fmt.Errorf("spi resource %d was reserved for direction %s, want out", spec.SpiOut, spiOut.Direction())
	}
	if spiIn.OwnedByTransform() || spiOut.OwnedByTransform() {
		return 0, fmt.Errorf("spi resource already consumed by a transform")
	}

	var (
		encapRes *registry.Refcounted
		encapRec *registry.EncapSocketRecord
	)
	cfg := spec.Config
	if spec.EncapSocket != ipsecmgr.InvalidResourceID {
		encapRes, err = user.EncapSockets().Get(spec.EncapSocket)
		if err != nil {
			m.audit(ctx, "create-transform", caller, ipsecmgr.ClassTransform, 0, err)
			return 0, err
		}
		encapRec = encapRes.Record().(*registry.EncapSocketRecord)

		// The record's bound port is authoritative for the local side.
		if cfg.Encap == nil {
			cfg.Encap = &ipsecmgr.EncapConfig{DstPort: defaultEncapRemotePort}
		}
		cfg.Encap.SrcPort = encapRec.Port()
	}

	if !user.TransformQuota().Available() {
		err := ipsecmgr.QuotaError{Principal: caller, Class: ipsecmgr.ClassTransform, Max: user.TransformQuota().Max()}
		m.audit(ctx, "create-transform", caller, ipsecmgr.ClassTransform, 0, err)
		return 0, err
	}

	saIn, saOut := spiIn.SaInfo(), spiOut.SaInfo()
	if err := m.backend.AddSecurityAssociation(ctx, saIn, cfg); err != nil {
		berr := ipsecmgr.BackendError{Op: "add-sa", Err: err}
		m.audit(ctx, "create-transform", caller, ipsecmgr.ClassTransform, 0, berr)
		return 0, berr
	}
	if err := m.backend.AddSecurityAssociation(ctx, saOut, cfg); err != nil {
		// Compensate the inbound install so the kernel holds no
		// half-built transform. A failed compensation is logged and left
		// to the backend's own garbage collection.
		if derr := m.backend.DeleteSecurityAssociation(ctx, saIn); derr != nil {
			m.logger.Error("failed to compensate half-created transform",
				"principal", caller.String(), "spi", uint32(saIn.SPI), "error", derr)
		}
		berr := ipsecmgr.BackendError{Op: "add-sa", Err: err}
		m.audit(ctx, "create-transform", caller, ipsecmgr.ClassTransform, 0, berr)
		return 0, berr
	}

	id := m.issueID()
	user.TransformQuota().Take()
	rec := registry.NewTransformRecord(id, user, m.backend, m.logger, cfg, spiIn, spiOut, encapRec)
	spiIn.TransferOwnership()
	spiOut.TransferOwnership()

	children := []*registry.Refcounted{resIn, resOut}
	if encapRes != nil {
		children = append(children, encapRes)
	}
	user.Transforms().Put(id, registry.NewRefcounted(rec, m.bind(conn), children...))

	m.logger.Info("created transform",
		"principal", caller.String(),
		"id", uint32(id),
		"spi_in", uint32(saIn.SPI),
		"spi_out", uint32(saOut.SPI),
		"encap", encapRec != nil)
	m.audit(ctx, "create-transform", caller, ipsecmgr.ClassTransform, id, nil)
	return id, nil
}

// DeleteTransform gives up the caller's explicit hold on a transform.
// When the count reaches zero both directional SAs are torn down and
// the dependency references (SPIs, encap socket) released in turn.
func (m *Manager) DeleteTransform(ctx context.Context, caller ipsecmgr.Principal, id ipsecmgr.ResourceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, err := m.users.UserRecord(caller, caller)
	if err != nil {
		return err
	}
	res, err := user.Transforms().Get(id)
	if err != nil {
		m.audit(ctx, "delete-transform", caller, ipsecmgr.ClassTransform, id, err)
		return err
	}
	res.UserRelease(ctx)

	m.logger.Info("deleted transform", "principal", caller.String(), "id", uint32(id))
	m.audit(ctx, "delete-transform", caller, ipsecmgr.ClassTransform, id, nil)
	return nil
}

// ApplyTransform points traffic on the client's socket at an existing
// transform, one backend call per direction. A failure on the second
// direction is compensated by removing the partial application.
func (m *Manager) ApplyTransform(ctx context.Context, caller ipsecmgr.Principal, id ipsecmgr.ResourceID, socket uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, err := m.users.UserRecord(caller, caller)
	if err != nil {
		return err
	}
	res, err := user.Transforms().Get(id)
	if err != nil {
		return err
	}
	rec := res.Record().(*registry.TransformRecord)

	for i, dir := range ipsecmgr.Directions {
		if err := m.backend.ApplyTransform(ctx, socket, rec.Sa(dir), rec.Config()); err != nil {
			if i > 0 {
				if rerr := m.backend.RemoveTransform(ctx, socket); rerr != nil {
					m.logger.Error("failed to undo partial transform application",
						"principal", caller.String(), "id", uint32(id), "error", rerr)
				}
			}
			return ipsecmgr.BackendError{Op: "apply-transform", Err: err}
		}
	}

	m.logger.Info("applied transform", "principal", caller.String(), "id", uint32(id))
	return nil
}

// RemoveTransform detaches any applied transform from the client's
// socket. The transform resource itself is unaffected.
func (m *Manager) RemoveTransform(ctx context.Context, caller ipsecmgr.Principal, socket uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.backend.RemoveTransform(ctx, socket); err != nil {
		return ipsecmgr.BackendError{Op: "remove-transform", Err: err}
	}
	m.logger.Info("removed transform from socket", "principal", caller.String())
	return nil
}
