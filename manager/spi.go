package manager

import (
	"context"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
	"github.com/frobware/go-ipsecmgr/registry"
)

// ReserveSecurityParameterIndex reserves an SPI for one direction of a
// future transform. sa.SPI carries the requested value, or zero to let
// the kernel choose. The reservation is charged against the caller's
// SPI quota and bound to conn for crash cleanup.
func (m *Manager) ReserveSecurityParameterIndex(ctx context.Context, caller ipsecmgr.Principal, conn ipsecmgr.ConnID, sa ipsecmgr.SaInfo) (ipsecmgr.ResourceID, ipsecmgr.SPI, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, err := m.users.UserRecord(caller, caller)
	if err != nil {
		return 0, 0, err
	}
	if !user.SpiQuota().Available() {
		err := ipsecmgr.QuotaError{Principal: caller, Class: ipsecmgr.ClassSPI, Max: user.SpiQuota().Max()}
		m.audit(ctx, "reserve-spi", caller, ipsecmgr.ClassSPI, 0, err)
		return 0, 0, err
	}

	spi, err := m.backend.AllocateSpi(ctx, sa)
	if err != nil {
		berr := ipsecmgr.BackendError{Op: "allocate-spi", Err: err}
		m.audit(ctx, "reserve-spi", caller, ipsecmgr.ClassSPI, 0, berr)
		return 0, 0, berr
	}
	sa.SPI = spi

	id := m.issueID()
	user.SpiQuota().Take()
	rec := registry.NewSpiRecord(id, user, m.backend, m.logger, sa)
	user.Spis().Put(id, registry.NewRefcounted(rec, m.bind(conn)))

	m.logger.Info("reserved SPI",
		"principal", caller.String(),
		"id", uint32(id),
		"direction", sa.Direction.String(),
		"spi", uint32(spi))
	m.audit(ctx, "reserve-spi", caller, ipsecmgr.ClassSPI, id, nil)
	return id, spi, nil
}

// ReleaseSecurityParameterIndex gives up the caller's explicit hold on
// a reserved SPI. If a transform has consumed the SPI, the kernel
// reservation stays until the transform itself is released; only the
// caller's handle goes away.
func (m *Manager) ReleaseSecurityParameterIndex(ctx context.Context, caller ipsecmgr.Principal, id ipsecmgr.ResourceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, err := m.users.UserRecord(caller, caller)
	if err != nil {
		return err
	}
	res, err := user.Spis().Get(id)
	if err != nil {
		m.audit(ctx, "release-spi", caller, ipsecmgr.ClassSPI, id, err)
		return err
	}
	res.UserRelease(ctx)

	m.logger.Info("released SPI", "principal", caller.String(), "id", uint32(id))
	m.audit(ctx, "release-spi", caller, ipsecmgr.ClassSPI, id, nil)
	return nil
}
