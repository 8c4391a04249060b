package manager

import (
	"context"
	"fmt"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
	"github.com/frobware/go-ipsecmgr/registry"
)

// OpenUdpEncapsulationSocket opens and binds a UDP encapsulation
// socket for ESP-in-UDP. port zero lets the kernel choose; otherwise
// the port must be outside the privileged range. Returns the resource
// identifier and the bound port.
func (m *Manager) OpenUdpEncapsulationSocket(ctx context.Context, caller ipsecmgr.Principal, conn ipsecmgr.ConnID, port int) (ipsecmgr.ResourceID, int, error) {
	if port != 0 && (port < 1024 || port > 65535) {
		return 0, 0, fmt.Errorf("invalid encapsulation port %d", port)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, err := m.users.UserRecord(caller, caller)
	if err != nil {
		return 0, 0, err
	}
	if !user.EncapSocketQuota().Available() {
		err := ipsecmgr.QuotaError{Principal: caller, Class: ipsecmgr.ClassEncapSocket, Max: user.EncapSocketQuota().Max()}
		m.audit(ctx, "open-encap-socket", caller, ipsecmgr.ClassEncapSocket, 0, err)
		return 0, 0, err
	}

	sock, err := m.sockets.Open(port)
	if err != nil {
		berr := ipsecmgr.BackendError{Op: "open-encap-socket", Err: err}
		m.audit(ctx, "open-encap-socket", caller, ipsecmgr.ClassEncapSocket, 0, berr)
		return 0, 0, berr
	}

	id := m.issueID()
	user.EncapSocketQuota().Take()
	rec := registry.NewEncapSocketRecord(id, user, m.logger, sock)
	user.EncapSockets().Put(id, registry.NewRefcounted(rec, m.bind(conn)))

	m.logger.Info("opened encap socket",
		"principal", caller.String(),
		"id", uint32(id),
		"port", sock.Port())
	m.audit(ctx, "open-encap-socket", caller, ipsecmgr.ClassEncapSocket, id, nil)
	return id, sock.Port(), nil
}

// EncapSocketFD returns the bound descriptor of an open encapsulation
// socket, for handing to the owning client. The descriptor remains
// owned by the manager.
func (m *Manager) EncapSocketFD(caller ipsecmgr.Principal, id ipsecmgr.ResourceID) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, err := m.users.UserRecord(caller, caller)
	if err != nil {
		return 0, err
	}
	res, err := user.EncapSockets().Get(id)
	if err != nil {
		return 0, err
	}
	return res.Record().(*registry.EncapSocketRecord).Socket().FD(), nil
}

// CloseUdpEncapsulationSocket gives up the caller's explicit hold on an
// encapsulation socket. A transform still depending on the socket keeps
// it open until the transform is released.
func (m *Manager) CloseUdpEncapsulationSocket(ctx context.Context, caller ipsecmgr.Principal, id ipsecmgr.ResourceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, err := m.users.UserRecord(caller, caller)
	if err != nil {
		return err
	}
	res, err := user.EncapSockets().Get(id)
	if err != nil {
		m.audit(ctx, "close-encap-socket", caller, ipsecmgr.ClassEncapSocket, id, err)
		return err
	}
	res.UserRelease(ctx)

	m.logger.Info("closed encap socket", "principal", caller.String(), "id", uint32(id))
	m.audit(ctx, "close-encap-socket", caller, ipsecmgr.ClassEncapSocket, id, nil)
	return nil
}
