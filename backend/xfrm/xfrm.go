// Package xfrm implements the kernel backend over netlink XFRM. It is
// the one component that talks to the kernel's IPsec subsystem; the
// lifecycle engine never sees netlink types.
//
// Calls are synchronous netlink round-trips. The context parameters
// exist for interface parity with fakes; netlink requests are short and
// are not cancelled mid-flight.
package xfrm

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// Backend speaks netlink XFRM in the current network namespace.
type Backend struct {
	logger *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// New returns a netlink XFRM backend.
func New(opts ...Option) *Backend {
	b := &Backend{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "xfrm")
	return b
}

// AllocateSpi reserves an SPI by installing a larval SA.
func (b *Backend) AllocateSpi(_ context.Context, sa ipsecmgr.SaInfo) (ipsecmgr.SPI, error) {
	state := &netlink.XfrmState{
		Src:   sa.Src,
		Dst:   sa.Dst,
		Proto: netlink.XFRM_PROTO_ESP,
		Mode:  netlink.XFRM_MODE_TRANSPORT,
		Spi:   int(sa.SPI),
	}
	allocated, err := netlink.XfrmStateAllocSpi(state)
	if err != nil {
		return 0, fmt.Errorf("xfrm alloc spi: %w", err)
	}
	b.logger.Debug("allocated SPI",
		"direction", sa.Direction.String(),
		"dst", sa.Dst.String(),
		"spi", uint32(allocated.Spi))
	return ipsecmgr.SPI(allocated.Spi), nil
}

// AddSecurityAssociation installs one mature directional SA, replacing
// the larval reservation for the same SPI.
func (b *Backend) AddSecurityAssociation(_ context.Context, sa ipsecmgr.SaInfo, cfg ipsecmgr.SaConfig) error {
	state := b.state(sa, cfg)
	if err := netlink.XfrmStateUpdate(state); err != nil {
		return fmt.Errorf("xfrm state update: %w", err)
	}
	b.logger.Debug("added SA",
		"direction", sa.Direction.String(),
		"spi", uint32(sa.SPI),
		"encap", cfg.Encap != nil)
	return nil
}

// DeleteSecurityAssociation tears down one directional SA.
func (b *Backend) DeleteSecurityAssociation(_ context.Context, sa ipsecmgr.SaInfo) error {
	state := &netlink.XfrmState{
		Src:   sa.Src,
		Dst:   sa.Dst,
		Proto: netlink.XFRM_PROTO_ESP,
		Spi:   int(sa.SPI),
	}
	if err := netlink.XfrmStateDel(state); err != nil {
		return fmt.Errorf("xfrm state del: %w", err)
	}
	b.logger.Debug("deleted SA", "direction", sa.Direction.String(), "spi", uint32(sa.SPI))
	return nil
}

// ApplyTransform installs an XFRM policy steering the socket's flow
// through the association. The selector pins the association's
// addresses and the socket's bound local port, so other flows between
// the same hosts are unaffected.
func (b *Backend) ApplyTransform(_ context.Context, socket uintptr, sa ipsecmgr.SaInfo, cfg ipsecmgr.SaConfig) error {
	port, err := localPort(socket)
	if err != nil {
		return err
	}

	pol := &netlink.XfrmPolicy{
		Src: hostNet(sa.Src),
		Dst: hostNet(sa.Dst),
		Tmpls: []netlink.XfrmPolicyTmpl{{
			Src:   sa.Src,
			Dst:   sa.Dst,
			Proto: netlink.XFRM_PROTO_ESP,
			Mode:  netlink.XFRM_MODE_TRANSPORT,
			Spi:   int(sa.SPI),
			Reqid: cfg.ReqID,
		}},
	}
	switch sa.Direction {
	case ipsecmgr.DirectionIn:
		pol.Dir = netlink.XFRM_DIR_IN
		pol.DstPort = port
	case ipsecmgr.DirectionOut:
		pol.Dir = netlink.XFRM_DIR_OUT
		pol.SrcPort = port
	}

	if err := netlink.XfrmPolicyAdd(pol); err != nil {
		return fmt.Errorf("xfrm policy add: %w", err)
	}
	b.logger.Debug("applied transform policy",
		"direction", sa.Direction.String(), "spi", uint32(sa.SPI), "port", port)
	return nil
}

// RemoveTransform deletes the policies ApplyTransform installed for the
// socket, identified by its bound local port.
func (b *Backend) RemoveTransform(_ context.Context, socket uintptr) error {
	port, err := localPort(socket)
	if err != nil {
		return err
	}

	policies, err := netlink.XfrmPolicyList(netlink.FAMILY_ALL)
	if err != nil {
		return fmt.Errorf("xfrm policy list: %w", err)
	}
	for i := range policies {
		pol := &policies[i]
		if pol.SrcPort != port && pol.DstPort != port {
			continue
		}
		if err := netlink.XfrmPolicyDel(pol); err != nil {
			return fmt.Errorf("xfrm policy del: %w", err)
		}
	}
	b.logger.Debug("removed transform policies", "port", port)
	return nil
}

// IsAlive probes the netlink socket with a cheap dump request.
func (b *Backend) IsAlive(_ context.Context) bool {
	_, err := netlink.XfrmStateList(netlink.FAMILY_ALL)
	return err == nil
}

// state builds the netlink SA for one direction of a transform.
func (b *Backend) state(sa ipsecmgr.SaInfo, cfg ipsecmgr.SaConfig) *netlink.XfrmState {
	state := &netlink.XfrmState{
		Src:          sa.Src,
		Dst:          sa.Dst,
		Proto:        netlink.XFRM_PROTO_ESP,
		Mode:         netlink.XFRM_MODE_TRANSPORT,
		Spi:          int(sa.SPI),
		Reqid:        cfg.ReqID,
		ReplayWindow: 32,
	}
	if cfg.Auth != nil {
		state.Auth = &netlink.XfrmStateAlgo{
			Name:        cfg.Auth.Name,
			Key:         cfg.Auth.Key,
			TruncateLen: cfg.Auth.TruncLenBits,
		}
	}
	if cfg.Crypt != nil {
		state.Crypt = &netlink.XfrmStateAlgo{
			Name: cfg.Crypt.Name,
			Key:  cfg.Crypt.Key,
		}
	}
	if cfg.Aead != nil {
		state.Aead = &netlink.XfrmStateAlgo{
			Name:   cfg.Aead.Name,
			Key:    cfg.Aead.Key,
			ICVLen: cfg.Aead.TruncLenBits,
		}
	}
	if cfg.Encap != nil {
		state.Encap = &netlink.XfrmStateEncap{
			Type:            netlink.XFRM_ENCAP_ESPINUDP,
			SrcPort:         cfg.Encap.SrcPort,
			DstPort:         cfg.Encap.DstPort,
			OriginalAddress: net.IPv4zero,
		}
	}
	return state
}

// hostNet returns the single-host network containing ip.
func hostNet(ip net.IP) *net.IPNet {
	bits := 128
	if ip.To4() != nil {
		bits = 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
}

// localPort returns the bound local port of a client socket.
func localPort(socket uintptr) (int, error) {
	name, err := unix.Getsockname(int(socket))
	if err != nil {
		return 0, fmt.Errorf("getsockname: %w", err)
	}
	switch addr := name.(type) {
	case *unix.SockaddrInet4:
		return addr.Port, nil
	case *unix.SockaddrInet6:
		return addr.Port, nil
	default:
		return 0, fmt.Errorf("socket is not an inet socket")
	}
}
