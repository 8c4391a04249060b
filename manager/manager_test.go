package manager_test

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
	"github.com/frobware/go-ipsecmgr/manager"
	"github.com/frobware/go-ipsecmgr/registry"
)

var (
	localAddr  = net.ParseIP("192.0.2.1")
	remoteAddr = net.ParseIP("192.0.2.2")
)

const (
	alice ipsecmgr.Principal = 10001
	bob   ipsecmgr.Principal = 10002

	conn1 ipsecmgr.ConnID = 1
	conn2 ipsecmgr.ConnID = 2
)

func testSaConfig() ipsecmgr.SaConfig {
	return ipsecmgr.SaConfig{
		Src: localAddr,
		Dst: remoteAddr,
		Auth: &ipsecmgr.Algo{
			Name:         "hmac(sha256)",
			Key:          make([]byte, 32),
			TruncLenBits: 128,
		},
		Crypt: &ipsecmgr.Algo{
			Name: "cbc(aes)",
			Key:  make([]byte, 16),
		},
		ReqID: 12,
	}
}

func TestReserveAndReleaseSpi(t *testing.T) {
	f := newTestFixture(t)

	id, spi, err := f.Manager.ReserveSecurityParameterIndex(context.Background(), alice, conn1, ipsecmgr.SaInfo{
		Direction: ipsecmgr.DirectionIn,
		Src:       localAddr,
		Dst:       remoteAddr,
	})
	require.NoError(t, err)
	assert.NotEqual(t, ipsecmgr.InvalidResourceID, id)
	assert.NotZero(t, spi)

	snap := f.snapshot(alice)
	assert.Equal(t, []ipsecmgr.ResourceID{id}, snap.Spis.IDs)
	assert.Equal(t, 1, snap.Spis.Used)

	require.NoError(t, f.Manager.ReleaseSecurityParameterIndex(context.Background(), alice, id))
	f.AssertBackendOps([]string{
		fmt.Sprintf("alloc:in:%#x", uint32(spi)),
		fmt.Sprintf("del:in:%#x", uint32(spi)),
	})
	f.AssertEmpty(alice)
}

func TestReserveSpiHonoursRequestedValue(t *testing.T) {
	f := newTestFixture(t)

	_, spi, err := f.Manager.ReserveSecurityParameterIndex(context.Background(), alice, conn1, ipsecmgr.SaInfo{
		Direction: ipsecmgr.DirectionOut,
		Src:       localAddr,
		Dst:       remoteAddr,
		SPI:       0xdead,
	})
	require.NoError(t, err)
	assert.Equal(t, ipsecmgr.SPI(0xdead), spi)
}

func TestReserveSpiQuotaExhaustedFailsFast(t *testing.T) {
	f := newTestFixture(t, manager.WithQuotas(registry.Quotas{Spis: 2, Transforms: 4, EncapSockets: 2}))

	f.reserveSpi(alice, conn1, ipsecmgr.DirectionIn)
	f.reserveSpi(alice, conn1, ipsecmgr.DirectionOut)
	allocsBefore := len(f.Backend.ops)

	_, _, err := f.Manager.ReserveSecurityParameterIndex(context.Background(), alice, conn1, ipsecmgr.SaInfo{
		Direction: ipsecmgr.DirectionIn,
		Src:       localAddr,
		Dst:       remoteAddr,
	})
	require.ErrorIs(t, err, ipsecmgr.ErrResourceExhausted)

	var quotaErr ipsecmgr.QuotaError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, ipsecmgr.ClassSPI, quotaErr.Class)
	assert.Equal(t, 2, quotaErr.Max)

	assert.Len(t, f.Backend.ops, allocsBefore, "quota rejection must not reach the backend")

	// Quotas bound live resources, not lifetime totals: releasing makes
	// room again.
	snap := f.snapshot(alice)
	require.NoError(t, f.Manager.ReleaseSecurityParameterIndex(context.Background(), alice, snap.Spis.IDs[0]))
	f.reserveSpi(alice, conn1, ipsecmgr.DirectionIn)
}

func TestReserveSpiBackendFailureLeavesNoTrace(t *testing.T) {
	f := newTestFixture(t)
	f.Backend.failAllocate = fmt.Errorf("injected allocate failure")

	_, _, err := f.Manager.ReserveSecurityParameterIndex(context.Background(), alice, conn1, ipsecmgr.SaInfo{
		Direction: ipsecmgr.DirectionIn,
		Src:       localAddr,
		Dst:       remoteAddr,
	})
	var backendErr ipsecmgr.BackendError
	require.ErrorAs(t, err, &backendErr)

	f.AssertEmpty(alice)
	assert.Equal(t, 0, f.Monitor.Outstanding(conn1))
}

func TestReleaseUnknownSpiIsNotFound(t *testing.T) {
	f := newTestFixture(t)

	err := f.Manager.ReleaseSecurityParameterIndex(context.Background(), alice, 42)
	assert.ErrorIs(t, err, ipsecmgr.ErrNotFound)
}

func TestPrincipalsCannotSeeEachOthersResources(t *testing.T) {
	f := newTestFixture(t)

	id, _ := f.reserveSpi(alice, conn1, ipsecmgr.DirectionIn)

	// Bob's release attempt resolves in bob's own table: the resource is
	// invisible, not forbidden.
	err := f.Manager.ReleaseSecurityParameterIndex(context.Background(), bob, id)
	assert.ErrorIs(t, err, ipsecmgr.ErrNotFound)

	// Alice still holds it.
	snap := f.snapshot(alice)
	assert.Equal(t, []ipsecmgr.ResourceID{id}, snap.Spis.IDs)
}

func TestListAuthorization(t *testing.T) {
	f := newTestFixture(t)
	f.reserveSpi(alice, conn1, ipsecmgr.DirectionIn)

	_, err := f.Manager.List(bob, alice)
	var accessErr ipsecmgr.AccessError
	assert.ErrorAs(t, err, &accessErr)

	for _, privileged := range []ipsecmgr.Principal{ipsecmgr.PrincipalRoot, ipsecmgr.PrincipalSystem} {
		snap, err := f.Manager.List(privileged, alice)
		require.NoError(t, err)
		assert.Equal(t, 1, snap.Spis.Used)
	}
}

func TestResourceIdentifiersAreUniqueAcrossClasses(t *testing.T) {
	f := newTestFixture(t)

	seen := make(map[ipsecmgr.ResourceID]bool)
	note := func(id ipsecmgr.ResourceID) {
		assert.False(t, seen[id], "identifier %d reused", id)
		seen[id] = true
	}

	spiID, _ := f.reserveSpi(alice, conn1, ipsecmgr.DirectionIn)
	note(spiID)
	encapID, _, err := f.Manager.OpenUdpEncapsulationSocket(context.Background(), alice, conn1, 0)
	require.NoError(t, err)
	note(encapID)
	spiID2, _ := f.reserveSpi(bob, conn2, ipsecmgr.DirectionOut)
	note(spiID2)
}

func TestOpenAndCloseEncapSocket(t *testing.T) {
	f := newTestFixture(t)

	id, port, err := f.Manager.OpenUdpEncapsulationSocket(context.Background(), alice, conn1, 0)
	require.NoError(t, err)
	assert.NotZero(t, port, "kernel-chosen port must be reported")

	require.Len(t, f.Sockets.opened, 1)
	assert.Equal(t, port, f.Sockets.opened[0].port)

	require.NoError(t, f.Manager.CloseUdpEncapsulationSocket(context.Background(), alice, id))
	assert.Equal(t, 1, f.Sockets.opened[0].closed)
	f.AssertEmpty(alice)
}

func TestOpenEncapSocketRejectsPrivilegedPorts(t *testing.T) {
	f := newTestFixture(t)

	for _, port := range []int{-1, 1, 1023, 70000} {
		_, _, err := f.Manager.OpenUdpEncapsulationSocket(context.Background(), alice, conn1, port)
		assert.Error(t, err, "port %d must be rejected", port)
	}

	_, port, err := f.Manager.OpenUdpEncapsulationSocket(context.Background(), alice, conn1, 4500)
	require.NoError(t, err)
	assert.Equal(t, 4500, port)
}

func TestEncapSocketQuota(t *testing.T) {
	f := newTestFixture(t)

	for i := 0; i < 2; i++ {
		_, _, err := f.Manager.OpenUdpEncapsulationSocket(context.Background(), alice, conn1, 0)
		require.NoError(t, err)
	}
	_, _, err := f.Manager.OpenUdpEncapsulationSocket(context.Background(), alice, conn1, 0)
	assert.ErrorIs(t, err, ipsecmgr.ErrResourceExhausted)
	assert.Len(t, f.Sockets.opened, 2, "quota rejection must not open a socket")
}
