package manager_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
	"github.com/frobware/go-ipsecmgr/liveness"
	"github.com/frobware/go-ipsecmgr/manager"
)

// testLogger returns a logger for tests. By default it discards all
// output. Set IPSECMGR_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("IPSECMGR_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend implements ipsecmgr.Backend without touching the kernel.
// It records every call for verification and supports per-call error
// injection.
type fakeBackend struct {
	nextSpi uint32
	ops     []string

	// Error injection.
	failAllocate   error
	failOnNthAdd   int // fail the Nth AddSecurityAssociation (1-based, 0 = never)
	failOnNthApply int
	failDelete     error
	alive          bool

	addCalls   int
	applyCalls int

	// Config captured from the most recent AddSecurityAssociation.
	lastAddConfig ipsecmgr.SaConfig
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{nextSpi: 0x1000, alive: true}
}

func (b *fakeBackend) AllocateSpi(_ context.Context, sa ipsecmgr.SaInfo) (ipsecmgr.SPI, error) {
	if b.failAllocate != nil {
		b.ops = append(b.ops, fmt.Sprintf("alloc:%s:error", sa.Direction))
		return 0, b.failAllocate
	}
	spi := sa.SPI
	if spi == 0 {
		b.nextSpi++
		spi = ipsecmgr.SPI(b.nextSpi)
	}
	b.ops = append(b.ops, fmt.Sprintf("alloc:%s:%#x", sa.Direction, uint32(spi)))
	return spi, nil
}

func (b *fakeBackend) AddSecurityAssociation(_ context.Context, sa ipsecmgr.SaInfo, cfg ipsecmgr.SaConfig) error {
	b.addCalls++
	if b.failOnNthAdd != 0 && b.addCalls == b.failOnNthAdd {
		b.ops = append(b.ops, fmt.Sprintf("add:%s:error", sa.Direction))
		return fmt.Errorf("injected add failure")
	}
	b.lastAddConfig = cfg
	b.ops = append(b.ops, fmt.Sprintf("add:%s:%#x", sa.Direction, uint32(sa.SPI)))
	return nil
}

func (b *fakeBackend) DeleteSecurityAssociation(_ context.Context, sa ipsecmgr.SaInfo) error {
	if b.failDelete != nil {
		b.ops = append(b.ops, fmt.Sprintf("del:%s:error", sa.Direction))
		return b.failDelete
	}
	b.ops = append(b.ops, fmt.Sprintf("del:%s:%#x", sa.Direction, uint32(sa.SPI)))
	return nil
}

func (b *fakeBackend) ApplyTransform(_ context.Context, socket uintptr, sa ipsecmgr.SaInfo, _ ipsecmgr.SaConfig) error {
	b.applyCalls++
	if b.failOnNthApply != 0 && b.applyCalls == b.failOnNthApply {
		b.ops = append(b.ops, fmt.Sprintf("apply:%s:error", sa.Direction))
		return fmt.Errorf("injected apply failure")
	}
	b.ops = append(b.ops, fmt.Sprintf("apply:%s:%d", sa.Direction, socket))
	return nil
}

func (b *fakeBackend) RemoveTransform(_ context.Context, socket uintptr) error {
	b.ops = append(b.ops, fmt.Sprintf("remove:%d", socket))
	return nil
}

func (b *fakeBackend) IsAlive(context.Context) bool { return b.alive }

// fakeSocket implements ipsecmgr.EncapSocket.
type fakeSocket struct {
	port   int
	closed int
}

func (s *fakeSocket) Port() int { return s.port }

func (s *fakeSocket) FD() uintptr { return uintptr(1000 + s.port) }

func (s *fakeSocket) Close() error {
	s.closed++
	return nil
}

// fakeFactory implements manager.SocketFactory.
type fakeFactory struct {
	nextPort int
	opened   []*fakeSocket
	failOpen error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{nextPort: 32768}
}

func (f *fakeFactory) Open(port int) (ipsecmgr.EncapSocket, error) {
	if f.failOpen != nil {
		return nil, f.failOpen
	}
	if port == 0 {
		f.nextPort++
		port = f.nextPort
	}
	s := &fakeSocket{port: port}
	f.opened = append(f.opened, s)
	return s, nil
}

// testFixture wires a Manager to fakes and keeps them accessible for
// verification.
type testFixture struct {
	t       *testing.T
	Manager *manager.Manager
	Backend *fakeBackend
	Sockets *fakeFactory
	Monitor *liveness.Monitor
}

func newTestFixture(t *testing.T, opts ...manager.Option) *testFixture {
	t.Helper()
	backend := newFakeBackend()
	sockets := newFakeFactory()
	monitor := liveness.NewMonitor(testLogger())
	return &testFixture{
		t:       t,
		Manager: manager.New(backend, sockets, monitor, testLogger(), opts...),
		Backend: backend,
		Sockets: sockets,
		Monitor: monitor,
	}
}

// reserveSpi reserves an SPI and fails the test on error.
func (f *testFixture) reserveSpi(principal ipsecmgr.Principal, conn ipsecmgr.ConnID, dir ipsecmgr.Direction) (ipsecmgr.ResourceID, ipsecmgr.SPI) {
	f.t.Helper()
	id, spi, err := f.Manager.ReserveSecurityParameterIndex(context.Background(), principal, conn, ipsecmgr.SaInfo{
		Direction: dir,
		Src:       localAddr,
		Dst:       remoteAddr,
	})
	require.NoError(f.t, err)
	return id, spi
}

// createTransform builds a transform over freshly reserved SPIs and
// fails the test on error. encapID may be InvalidResourceID.
func (f *testFixture) createTransform(principal ipsecmgr.Principal, conn ipsecmgr.ConnID, encapID ipsecmgr.ResourceID) ipsecmgr.ResourceID {
	f.t.Helper()
	spiIn, _ := f.reserveSpi(principal, conn, ipsecmgr.DirectionIn)
	spiOut, _ := f.reserveSpi(principal, conn, ipsecmgr.DirectionOut)
	id, err := f.Manager.CreateTransform(context.Background(), principal, conn, ipsecmgr.TransformSpec{
		Config:      testSaConfig(),
		SpiIn:       spiIn,
		SpiOut:      spiOut,
		EncapSocket: encapID,
	})
	require.NoError(f.t, err)
	return id
}

// snapshot lists principal's resources as seen by itself.
func (f *testFixture) snapshot(principal ipsecmgr.Principal) manager.Snapshot {
	f.t.Helper()
	snap, err := f.Manager.List(principal, principal)
	require.NoError(f.t, err)
	return snap
}

// AssertBackendOps verifies the exact backend call sequence.
func (f *testFixture) AssertBackendOps(expected []string) {
	f.t.Helper()
	assert.Equal(f.t, expected, f.Backend.ops, "backend operations mismatch")
}

// AssertBackendOpsAnyOrder verifies the backend call set where the
// order is legitimately unspecified (termination fan-out).
func (f *testFixture) AssertBackendOpsAnyOrder(expected []string) {
	f.t.Helper()
	got := append([]string(nil), f.Backend.ops...)
	want := append([]string(nil), expected...)
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(f.t, want, got, "backend operations mismatch (order-insensitive)")
}

// AssertEmpty verifies principal holds nothing and its quotas are fully
// restored.
func (f *testFixture) AssertEmpty(principal ipsecmgr.Principal) {
	f.t.Helper()
	snap := f.snapshot(principal)
	assert.Empty(f.t, snap.Spis.IDs, "expected no SPI reservations")
	assert.Empty(f.t, snap.Transforms.IDs, "expected no transforms")
	assert.Empty(f.t, snap.EncapSockets.IDs, "expected no encap sockets")
	assert.Zero(f.t, snap.Spis.Used)
	assert.Zero(f.t, snap.Transforms.Used)
	assert.Zero(f.t, snap.EncapSockets.Used)
}
