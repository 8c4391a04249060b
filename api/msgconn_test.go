package api_test

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-ipsecmgr/api"
)

// newConnPair returns two connected MessageConns over a socketpair.
func newConnPair(t *testing.T) (*api.MessageConn, *api.MessageConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	wrap := func(fd int, name string) *api.MessageConn {
		f := os.NewFile(uintptr(fd), name)
		defer f.Close() // FileConn duplicates the descriptor
		conn, err := net.FileConn(f)
		require.NoError(t, err)
		uc, ok := conn.(*net.UnixConn)
		require.True(t, ok)
		mc := api.NewMessageConn(uc)
		t.Cleanup(func() { mc.Close() })
		return mc
	}
	return wrap(fds[0], "pair0"), wrap(fds[1], "pair1")
}

func TestMessageConnRoundTrip(t *testing.T) {
	a, b := newConnPair(t)

	sent := api.Request{Seq: 1, Op: api.OpList}
	require.NoError(t, a.Send(sent, -1))

	var got api.Request
	fd, err := b.Receive(&got)
	require.NoError(t, err)
	assert.Equal(t, -1, fd)
	assert.Equal(t, sent.Seq, got.Seq)
	assert.Equal(t, sent.Op, got.Op)
}

func TestMessageConnSequencing(t *testing.T) {
	a, b := newConnPair(t)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, a.Send(api.Request{Seq: seq, Op: api.OpList}, -1))
	}
	for seq := uint64(1); seq <= 3; seq++ {
		var got api.Request
		_, err := b.Receive(&got)
		require.NoError(t, err)
		assert.Equal(t, seq, got.Seq, "messages arrive in order")
	}
}

func TestMessageConnPassesDescriptor(t *testing.T) {
	a, b := newConnPair(t)

	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, a.Send(api.Request{Seq: 1, Op: api.OpApplyTransform}, int(f.Fd())))

	var got api.Request
	fd, err := b.Receive(&got)
	require.NoError(t, err)
	require.GreaterOrEqual(t, fd, 0, "descriptor must arrive with the message")
	defer unix.Close(fd)

	// The received descriptor is a live duplicate.
	var stat unix.Stat_t
	assert.NoError(t, unix.Fstat(fd, &stat))
}

func TestMessageConnDescriptorBindsToItsMessage(t *testing.T) {
	a, b := newConnPair(t)

	f, err := os.Open(os.DevNull)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, a.Send(api.Request{Seq: 1, Op: api.OpApplyTransform}, int(f.Fd())))
	require.NoError(t, a.Send(api.Request{Seq: 2, Op: api.OpList}, -1))

	var first api.Request
	fd, err := b.Receive(&first)
	require.NoError(t, err)
	require.GreaterOrEqual(t, fd, 0)
	unix.Close(fd)

	var second api.Request
	fd, err = b.Receive(&second)
	require.NoError(t, err)
	assert.Equal(t, -1, fd, "descriptor must not leak into the next message")
}
