// Package encap creates kernel UDP encapsulation sockets for
// ESP-in-UDP (RFC 3948). The socket is opened and configured by the
// manager process so that untrusted clients never hold an unconfigured
// encapsulation descriptor; the bound descriptor is handed back to the
// client once tracking is in place.
package encap

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// Socket is an open UDP encapsulation socket.
type Socket struct {
	f    *os.File
	port int
}

// Port returns the bound local port.
func (s *Socket) Port() int { return s.port }

// FD returns the descriptor for passing to the owning client.
func (s *Socket) FD() uintptr { return s.f.Fd() }

// Close releases the socket.
func (s *Socket) Close() error { return s.f.Close() }

// Factory opens encapsulation sockets. It implements the manager's
// SocketFactory.
type Factory struct {
	logger *slog.Logger
}

// NewFactory returns a socket factory.
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{logger: logger.With("component", "encap")}
}

// Open creates a UDP socket, enables ESP-in-UDP decapsulation on it,
// and binds it to port (zero for a kernel-chosen port).
func (f *Factory) Open(port int) (ipsecmgr.EncapSocket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("create encap socket: %w", err)
	}

	// UDP_ENCAP must be set before traffic flows: the kernel strips the
	// non-ESP marker and hands ESP payloads to XFRM only for sockets
	// configured this way.
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_UDP, unix.UDP_ENCAP, unix.UDP_ENCAP_ESPINUDP); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set UDP_ENCAP_ESPINUDP: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind encap socket to port %d: %w", port, err)
	}

	bound := port
	if bound == 0 {
		name, err := unix.Getsockname(fd)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("getsockname on encap socket: %w", err)
		}
		in4, ok := name.(*unix.SockaddrInet4)
		if !ok {
			unix.Close(fd)
			return nil, fmt.Errorf("unexpected sockaddr family on encap socket")
		}
		bound = in4.Port
	}

	f.logger.Debug("opened encap socket", "port", bound)
	return &Socket{
		f:    os.NewFile(uintptr(fd), fmt.Sprintf("udp-encap:%d", bound)),
		port: bound,
	}, nil
}
