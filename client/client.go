// Package client is the Go client for the ipsecmgr daemon. One Client
// maps to one daemon connection: resources created through it live at
// most as long as the connection, so Close (or process death) releases
// anything not already released explicitly.
package client

import (
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
	"github.com/frobware/go-ipsecmgr/api"
	"github.com/frobware/go-ipsecmgr/manager"
)

// Client talks to the daemon over its Unix socket. Methods are safe for
// concurrent use; requests are serialized on the connection.
type Client struct {
	mu  sync.Mutex
	mc  *api.MessageConn
	seq uint64
}

// Dial connects to the daemon socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return &Client{mc: api.NewMessageConn(conn)}, nil
}

// Close drops the connection. The daemon then releases every resource
// created through this client that has not been released already.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mc.Close()
}

// roundTrip sends one request and decodes the matching response body
// into out (which may be nil). sendFD rides along as SCM_RIGHTS when
// non-negative. The returned descriptor is the one received with the
// response, or -1.
func (c *Client) roundTrip(op string, body any, sendFD int, out any) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	req := api.Request{Seq: c.seq, Op: op}
	if body != nil {
		data, err := api.MarshalBody(body)
		if err != nil {
			return -1, err
		}
		req.Body = data
	}
	if err := c.mc.Send(req, sendFD); err != nil {
		return -1, fmt.Errorf("send %s: %w", op, err)
	}

	var resp api.Response
	fd, err := c.mc.Receive(&resp)
	if err != nil {
		return -1, fmt.Errorf("receive %s reply: %w", op, err)
	}
	if resp.Seq != req.Seq {
		closeFD(fd)
		return -1, fmt.Errorf("reply out of sequence: sent %d, got %d", req.Seq, resp.Seq)
	}
	if resp.Error != nil {
		closeFD(fd)
		return -1, resp.Error.Err()
	}
	if out != nil && resp.Body != nil {
		if err := api.UnmarshalBody(resp.Body, out); err != nil {
			closeFD(fd)
			return -1, err
		}
	}
	return fd, nil
}

// ReserveSpi reserves a security parameter index for one direction of a
// future transform. spi zero lets the kernel choose. Returns the
// resource identifier and the reserved SPI value.
func (c *Client) ReserveSpi(direction ipsecmgr.Direction, src, dst net.IP, spi ipsecmgr.SPI) (ipsecmgr.ResourceID, ipsecmgr.SPI, error) {
	var out api.ReserveSpiResponse
	fd, err := c.roundTrip(api.OpReserveSpi, api.ReserveSpiRequest{
		Direction: direction,
		Src:       src,
		Dst:       dst,
		Spi:       spi,
	}, -1, &out)
	closeFD(fd)
	if err != nil {
		return 0, 0, err
	}
	return out.ID, out.Spi, nil
}

// ReleaseSpi releases a reserved SPI.
func (c *Client) ReleaseSpi(id ipsecmgr.ResourceID) error {
	fd, err := c.roundTrip(api.OpReleaseSpi, api.ReleaseRequest{ID: id}, -1, nil)
	closeFD(fd)
	return err
}

// EncapSocket is a UDP encapsulation socket opened by the daemon. The
// File is this process's own descriptor for it; closing the File does
// not release the daemon-side resource.
type EncapSocket struct {
	ID   ipsecmgr.ResourceID
	Port int
	File *os.File
}

// OpenEncapSocket opens a UDP encapsulation socket. port zero asks for
// a kernel-chosen port.
func (c *Client) OpenEncapSocket(port int) (*EncapSocket, error) {
	var out api.OpenEncapResponse
	fd, err := c.roundTrip(api.OpOpenEncap, api.OpenEncapRequest{Port: port}, -1, &out)
	if err != nil {
		return nil, err
	}
	if fd < 0 {
		return nil, fmt.Errorf("daemon did not pass the encap socket descriptor")
	}
	return &EncapSocket{
		ID:   out.ID,
		Port: out.Port,
		File: os.NewFile(uintptr(fd), fmt.Sprintf("udp-encap:%d", out.Port)),
	}, nil
}

// CloseEncapSocket releases an encapsulation socket resource.
func (c *Client) CloseEncapSocket(id ipsecmgr.ResourceID) error {
	fd, err := c.roundTrip(api.OpCloseEncap, api.ReleaseRequest{ID: id}, -1, nil)
	closeFD(fd)
	return err
}

// CreateTransform builds a composite transform from previously reserved
// resources.
func (c *Client) CreateTransform(spec ipsecmgr.TransformSpec) (ipsecmgr.ResourceID, error) {
	var out api.CreateTransformResponse
	fd, err := c.roundTrip(api.OpCreateTransform, api.CreateTransformRequest{Spec: spec}, -1, &out)
	closeFD(fd)
	if err != nil {
		return 0, err
	}
	return out.ID, nil
}

// DeleteTransform releases a transform.
func (c *Client) DeleteTransform(id ipsecmgr.ResourceID) error {
	fd, err := c.roundTrip(api.OpDeleteTransform, api.ReleaseRequest{ID: id}, -1, nil)
	closeFD(fd)
	return err
}

// ApplyTransform points traffic on socket at the transform. socket is a
// descriptor in this process; it is passed to the daemon, which reads
// its bound port.
func (c *Client) ApplyTransform(id ipsecmgr.ResourceID, socket uintptr) error {
	fd, err := c.roundTrip(api.OpApplyTransform, api.ApplyTransformRequest{ID: id}, int(socket), nil)
	closeFD(fd)
	return err
}

// RemoveTransform detaches any applied transform from socket.
func (c *Client) RemoveTransform(socket uintptr) error {
	fd, err := c.roundTrip(api.OpRemoveTransform, nil, int(socket), nil)
	closeFD(fd)
	return err
}

// List snapshots a principal's resources. principal zero means the
// caller itself; naming another principal requires privilege.
func (c *Client) List(principal ipsecmgr.Principal) (manager.Snapshot, error) {
	var out manager.Snapshot
	fd, err := c.roundTrip(api.OpList, api.ListRequest{Principal: principal}, -1, &out)
	closeFD(fd)
	if err != nil {
		return manager.Snapshot{}, err
	}
	return out, nil
}

func closeFD(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
