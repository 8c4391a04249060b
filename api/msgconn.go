package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// MessageConn frames JSON documents on a Unix stream socket, one per
// line, and carries at most one file descriptor per message as
// SCM_RIGHTS. Not safe for concurrent use.
type MessageConn struct {
	conn *net.UnixConn
	buf  bytes.Buffer
	rbuf []byte
	oob  []byte

	// fd is a received descriptor not yet claimed by a message, or -1.
	fd int
}

// NewMessageConn wraps conn. The wrapper owns the connection; Close
// closes it.
func NewMessageConn(conn *net.UnixConn) *MessageConn {
	return &MessageConn{
		conn: conn,
		rbuf: make([]byte, 64<<10),
		oob:  make([]byte, unix.CmsgSpace(4)),
		fd:   -1,
	}
}

// Send writes v as one line, attaching fd as SCM_RIGHTS when fd is
// non-negative. The sender keeps its copy of the descriptor; the kernel
// duplicates it into the receiver.
func (m *MessageConn) Send(v any, fd int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	data = append(data, '\n')
	if fd >= 0 {
		_, _, err = m.conn.WriteMsgUnix(data, unix.UnixRights(fd), nil)
		return err
	}
	_, err = m.conn.Write(data)
	return err
}

// Receive reads the next line into v and returns the descriptor
// received with it, or -1. The caller owns a returned descriptor and
// must close it.
func (m *MessageConn) Receive(v any) (int, error) {
	for {
		if i := bytes.IndexByte(m.buf.Bytes(), '\n'); i >= 0 {
			line := m.buf.Next(i + 1)
			fd := m.fd
			m.fd = -1
			if err := json.Unmarshal(line[:i], v); err != nil {
				if fd >= 0 {
					unix.Close(fd)
				}
				return -1, fmt.Errorf("decode message: %w", err)
			}
			return fd, nil
		}

		n, oobn, _, _, err := m.conn.ReadMsgUnix(m.rbuf, m.oob)
		if n > 0 {
			m.buf.Write(m.rbuf[:n])
		}
		if oobn > 0 {
			m.takeRights(m.oob[:oobn])
		}
		if err != nil {
			return -1, err
		}
	}
}

// takeRights extracts passed descriptors from ancillary data, keeping
// the first and closing any surplus.
func (m *MessageConn) takeRights(oob []byte) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return
	}
	for _, msg := range msgs {
		fds, err := unix.ParseUnixRights(&msg)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			if m.fd < 0 {
				m.fd = fd
			} else {
				unix.Close(fd)
			}
		}
	}
}

// Close closes the connection and any unclaimed descriptor.
func (m *MessageConn) Close() error {
	if m.fd >= 0 {
		unix.Close(m.fd)
		m.fd = -1
	}
	return m.conn.Close()
}
