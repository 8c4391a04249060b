package registry

import (
	"context"
	"log/slog"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// EncapSocketRecord is an open, bound UDP encapsulation socket. The
// socket itself is a process-local kernel resource; no backend call is
// involved in its teardown.
type EncapSocketRecord struct {
	id     ipsecmgr.ResourceID
	user   *UserRecord
	logger *slog.Logger
	sock   ipsecmgr.EncapSocket
}

// NewEncapSocketRecord records an already-open encapsulation socket.
func NewEncapSocketRecord(id ipsecmgr.ResourceID, user *UserRecord, logger *slog.Logger, sock ipsecmgr.EncapSocket) *EncapSocketRecord {
	return &EncapSocketRecord{
		id:     id,
		user:   user,
		logger: logger.With("component", "registry"),
		sock:   sock,
	}
}

func (r *EncapSocketRecord) ID() ipsecmgr.ResourceID { return r.id }

func (r *EncapSocketRecord) Class() ipsecmgr.Class { return ipsecmgr.ClassEncapSocket }

// Port returns the socket's bound local port.
func (r *EncapSocketRecord) Port() int { return r.sock.Port() }

// Socket returns the underlying socket, for handing the descriptor to
// the owning client.
func (r *EncapSocketRecord) Socket() ipsecmgr.EncapSocket { return r.sock }

// Invalidate removes the record from the owner's socket table.
func (r *EncapSocketRecord) Invalidate() { r.user.removeEncapSocketRecord(r.id) }

// FreeUnderlying closes the socket and returns the quota unit. Close
// errors are logged only: the descriptor is gone either way.
func (r *EncapSocketRecord) FreeUnderlying(ctx context.Context) {
	if err := r.sock.Close(); err != nil {
		r.logger.Error("failed to close encap socket",
			"id", uint32(r.id), "port", r.sock.Port(), "error", err)
	}
	r.user.EncapSocketQuota().Give()
}
