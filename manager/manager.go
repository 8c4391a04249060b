// Package manager is the service entry point for the IPsec
// security-association manager. It validates requests against the
// caller's principal, issues resource identifiers, invokes the kernel
// backend, and registers the results in the resource registry.
//
// # Locking model
//
// The manager is an effectively single-threaded critical section: one
// coarse mutex covers all in-memory state, so refcounts, quota
// counters and table membership always change atomically relative to
// each other. Backend calls are synchronous and made while holding the
// lock. The only asynchronous trigger, a client connection dying, is
// funnelled through the same lock by the liveness binder, making crash
// cleanup equivalent to any other entry point.
//
// Operations never block waiting for quota; a full tracker fails fast
// with a quota error. There is no cancellation of in-flight
// allocation: an operation either registers a resource or leaves no
// trace.
package manager

import (
	"context"
	"log/slog"
	"sync"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
	"github.com/frobware/go-ipsecmgr/liveness"
	"github.com/frobware/go-ipsecmgr/registry"
)

// SocketFactory opens bound UDP encapsulation sockets. The production
// implementation is encap.Factory; tests substitute fakes.
type SocketFactory interface {
	// Open binds a UDP encapsulation socket to port, or to a
	// kernel-chosen port when port is zero.
	Open(port int) (ipsecmgr.EncapSocket, error)
}

// Auditor receives one event per completed operation, successful or
// not. Implementations must not call back into the manager.
type Auditor interface {
	RecordEvent(ctx context.Context, op string, principal ipsecmgr.Principal, class ipsecmgr.Class, id ipsecmgr.ResourceID, opErr error)
}

// Manager brokers SPI reservations, encapsulation sockets and
// transforms on behalf of client connections.
type Manager struct {
	mu sync.Mutex

	backend ipsecmgr.Backend
	sockets SocketFactory
	monitor *liveness.Monitor
	users   *registry.Users
	auditor Auditor
	logger  *slog.Logger

	nextID uint32
}

// Option configures a Manager.
type Option func(*Manager)

// WithQuotas overrides the default per-principal quotas.
func WithQuotas(q registry.Quotas) Option {
	return func(m *Manager) {
		m.users = registry.NewUsers(q, m.logger)
	}
}

// WithAuditor attaches an operation journal.
func WithAuditor(a Auditor) Option {
	return func(m *Manager) { m.auditor = a }
}

// New creates a Manager with default quotas.
func New(backend ipsecmgr.Backend, sockets SocketFactory, monitor *liveness.Monitor, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		backend: backend,
		sockets: sockets,
		monitor: monitor,
		logger:  logger.With("component", "manager"),
	}
	m.users = registry.NewUsers(registry.DefaultQuotas(), m.logger)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// BackendAlive probes the kernel backend connection. Independent of
// per-client state; does not take the manager lock.
func (m *Manager) BackendAlive(ctx context.Context) bool {
	return m.backend.IsAlive(ctx)
}

// OnConnectionTerminated releases every resource still bound to conn.
// The server calls this when a client connection closes, announced or
// not; cleanup reuses the exact release path an explicit request would.
func (m *Manager) OnConnectionTerminated(conn ipsecmgr.ConnID) {
	m.monitor.Terminate(conn)
}

// issueID returns the next resource identifier. Identifiers are issued
// monotonically and never reused while a record with that ID is live;
// zero is skipped because it is the invalid sentinel. Caller holds mu.
func (m *Manager) issueID() ipsecmgr.ResourceID {
	m.nextID++
	if m.nextID == 0 {
		m.nextID = 1
	}
	return ipsecmgr.ResourceID(m.nextID)
}

// bind returns a liveness binder for conn whose termination callback
// re-acquires the manager lock, so connection-death cleanup runs under
// the same serialization as every other mutation.
func (m *Manager) bind(conn ipsecmgr.ConnID) registry.LivenessBinder {
	return func(onTerminated func()) func() {
		tok := m.monitor.Subscribe(conn, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			onTerminated()
		})
		return func() { m.monitor.Unsubscribe(tok) }
	}
}

func (m *Manager) audit(ctx context.Context, op string, principal ipsecmgr.Principal, class ipsecmgr.Class, id ipsecmgr.ResourceID, opErr error) {
	if m.auditor != nil {
		m.auditor.RecordEvent(ctx, op, principal, class, id, opErr)
	}
}
