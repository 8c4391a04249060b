// Package liveness delivers client-connection termination signals to
// the resource lifecycle engine.
//
// Each resource subscribes to the connection that created it; when the
// server observes the connection die, cleanly or not, it calls
// Terminate, and every outstanding subscription for that connection
// fires. Crash cleanup therefore funnels into exactly the same release
// path as an explicit client request.
//
// Callbacks are invoked without the monitor's lock held, so they are
// free to take the manager lock and, from inside the release path, to
// call Unsubscribe again. Unsubscribing a token that already fired or
// was already removed is a no-op.
package liveness

import (
	"log/slog"
	"sync"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// Token identifies one subscription. Tokens are single-use: once the
// subscription fires or is unsubscribed the token is inert.
type Token struct {
	conn ipsecmgr.ConnID
	seq  uint64
}

// Monitor tracks termination subscriptions per client connection.
type Monitor struct {
	mu      sync.Mutex
	nextSeq uint64
	subs    map[ipsecmgr.ConnID]map[uint64]func()
	logger  *slog.Logger
}

// NewMonitor returns an empty monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		subs:   make(map[ipsecmgr.ConnID]map[uint64]func()),
		logger: logger.With("component", "liveness"),
	}
}

// Subscribe registers onTerminated to run when conn terminates.
func (m *Monitor) Subscribe(conn ipsecmgr.ConnID, onTerminated func()) *Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSeq++
	seq := m.nextSeq
	if m.subs[conn] == nil {
		m.subs[conn] = make(map[uint64]func())
	}
	m.subs[conn][seq] = onTerminated
	return &Token{conn: conn, seq: seq}
}

// Unsubscribe removes a subscription. Safe to call on a token whose
// subscription has already fired or been removed.
func (m *Monitor) Unsubscribe(tok *Token) {
	if tok == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.subs[tok.conn]; ok {
		delete(conn, tok.seq)
		if len(conn) == 0 {
			delete(m.subs, tok.conn)
		}
	}
}

// Terminate fires every subscription registered for conn. The
// subscriptions are removed before any callback runs, so a callback
// that unsubscribes (the release path always does) sees a no-op.
func (m *Monitor) Terminate(conn ipsecmgr.ConnID) {
	m.mu.Lock()
	fired := m.subs[conn]
	delete(m.subs, conn)
	m.mu.Unlock()

	if len(fired) == 0 {
		return
	}
	m.logger.Debug("connection terminated", "conn", uint64(conn), "subscriptions", len(fired))
	for _, fn := range fired {
		fn()
	}
}

// Outstanding returns the number of live subscriptions for conn.
// Diagnostic only.
func (m *Monitor) Outstanding(conn ipsecmgr.ConnID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[conn])
}
