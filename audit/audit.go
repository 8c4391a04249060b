// Package audit journals allocation and release events to SQLite.
//
// The journal is strictly an operational record: resource state itself
// is in-memory only and is rebuilt from nothing when the manager
// restarts. Journal write failures are logged and otherwise ignored;
// auditing must never fail a client operation.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         TEXT    NOT NULL,
	op         TEXT    NOT NULL,
	principal  INTEGER NOT NULL,
	class      TEXT    NOT NULL,
	resource   INTEGER NOT NULL,
	outcome    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS events_principal ON events(principal);
`

// Journal records manager operations. It implements manager.Auditor.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the journal database at path. Use ":memory:"
// for an ephemeral journal.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit journal at %s: %w", path, err)
	}
	// modernc's driver is not safe for concurrent writers over
	// multiple connections on one file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialise audit schema: %w", err)
	}
	return &Journal{db: db, logger: logger.With("component", "audit")}, nil
}

// RecordEvent appends one event. Failures are logged only.
func (j *Journal) RecordEvent(ctx context.Context, op string, principal ipsecmgr.Principal, class ipsecmgr.Class, id ipsecmgr.ResourceID, opErr error) {
	outcome := "ok"
	if opErr != nil {
		outcome = opErr.Error()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (at, op, principal, class, resource, outcome) VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), op, uint32(principal), class.String(), uint32(id), outcome)
	if err != nil {
		j.logger.Error("failed to journal event", "op", op, "error", err)
	}
}

// Event is one journal row.
type Event struct {
	At        time.Time
	Op        string
	Principal ipsecmgr.Principal
	Class     string
	Resource  ipsecmgr.ResourceID
	Outcome   string
}

// Events returns the journal for one principal, oldest first.
func (j *Journal) Events(ctx context.Context, principal ipsecmgr.Principal) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT at, op, principal, class, resource, outcome FROM events WHERE principal = ? ORDER BY id`,
		uint32(principal))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			at        string
			ev        Event
			principal uint32
			resource  uint32
		)
		if err := rows.Scan(&at, &ev.Op, &principal, &ev.Class, &resource, &ev.Outcome); err != nil {
			return nil, err
		}
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		ev.Principal = ipsecmgr.Principal(principal)
		ev.Resource = ipsecmgr.ResourceID(resource)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close releases the underlying database.
func (j *Journal) Close() error { return j.db.Close() }
