package registry

import (
	"log/slog"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// Users maps principal identity to UserRecord, creating records lazily
// on first touch. The map never shrinks: a principal's record persists
// for the life of the manager process, which is acceptable because
// principal churn is low and an empty record is small.
type Users struct {
	quotas  Quotas
	records map[ipsecmgr.Principal]*UserRecord
	logger  *slog.Logger
}

// NewUsers returns an empty user table applying the given quotas to
// every principal.
func NewUsers(quotas Quotas, logger *slog.Logger) *Users {
	if logger == nil {
		logger = slog.Default()
	}
	return &Users{
		quotas:  quotas,
		records: make(map[ipsecmgr.Principal]*UserRecord),
		logger:  logger,
	}
}

// UserRecord returns the record for principal, creating it on first
// access. This is an authorization boundary, not merely a lookup: a
// caller may only obtain records for its own principal unless it is
// privileged.
func (s *Users) UserRecord(caller, principal ipsecmgr.Principal) (*UserRecord, error) {
	if caller != principal && !caller.Privileged() {
		return nil, ipsecmgr.AccessError{Caller: caller, Owner: principal}
	}
	if u, ok := s.records[principal]; ok {
		return u, nil
	}
	u := newUserRecord(principal, s.quotas, s.logger)
	s.records[principal] = u
	return u, nil
}

// Principals returns every principal with a record, in unspecified
// order. Diagnostic only.
func (s *Users) Principals() []ipsecmgr.Principal {
	ps := make([]ipsecmgr.Principal, 0, len(s.records))
	for p := range s.records {
		ps = append(ps, p)
	}
	return ps
}
