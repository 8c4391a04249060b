package manager

import (
	"slices"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
	"github.com/frobware/go-ipsecmgr/registry"
)

// ClassSnapshot lists one class of a principal's live resources and its
// quota usage.
type ClassSnapshot struct {
	IDs  []ipsecmgr.ResourceID `json:"ids"`
	Used int                   `json:"used"`
	Max  int                   `json:"max"`
}

// Snapshot is a point-in-time view of one principal's resources.
type Snapshot struct {
	Principal    ipsecmgr.Principal `json:"principal"`
	Spis         ClassSnapshot      `json:"spis"`
	Transforms   ClassSnapshot      `json:"transforms"`
	EncapSockets ClassSnapshot      `json:"encap_sockets"`
}

// List returns a snapshot of principal's resources. Callers may only
// inspect their own principal unless privileged.
func (m *Manager) List(caller, principal ipsecmgr.Principal) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, err := m.users.UserRecord(caller, principal)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Principal:    principal,
		Spis:         snapshotClass(user.Spis(), user.SpiQuota().Current(), user.SpiQuota().Max()),
		Transforms:   snapshotClass(user.Transforms(), user.TransformQuota().Current(), user.TransformQuota().Max()),
		EncapSockets: snapshotClass(user.EncapSockets(), user.EncapSocketQuota().Current(), user.EncapSocketQuota().Max()),
	}, nil
}

func snapshotClass(t *registry.Table, used, max int) ClassSnapshot {
	ids := t.IDs()
	slices.Sort(ids)
	return ClassSnapshot{IDs: ids, Used: used, Max: max}
}
