package section

import (
	"time"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
)

// Snapshot is the persisted form of a Manager, saved after every applied event
type Snapshot struct {
	Self       lib.XorName          `json:"self"`
	State      State                `json:"state"`
	Prefix     lib.Prefix           `json:"prefix"`
	Members    []*Member            `json:"members"`
	Chain      *chain.Chain         `json:"chain"`
	KeySet     *crypto.PublicKeySet `json:"keySet,omitempty"`
	Sequence   uint64               `json:"sequence"`
	Churn      uint64               `json:"churn"`
	View       *NetworkView         `json:"view"`
	Relocation *Relocation          `json:"relocation,omitempty"`
}

// Snapshot() captures the manager state
func (m *Manager) Snapshot() *Snapshot {
	return &Snapshot{
		Self:       m.self,
		State:      m.state,
		Prefix:     m.prefix,
		Members:    copyMembers(m.memberList()),
		Chain:      m.chain.Clone(),
		KeySet:     m.keySet,
		Sequence:   m.sequence,
		Churn:      m.churn,
		View:       m.view.Copy(),
		Relocation: m.relocation,
	}
}

// Restore() rebuilds a manager from a snapshot. The chain is re-verified; a broken chain is an integrity error
func Restore(config lib.SectionConfig, s *Snapshot, log lib.LoggerI) (*Manager, lib.ErrorI) {
	if s.Chain == nil {
		return nil, chain.ErrEmptyChain()
	}
	if err := s.Chain.CheckLinkage(); err != nil {
		return nil, err
	}
	m := NewManager(config, s.Self, s.Chain.FirstKey(), log)
	m.state, m.prefix, m.chain, m.keySet = s.State, s.Prefix, s.Chain.Clone(), s.KeySet
	m.sequence, m.churn, m.relocation = s.Sequence, s.Churn, s.Relocation
	if s.View != nil {
		m.view = s.View.Copy()
	}
	for _, mem := range s.Members {
		if !m.prefix.Matches(mem.Name) {
			return nil, ErrNameOutsidePrefix(mem.Name, m.prefix)
		}
		m.members[mem.Name] = mem.Copy()
	}
	m.elders = SelectElders(m.memberList(), config.ElderSize)
	// members get a fresh silence window after a restart
	now := time.Now()
	for name := range m.members {
		m.lastHeard[name] = now
	}
	return m, nil
}
