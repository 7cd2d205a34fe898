package section

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
)

// Info is a node's knowledge of one section: its prefix, current key and members
type Info struct {
	Prefix      lib.Prefix   `json:"prefix"`
	Key         lib.HexBytes `json:"key"`                   // current section key
	Members     []*Member    `json:"members"`               // every known member; elders are derived
	Proof       chain.Proof  `json:"proof"`                 // how Key was proven to us
	KeySet      lib.HexBytes `json:"keySet,omitempty"`      // public key set of Key, when the section shares it
	KnowsOurKey lib.HexBytes `json:"knowsOurKey,omitempty"` // our key this section last acknowledged; never pruned
}

// Elders() derives the section's elders from its members
func (i *Info) Elders(elderSize int) []*Member { return SelectElders(i.Members, elderSize) }

// Bytes() encodes the info deterministically
func (i *Info) Bytes() []byte {
	enc := lib.NewEncoder().
		Bytes(1, i.Prefix.Bytes()).
		Bytes(2, i.Key).
		Bytes(3, i.Proof.Bytes())
	for _, m := range i.Members {
		enc.Message(4, m.encoder())
	}
	return enc.Bytes(5, i.KeySet).Encoded()
}

// InfoFromBytes() decodes an info encoded by Bytes()
func InfoFromBytes(bz []byte) (*Info, lib.ErrorI) {
	i := new(Info)
	err := lib.DecodeFields(bz, func(f lib.Field) (err lib.ErrorI) {
		switch f.Num {
		case 1:
			i.Prefix, err = lib.PrefixFromBytes(f.Bytes)
		case 2:
			i.Key = lib.Clone(f.Bytes)
		case 3:
			i.Proof, err = chain.ProofFromBytes(f.Bytes)
		case 4:
			var m *Member
			if m, err = MemberFromBytes(f.Bytes); err == nil {
				i.Members = append(i.Members, m)
			}
		case 5:
			i.KeySet = nonEmpty(f.Bytes)
		}
		return
	})
	if err != nil {
		return nil, err
	}
	return i, nil
}

// NetworkView is the arena of other sections this node knows about, addressed by prefix.
// Entries never overlap: learning about a section replaces every entry its prefix is compatible with
type NetworkView struct {
	sections map[string]*Info // prefix bit string -> info
	keys     map[string]bool  // every neighbour key ever verified, hex encoded
}

// NewNetworkView() creates an empty view
func NewNetworkView() *NetworkView {
	return &NetworkView{sections: make(map[string]*Info), keys: make(map[string]bool)}
}

// Update() records a section whose proof the caller verified, dropping the entries it supersedes.
// Returns false for stale info: an overlapping known section holds a key the new proof does not pass through
func (v *NetworkView) Update(info *Info) bool {
	var replaced []string
	for k, s := range v.sections {
		if !s.Prefix.IsCompatible(info.Prefix) {
			continue
		}
		if !bytes.Equal(s.Key, info.Key) && !info.Proof.Contains(s.Key) {
			return false
		}
		replaced = append(replaced, k)
	}
	if existing, ok := v.sections[info.Prefix.String()]; ok {
		info.KnowsOurKey = existing.KnowsOurKey
	}
	for _, k := range replaced {
		delete(v.sections, k)
	}
	v.sections[info.Prefix.String()] = info
	for _, e := range info.Proof.Entries {
		v.keys[hex.EncodeToString(e.Key)] = true
	}
	v.keys[hex.EncodeToString(info.Key)] = true
	return true
}

// Remove() forgets the section with exactly this prefix
func (v *NetworkView) Remove(prefix lib.Prefix) { delete(v.sections, prefix.String()) }

// RemoveCompatible() forgets every section overlapping the prefix, used when our own prefix changes
func (v *NetworkView) RemoveCompatible(prefix lib.Prefix) {
	for k, s := range v.sections {
		if s.Prefix.IsCompatible(prefix) {
			delete(v.sections, k)
		}
	}
}

// Get() returns the section with exactly this prefix
func (v *NetworkView) Get(prefix lib.Prefix) (*Info, bool) {
	i, ok := v.sections[prefix.String()]
	return i, ok
}

// All() returns every known section in prefix order
func (v *NetworkView) All() []*Info {
	all := make([]*Info, 0, len(v.sections))
	for _, s := range v.sections {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Prefix.Less(all[j].Prefix) })
	return all
}

// Len() returns the number of known sections
func (v *NetworkView) Len() int { return len(v.sections) }

// Matching() returns the known section responsible for the name, if any
func (v *NetworkView) Matching(name lib.XorName) (*Info, bool) {
	for _, s := range v.sections {
		if s.Prefix.Matches(name) {
			return s, true
		}
	}
	return nil, false
}

// Closest() returns the known section whose prefix best matches the name: the longest common prefix, then the XOR
// distance of the prefix to the name, then prefix order
func (v *NetworkView) Closest(name lib.XorName) (best *Info) {
	for _, s := range v.All() {
		if best == nil {
			best = s
			continue
		}
		a, b := s.Prefix.CommonPrefixLen(name), best.Prefix.CommonPrefixLen(name)
		if a > b || (a == b && name.Closer(s.Prefix.Name, best.Prefix.Name)) {
			best = s
		}
	}
	return
}

// TrustsKey() returns true if the key belongs to a known section's verified history
func (v *NetworkView) TrustsKey(key []byte) bool { return v.keys[hex.EncodeToString(key)] }

// Acknowledge() records that a neighbour trusts one of our keys
func (v *NetworkView) Acknowledge(prefix lib.Prefix, ourKey []byte) {
	if s, ok := v.sections[prefix.String()]; ok {
		s.KnowsOurKey = lib.Clone(ourKey)
	}
}

// PinnedKeys() returns the keys of our chain that neighbours rely on
func (v *NetworkView) PinnedKeys() (keys [][]byte) {
	for _, s := range v.All() {
		if len(s.KnowsOurKey) != 0 {
			keys = append(keys, s.KnowsOurKey)
		}
	}
	return
}

// Copy() returns a deep enough copy for snapshots
func (v *NetworkView) Copy() *NetworkView {
	cp := NewNetworkView()
	for k, s := range v.sections {
		c := *s
		cp.sections[k] = &c
	}
	for k := range v.keys {
		cp.keys[k] = true
	}
	return cp
}

type viewJSON struct {
	Sections []*Info  `json:"sections"`
	Keys     []string `json:"keys"`
}

// MarshalJSON() encodes the view for snapshots
func (v *NetworkView) MarshalJSON() ([]byte, error) {
	j := viewJSON{Sections: v.All()}
	for k := range v.keys {
		j.Keys = append(j.Keys, k)
	}
	sort.Strings(j.Keys)
	return json.Marshal(j)
}

// UnmarshalJSON() decodes a view encoded by MarshalJSON()
func (v *NetworkView) UnmarshalJSON(b []byte) error {
	j := new(viewJSON)
	if err := json.Unmarshal(b, j); err != nil {
		return err
	}
	*v = *NewNetworkView()
	for _, s := range j.Sections {
		v.sections[s.Prefix.String()] = s
	}
	for _, k := range j.Keys {
		v.keys[k] = true
	}
	return nil
}
