package section

import (
	"bytes"
	"sort"
	"time"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
)

/*
	The Manager is a node's view of its own section: prefix, members, elders, section chain and neighbours.

	Agreed churn events are the only input that mutates it, applied strictly in the order the consensus driver delivers
	them. Everything else it offers is an observation: a proposal the node hands to consensus, which only takes effect
	if and when it comes back agreed. A node never promotes, demotes or removes anyone on its own.
*/

// Effects reports what applying an agreed event changed
type Effects struct {
	Event           *Event        // the applied event
	Sequence        uint64        // its sequence number
	Added           []lib.XorName // members that entered the section
	Removed         []lib.XorName // members that left the section
	ElderSetChanged bool          // the elder set differs from before the event
	PrefixChanged   bool          // a split or merge changed our prefix
	KeyRotated      bool          // a new section key was appended to the chain
	From, To        State         // this node's state before and after
	Relocation      *Relocation   // set when this node was ordered to relocate
	Sibling         *Info         // set on split: the half we are no longer part of
}

// StateChanged() returns true if the event moved this node in the state machine
func (e *Effects) StateChanged() bool { return e.From != e.To }

// transitions are the legal moves of the membership state machine
var transitions = map[State][]State{
	StateJoining:    {StateAdult, StateElder},
	StateAdult:      {StateElder, StateRelocating, StateJoining},
	StateElder:      {StateAdult, StateRelocating, StateJoining},
	StateRelocating: {StateJoining},
}

// Manager owns the section state of a single node; it must only be used from the node's event loop
type Manager struct {
	config       lib.SectionConfig
	self         lib.XorName
	state        State
	prefix       lib.Prefix
	members      map[lib.XorName]*Member
	elders       []*Member
	chain        *chain.Chain
	keySet       *crypto.PublicKeySet // public key set of the current section key, if known
	view         *NetworkView
	sequence     uint64 // last applied event sequence
	churn        uint64 // membership events since the last relocation
	relocation   *Relocation
	lastHeard    map[lib.XorName]time.Time
	lost         map[lib.XorName]time.Time
	proposedLeft map[lib.XorName]bool
	log          lib.LoggerI
}

// NewManager() creates the state of a node that has not joined yet and only trusts the network genesis key
func NewManager(config lib.SectionConfig, self lib.XorName, genesisKey []byte, log lib.LoggerI) *Manager {
	return &Manager{
		config:       config,
		self:         self,
		state:        StateJoining,
		members:      make(map[lib.XorName]*Member),
		chain:        chain.New(genesisKey),
		view:         NewNetworkView(),
		lastHeard:    make(map[lib.XorName]time.Time),
		lost:         make(map[lib.XorName]time.Time),
		proposedLeft: make(map[lib.XorName]bool),
		log:          log,
	}
}

// Genesis() makes this node the sole elder of the first section; keySet must be the genesis key's set
func (m *Manager) Genesis(self *Member, keySet *crypto.PublicKeySet) lib.ErrorI {
	if m.state != StateJoining || len(m.members) != 0 || m.chain.Len() != 1 {
		return ErrInvalidStateChange(m.state, StateElder)
	}
	if self.Name != m.self || !bytes.Equal(keySet.PublicKey().Bytes(), m.chain.LastKey()) {
		return ErrInvalidEventData("genesis member or key mismatch")
	}
	first := self.Copy()
	first.Age, first.Joined = 1, 0
	m.members[first.Name] = first
	m.keySet = keySet
	m.refresh(&Effects{From: m.state})
	m.log.Infof("Started the network genesis section as %s", m.state)
	return nil
}

// Apply() applies an agreed event. Events must arrive with consecutive sequence numbers.
// An error leaves the event applied as a no-op; a chain integrity error is fatal to the caller
func (m *Manager) Apply(ev *Event, seq uint64) (*Effects, lib.ErrorI) {
	if seq != m.sequence+1 {
		return nil, ErrOutOfOrderEvent(m.sequence+1, seq)
	}
	m.sequence = seq
	fx := &Effects{Event: ev, Sequence: seq, From: m.state, To: m.state}
	var err lib.ErrorI
	switch ev.Kind {
	case EventNodeJoined:
		err = m.applyJoined(ev, seq, fx)
	case EventNodeLeft:
		err = m.applyLeft(ev, fx)
	case EventNodeRelocated:
		err = m.applyRelocated(ev, fx)
	case EventSectionSplit:
		err = m.applySplit(ev, fx)
	case EventSectionMerge:
		err = m.applyMerge(ev, fx)
	case EventKeyRotated:
		err = m.applyKeyRotated(ev, fx)
	default:
		err = ErrUnknownEvent(ev.Kind)
	}
	if err != nil {
		return fx, err
	}
	m.refresh(fx)
	m.log.Debugf("Applied %s at sequence %d", ev, seq)
	return fx, nil
}

func (m *Manager) applyJoined(ev *Event, seq uint64, fx *Effects) lib.ErrorI {
	if ev.Member == nil {
		return ErrInvalidEventData("joined event without a member")
	}
	mem := ev.Member.Copy()
	if !m.prefix.Matches(mem.Name) {
		return ErrNameOutsidePrefix(mem.Name, m.prefix)
	}
	if _, exists := m.members[mem.Name]; exists {
		return ErrMemberExists(mem.Name)
	}
	mem.Joined = seq
	if mem.Age == 0 {
		mem.Age = 1
	}
	m.members[mem.Name] = mem
	m.churn++
	fx.Added = append(fx.Added, mem.Name)
	return nil
}

func (m *Manager) applyLeft(ev *Event, fx *Effects) lib.ErrorI {
	if _, ok := m.members[ev.Name]; !ok {
		return ErrMemberNotFound(ev.Name)
	}
	m.removeMember(ev.Name)
	m.churn++
	fx.Removed = append(fx.Removed, ev.Name)
	return nil
}

func (m *Manager) applyRelocated(ev *Event, fx *Effects) lib.ErrorI {
	mem, ok := m.members[ev.Name]
	if !ok {
		return ErrMemberNotFound(ev.Name)
	}
	m.removeMember(ev.Name)
	m.churn = 0
	fx.Removed = append(fx.Removed, ev.Name)
	if ev.Name == m.self {
		m.relocation = &Relocation{
			PreviousName: m.self,
			Destination:  ev.Destination,
			Age:          mem.Age + 1,
			Deadline:     time.Now().Add(time.Duration(m.config.RelocationTimeoutMS) * time.Millisecond),
		}
		if err := m.setState(StateRelocating); err != nil {
			return err
		}
		fx.Relocation = m.relocation
		m.log.Infof("Relocation agreed towards %s", ev.Destination)
	}
	return nil
}

func (m *Manager) applySplit(ev *Event, fx *Effects) lib.ErrorI {
	if !ev.Prefix.Equals(m.prefix) {
		return ErrInvalidSplit("event prefix " + ev.Prefix.Display() + " is not ours " + m.prefix.Display())
	}
	bit := m.prefix.BitCount
	if bit >= lib.XorNameBits {
		return ErrInvalidSplit("prefix cannot be extended")
	}
	zero, one := SplitByBit(m.memberList(), bit)
	if len(zero) < m.config.MergeThreshold || len(one) < m.config.MergeThreshold {
		return ErrInvalidSplit("a half would be below the merge threshold")
	}
	ourBit := m.self.Bit(bit)
	ours, theirs := zero, one
	if ourBit {
		ours, theirs = one, zero
	}
	sibling := &Info{
		Prefix:  m.prefix.Pushed(!ourBit),
		Key:     lib.Clone(m.chain.LastKey()),
		Members: copyMembers(theirs),
		Proof:   m.chain.LastProof(),
		KeySet:  m.keySetBytes(),
	}
	m.prefix = m.prefix.Pushed(ourBit)
	m.members = make(map[lib.XorName]*Member, len(ours))
	for _, mem := range ours {
		m.members[mem.Name] = mem
	}
	for _, mem := range theirs {
		fx.Removed = append(fx.Removed, mem.Name)
	}
	m.view.Update(sibling)
	// the sibling shares our history up to the split
	m.view.Acknowledge(sibling.Prefix, m.chain.LastKey())
	fx.PrefixChanged, fx.Sibling = true, sibling
	m.log.Infof("Section split into %s, sibling %s", m.prefix.Display(), sibling.Prefix.Display())
	return nil
}

func (m *Manager) applyMerge(ev *Event, fx *Effects) lib.ErrorI {
	if m.prefix.BitCount == 0 || !ev.Prefix.Equals(m.prefix.Popped()) {
		return ErrInvalidMergeEvent("event prefix " + ev.Prefix.Display() + " is not our parent")
	}
	for _, mem := range ev.Members {
		if !ev.Prefix.Matches(mem.Name) {
			return ErrNameOutsidePrefix(mem.Name, ev.Prefix)
		}
	}
	var keySet *crypto.PublicKeySet
	if len(ev.KeySet) != 0 {
		ks, err := ev.PublicKeySet()
		if err != nil {
			return err
		}
		if !bytes.Equal(ks.PublicKey().Bytes(), ev.Key) {
			return ErrInvalidMergeEvent("key set does not match the merged key")
		}
		keySet = ks
	}
	merged, err := chain.Merge(m.chain, ev.Proof, ev.Key, ev.Signature)
	if err != nil {
		return err
	}
	previous := m.members
	m.members = make(map[lib.XorName]*Member, len(ev.Members))
	for _, mem := range ev.Members {
		m.members[mem.Name] = mem.Copy()
		if _, ok := previous[mem.Name]; !ok {
			fx.Added = append(fx.Added, mem.Name)
		}
	}
	for name := range previous {
		if _, ok := m.members[name]; !ok {
			fx.Removed = append(fx.Removed, name)
		}
	}
	m.chain, m.keySet, m.prefix = merged, keySet, ev.Prefix
	// both halves counted their own events; the merged section starts a new sequence
	m.sequence = 0
	m.view.RemoveCompatible(ev.Prefix)
	fx.PrefixChanged, fx.KeyRotated = true, true
	m.log.Infof("Section merged into %s", m.prefix.Display())
	return nil
}

func (m *Manager) applyKeyRotated(ev *Event, fx *Effects) lib.ErrorI {
	ks, err := ev.PublicKeySet()
	if err != nil {
		return err
	}
	if ks.Size() != len(m.elders) {
		return ErrInvalidEventData("key set was dealt for a different elder set")
	}
	newKey := ks.PublicKey().Bytes()
	if m.linksFromSuperseded(newKey, ev.Signature) {
		// agreed before another rotation from the same key was applied
		return ErrInvalidEventData("rotation links from a superseded key")
	}
	if err = m.chain.Append(newKey, ev.Signature); err != nil {
		return err
	}
	m.keySet, fx.KeyRotated = ks, true
	return nil
}

// linksFromSuperseded() returns true if the link signature verifies under a retained key other than the last
func (m *Manager) linksFromSuperseded(newKey, signature []byte) bool {
	keys := m.chain.Keys()
	for _, k := range keys[:len(keys)-1] {
		if crypto.VerifyBLS(k, chain.LinkSignBytes(newKey), signature) {
			return true
		}
	}
	return false
}

// refresh() recomputes the elders and this node's state after a change
func (m *Manager) refresh(fx *Effects) {
	before := Names(m.elders)
	m.elders = SelectElders(m.memberList(), m.config.ElderSize)
	after := Names(m.elders)
	fx.ElderSetChanged = len(before) != len(after)
	for i := 0; !fx.ElderSetChanged && i < len(after); i++ {
		fx.ElderSetChanged = before[i] != after[i]
	}
	if m.state != StateRelocating {
		next := StateJoining
		if _, ok := m.members[m.self]; ok {
			next = StateAdult
			if m.IsElder(m.self) {
				next = StateElder
			}
		}
		if next != m.state {
			if err := m.setState(next); err != nil {
				m.log.Error(err.Error())
			}
		}
	}
	fx.To = m.state
}

func (m *Manager) setState(to State) lib.ErrorI {
	for _, allowed := range transitions[m.state] {
		if allowed == to {
			m.log.Infof("State changed from %s to %s", m.state, to)
			m.state = to
			return nil
		}
	}
	return ErrInvalidStateChange(m.state, to)
}

func (m *Manager) removeMember(name lib.XorName) {
	delete(m.members, name)
	delete(m.lastHeard, name)
	delete(m.lost, name)
	delete(m.proposedLeft, name)
}

// ProposeJoin() returns the NodeJoined proposal for a candidate that passed the resource proof
func (m *Manager) ProposeJoin(candidate *Member) (*Event, lib.ErrorI) {
	if !m.prefix.Matches(candidate.Name) {
		return nil, ErrNameOutsidePrefix(candidate.Name, m.prefix)
	}
	if lib.NameFromPublicKey(candidate.PublicKey) != candidate.Name {
		return nil, ErrInvalidEventData("candidate name does not match its public key")
	}
	if _, exists := m.members[candidate.Name]; exists {
		return nil, ErrMemberExists(candidate.Name)
	}
	joined := candidate.Copy()
	joined.Joined = 0
	if joined.Age == 0 {
		joined.Age = 1
	}
	return NewNodeJoined(joined), nil
}

// CheckSplit() returns a split proposal when the section is above the split threshold and both halves would
// stay at or above the merge threshold
func (m *Manager) CheckSplit() *Event {
	if len(m.members) <= m.config.SplitThreshold || m.prefix.BitCount >= lib.XorNameBits {
		return nil
	}
	zero, one := SplitByBit(m.memberList(), m.prefix.BitCount)
	if len(zero) < m.config.MergeThreshold || len(one) < m.config.MergeThreshold {
		return nil
	}
	return NewSectionSplit(m.prefix)
}

// NeedsMerge() returns true when this section or its sibling fell below the merge threshold
func (m *Manager) NeedsMerge() bool {
	if m.prefix.BitCount == 0 {
		return false
	}
	if len(m.members) < m.config.MergeThreshold {
		return true
	}
	sibling, ok := m.Sibling()
	return ok && len(sibling.Members) < m.config.MergeThreshold
}

// Sibling() returns the known section with exactly our sibling prefix
func (m *Manager) Sibling() (*Info, bool) {
	if m.prefix.BitCount == 0 {
		return nil, false
	}
	return m.view.Get(m.prefix.Sibling())
}

// IsMergeLeader() returns true if this section is the '0' side of a merge, the side that signs the merge link
func (m *Manager) IsMergeLeader() bool { return m.prefix.BitCount > 0 && !m.prefix.LastBit() }

// MergeLinkBytes() returns the bytes the '0' side must sign to link its key to the sibling's key
func (m *Manager) MergeLinkBytes() ([]byte, bool) {
	sibling, ok := m.Sibling()
	if !ok || !m.IsMergeLeader() {
		return nil, false
	}
	return chain.LinkSignBytes(sibling.Key), true
}

// ProposeMerge() builds the merge proposal on the '0' side from its sibling's info and the link signature
func (m *Manager) ProposeMerge(linkSig []byte) (*Event, lib.ErrorI) {
	sibling, ok := m.Sibling()
	if !ok {
		return nil, ErrInvalidMergeEvent("sibling unknown")
	}
	if !m.IsMergeLeader() {
		return nil, ErrInvalidMergeEvent("only the 0 side proposes a merge")
	}
	if !crypto.VerifyBLS(m.chain.LastKey(), chain.LinkSignBytes(sibling.Key), linkSig) {
		return nil, ErrInvalidMergeEvent("link signature does not verify under our key")
	}
	var known [][]byte
	for _, e := range sibling.Proof.Entries {
		known = append(known, e.Key)
	}
	zeroProof := m.chain.ProofFromAny(known)
	members := append(m.memberList(), sibling.Members...)
	return NewSectionMerge(m.prefix.Popped(), zeroProof, sibling.Key, linkSig, sibling.KeySet, members), nil
}

// Heard() records traffic from a member, clearing any suspicion
func (m *Manager) Heard(name lib.XorName, now time.Time) {
	m.lastHeard[name] = now
	delete(m.lost, name)
}

// ConnectionLost() records the transport's soft signal that a member became unreachable
func (m *Manager) ConnectionLost(name lib.XorName, now time.Time) {
	if _, ok := m.lost[name]; !ok {
		m.lost[name] = now
	}
}

// Suspects() returns NodeLeft proposals for members silent longer than the suspicion timeout.
// Only elders propose, and each member is proposed at most once
func (m *Manager) Suspects(now time.Time) (proposals []*Event) {
	if m.state != StateElder {
		return nil
	}
	timeout := time.Duration(m.config.SuspicionTimeoutMS) * time.Millisecond
	for _, mem := range m.memberList() {
		if mem.Name == m.self || m.proposedLeft[mem.Name] {
			continue
		}
		last, heard := m.lastHeard[mem.Name]
		if !heard {
			// start the silence clock
			m.lastHeard[mem.Name] = now
			continue
		}
		since, lost := m.lost[mem.Name]
		if now.Sub(last) < timeout && (!lost || now.Sub(since) < timeout) {
			continue
		}
		m.proposedLeft[mem.Name] = true
		proposals = append(proposals, NewNodeLeft(mem.Name))
	}
	return
}

// ProposeRelocation() returns a relocation proposal when one is due: every RelocationIntervalEvents membership events,
// or at once when a neighbour is RelocationImbalance members smaller. The member and destination are derived from the
// agreed entropy, so every elder proposes the same event
func (m *Manager) ProposeRelocation(entropy []byte) *Event {
	if m.state != StateElder || len(m.members)-1 < m.config.MergeThreshold {
		return nil
	}
	var target *Info
	if m.config.RelocationImbalance > 0 {
		for _, s := range m.view.All() {
			if len(s.Members)+m.config.RelocationImbalance <= len(m.members) && (target == nil || len(s.Members) < len(target.Members)) {
				target = s
			}
		}
	}
	periodic := m.config.RelocationIntervalEvents > 0 && m.churn >= uint64(m.config.RelocationIntervalEvents)
	if target == nil && (!periodic || m.prefix.BitCount == 0) {
		return nil
	}
	elders := make(map[lib.XorName]bool)
	for _, e := range m.elders {
		elders[e.Name] = true
	}
	candidate := relocationCandidate(entropy, m.memberList(), elders)
	if candidate == nil {
		return nil
	}
	dst := RelocationDestination(entropy, candidate.Name)
	if target != nil {
		dst = target.Prefix.Substituted(dst)
	} else if m.prefix.Matches(dst) {
		dst = dst.FlipBit(m.prefix.BitCount - 1)
	}
	return NewNodeRelocated(candidate.Name, dst)
}

// ExpireRelocation() cancels a pending relocation whose window closed; the node then rejoins as a fresh candidate
func (m *Manager) ExpireRelocation(now time.Time) bool {
	if m.relocation == nil || !m.relocation.Expired(now) {
		return false
	}
	m.log.Warnf("Relocation to %s expired", m.relocation.Destination)
	m.relocation = nil
	if m.state == StateRelocating {
		_ = m.setState(StateJoining)
	}
	return true
}

// Rejoin() resets this node to a candidate under a new name, keeping the chain it trusts and any pending relocation
func (m *Manager) Rejoin(name lib.XorName) lib.ErrorI {
	if m.state == StateRelocating {
		if err := m.setState(StateJoining); err != nil {
			return err
		}
	} else if m.state != StateJoining {
		return ErrInvalidStateChange(m.state, StateJoining)
	}
	m.self, m.prefix, m.elders = name, lib.Prefix{}, nil
	m.members = make(map[lib.XorName]*Member)
	return nil
}

// Approve() installs the section state a joining node received with its approval.
// seq is the sequence number of the event that admitted it; the proof must extend from a key this node trusts
func (m *Manager) Approve(info *Info, seq uint64, keySet *crypto.PublicKeySet) (*Effects, lib.ErrorI) {
	if m.state != StateJoining {
		return nil, ErrInvalidStateChange(m.state, StateAdult)
	}
	return m.install(info, seq, keySet, false)
}

// Resync() installs the newer section state a member that fell behind its section received from the elders.
// The info must extend our chain with newer keys, or hold our key at a later sequence
func (m *Manager) Resync(info *Info, seq uint64, keySet *crypto.PublicKeySet) (*Effects, lib.ErrorI) {
	if m.state != StateAdult && m.state != StateElder {
		return nil, ErrNotMember()
	}
	return m.install(info, seq, keySet, true)
}

// install() replaces the section state with the info; a member keeps every key of its own chain
func (m *Manager) install(info *Info, seq uint64, keySet *crypto.PublicKeySet, member bool) (*Effects, lib.ErrorI) {
	if !info.Prefix.Matches(m.self) {
		return nil, ErrNameOutsidePrefix(m.self, info.Prefix)
	}
	members := make(map[lib.XorName]*Member, len(info.Members))
	for _, mem := range info.Members {
		members[mem.Name] = mem.Copy()
	}
	if _, ok := members[m.self]; !ok {
		return nil, ErrNotMember()
	}
	rebased, err := chain.Rebase(m.chain, info.Proof)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(rebased.LastKey(), info.Key) {
		return nil, ErrInvalidEventData("approval key is not the terminal key of its proof")
	}
	if member && (!rebased.Has(m.chain.LastKey()) || (rebased.Len() == m.chain.Len() && seq <= m.sequence)) {
		return nil, ErrStaleSectionInfo()
	}
	if keySet != nil && !bytes.Equal(keySet.PublicKey().Bytes(), info.Key) {
		keySet = nil
	}
	previous := m.members
	m.chain, m.prefix, m.members, m.sequence, m.keySet = rebased, info.Prefix, members, seq, keySet
	m.relocation = nil
	m.view.RemoveCompatible(info.Prefix)
	fx := &Effects{Sequence: seq, From: m.state}
	if member {
		for name := range members {
			if _, ok := previous[name]; !ok {
				fx.Added = append(fx.Added, name)
			}
		}
		for name := range previous {
			if _, ok := members[name]; !ok {
				fx.Removed = append(fx.Removed, name)
			}
		}
	}
	m.refresh(fx)
	fx.ElderSetChanged = true
	return fx, nil
}

// UpdateNeighbour() verifies and records another section's info. Returns false if the info was stale or about us
func (m *Manager) UpdateNeighbour(info *Info) (bool, lib.ErrorI) {
	if info.Prefix.IsCompatible(m.prefix) && m.state != StateJoining {
		return false, nil
	}
	if err := chain.VerifyProofWith(info.Proof, m.Trusts); err != nil {
		return false, err
	}
	if !bytes.Equal(info.Proof.Terminal(), info.Key) {
		return false, ErrInvalidEventData("neighbour key is not the terminal key of its proof")
	}
	return m.view.Update(info), nil
}

// Trusts() returns true if the key is in our chain or a verified neighbour key
func (m *Manager) Trusts(key []byte) bool { return m.chain.Has(key) || m.view.TrustsKey(key) }

// Prune() drops chain links older than keepFrom, never the keys neighbours rely on
func (m *Manager) Prune(keepFrom int) (int, lib.ErrorI) {
	return m.chain.Prune(keepFrom, m.view.PinnedKeys())
}

// Self() returns this node's name
func (m *Manager) Self() lib.XorName { return m.self }

// State() returns this node's membership state
func (m *Manager) State() State { return m.state }

// Prefix() returns our section's prefix
func (m *Manager) Prefix() lib.Prefix { return m.prefix }

// Sequence() returns the last applied event sequence
func (m *Manager) Sequence() uint64 { return m.sequence }

// Chain() returns our section chain
func (m *Manager) Chain() *chain.Chain { return m.chain }

// KeySet() returns the public key set of the current section key, if known
func (m *Manager) KeySet() *crypto.PublicKeySet { return m.keySet }

// View() returns the neighbour arena
func (m *Manager) View() *NetworkView { return m.view }

// Relocation() returns this node's pending relocation, if any
func (m *Manager) Relocation() *Relocation { return m.relocation }

// Members() returns our section's members ordered by name
func (m *Manager) Members() []*Member { return m.memberList() }

// Member() returns a member by name
func (m *Manager) Member(name lib.XorName) (*Member, bool) {
	mem, ok := m.members[name]
	return mem, ok
}

// Elders() returns the current elders ordered by name
func (m *Manager) Elders() []*Member { return append([]*Member(nil), m.elders...) }

// IsElder() returns true if the name is a current elder
func (m *Manager) IsElder(name lib.XorName) bool { return m.ElderIndex(name) >= 0 }

// ElderIndex() returns the position of an elder in the name ordered elder set, which is also its key share index
func (m *Manager) ElderIndex(name lib.XorName) int {
	i := sort.Search(len(m.elders), func(i int) bool { return !m.elders[i].Name.Less(name) })
	if i < len(m.elders) && m.elders[i].Name == name {
		return i
	}
	return -1
}

// Info() describes our section with a single entry proof
func (m *Manager) Info() *Info { return m.InfoFor(nil) }

// InfoFor() describes our section with a proof starting at the newest of the known keys, or at the oldest
// retained key if none of them is in our chain. Without known keys the proof is the current key alone
func (m *Manager) InfoFor(known [][]byte) *Info {
	proof := m.chain.LastProof()
	if len(known) != 0 {
		proof = m.chain.ProofFromAny(known)
	}
	return &Info{
		Prefix:  m.prefix,
		Key:     lib.Clone(m.chain.LastKey()),
		Members: copyMembers(m.memberList()),
		Proof:   proof,
		KeySet:  m.keySetBytes(),
	}
}

func (m *Manager) memberList() []*Member {
	list := make([]*Member, 0, len(m.members))
	for _, mem := range m.members {
		list = append(list, mem)
	}
	SortByName(list)
	return list
}

func (m *Manager) keySetBytes() lib.HexBytes {
	if m.keySet == nil {
		return nil
	}
	return m.keySet.Bytes()
}

func copyMembers(members []*Member) []*Member {
	out := make([]*Member, 0, len(members))
	for _, mem := range members {
		out = append(out, mem.Copy())
	}
	return out
}
