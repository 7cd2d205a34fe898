package consensus

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
)

/* This file implements an in-memory engine: the votes of every elder meet in one shared process */

// agreedWindow is how many sequences back decided events are remembered to drop late proposals
const agreedWindow = 64

// idleGroups is how many groups without engines keep their decided slots for members that join them late
const idleGroups = 64

// MemNetwork hosts in-memory consensus groups for tests and local simulations.
// Each group decides one slot at a time: an event is agreed for the next slot once more than 2/3 of the elders
// voted for it under the same elder list. Votes are real BLS signatures, so certificates verify like any engine's.
type MemNetwork struct {
	mu     sync.Mutex
	groups map[string]*memGroup
	idle   []string // groups every engine left, oldest first
	log    lib.LoggerI
}

// memGroup is the shared state of one consensus group
type memGroup struct {
	id      string
	next    uint64                // the next slot to decide
	decided map[uint64]*Agreement // slot -> certificate
	votes   map[string]*voteSet   // slot/event/elders -> votes
	agreed  map[string]uint64     // event hash -> slot, for recent slots
	engines map[*MemEngine]struct{}
}

// voteSet aggregates the votes for one event in one slot under one elder list
type voteSet struct {
	slot     uint64
	event    []byte
	multiKey crypto.MultiPublicKeyI
}

// NewMemNetwork() creates an empty in-memory network
func NewMemNetwork(log lib.LoggerI) *MemNetwork {
	return &MemNetwork{groups: make(map[string]*memGroup), log: log}
}

// Join() returns an engine of the group that delivers from sequence next; the group is created on first use
func (n *MemNetwork) Join(group string, next uint64, key crypto.PrivateKeyI, elders [][]byte) *MemEngine {
	n.mu.Lock()
	defer n.mu.Unlock()
	g, ok := n.groups[group]
	if !ok {
		g = &memGroup{
			id:      group,
			next:    next,
			decided: make(map[uint64]*Agreement),
			votes:   make(map[string]*voteSet),
			agreed:  make(map[string]uint64),
			engines: make(map[*MemEngine]struct{}),
		}
		n.groups[group] = g
	}
	n.wake(group)
	e := &MemEngine{network: n, group: g, key: key, cursor: next, index: -1}
	e.setElders(elders)
	g.engines[e] = struct{}{}
	return e
}

// Groups() returns the number of groups with at least one engine
func (n *MemNetwork) Groups() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.groups) - len(n.idle)
}

// retire() keeps a group every engine left, dropping the oldest idle groups beyond idleGroups
func (n *MemNetwork) retire(group string) {
	n.idle = append(n.idle, group)
	for len(n.idle) > idleGroups {
		delete(n.groups, n.idle[0])
		n.idle = n.idle[1:]
	}
}

// wake() takes a group out of the idle list
func (n *MemNetwork) wake(group string) {
	for i, id := range n.idle {
		if id == group {
			n.idle = append(n.idle[:i], n.idle[i+1:]...)
			return
		}
	}
}

// MemEngine is one member's handle on a MemNetwork group
type MemEngine struct {
	network *MemNetwork
	group   *memGroup
	key     crypto.PrivateKeyI
	elders  [][]byte
	digest  string   // hash of the elder list, votes under different lists never mix
	index   int      // position of the own key among the elders, -1 if not an elder
	cursor  uint64   // the next slot this engine delivers
	pending [][]byte // own proposals not yet delivered, in proposal order
	closed  bool
}

var _ Engine = (*MemEngine)(nil)

// Propose() records the observation and votes for it as soon as this engine has caught up with the group
func (e *MemEngine) Propose(event []byte) lib.ErrorI {
	e.network.mu.Lock()
	defer e.network.mu.Unlock()
	if e.closed {
		return ErrEngineClosed()
	}
	if e.index < 0 {
		return ErrNotElder()
	}
	hash := crypto.HashString(event)
	if slot, ok := e.group.agreed[hash]; ok && slot < e.cursor {
		return nil
	}
	if !e.isPending(event) {
		e.pending = append(e.pending, lib.Clone(event))
	}
	e.voteAll()
	return nil
}

// PollAgreed() hands out the next decided slot; once caught up it votes its pending proposals into the open slot
func (e *MemEngine) PollAgreed() (*Agreement, bool) {
	e.network.mu.Lock()
	defer e.network.mu.Unlock()
	if e.closed {
		return nil, false
	}
	if a, ok := e.group.decided[e.cursor]; ok {
		e.cursor++
		e.removePending(a.Event)
		cp := *a
		return &cp, true
	}
	e.voteAll()
	return nil, false
}

// UpdateElders() switches to a new elder list and votes again under it
func (e *MemEngine) UpdateElders(keys [][]byte) {
	e.network.mu.Lock()
	defer e.network.mu.Unlock()
	e.setElders(keys)
	e.voteAll()
}

// Close() leaves the group; once the last engine left, the group only serves its decided slots to late joiners
func (e *MemEngine) Close() {
	e.network.mu.Lock()
	defer e.network.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	delete(e.group.engines, e)
	if len(e.group.engines) == 0 {
		e.network.retire(e.group.id)
	}
}

// setElders() installs the elder list and locates the own key in it
func (e *MemEngine) setElders(keys [][]byte) {
	e.elders, e.index = make([][]byte, len(keys)), -1
	own := e.key.PublicKey().Bytes()
	for i, k := range keys {
		e.elders[i] = lib.Clone(k)
		if bytes.Equal(k, own) {
			e.index = i
		}
	}
	e.digest = crypto.ShortHashString(crypto.HashAll(e.elders...))
}

// voteAll() votes every pending proposal into the open slot, if this engine has delivered everything before it
func (e *MemEngine) voteAll() {
	for _, event := range e.pending {
		if e.closed || e.index < 0 || e.cursor != e.group.next {
			return
		}
		e.vote(event)
	}
}

// vote() adds a signed vote to the set of the open slot and decides the slot once the set holds a quorum
func (e *MemEngine) vote(event []byte) {
	g, slot := e.group, e.cursor
	key := fmt.Sprintf("%d/%s/%s", slot, crypto.HashString(event), e.digest)
	vs, ok := g.votes[key]
	if !ok {
		multiKey, err := crypto.NewMultiBLS(e.elders, nil)
		if err != nil {
			e.network.log.Errorf("Unable to build the elder multi key: %s", err.Error())
			return
		}
		vs = &voteSet{slot: slot, event: lib.Clone(event), multiKey: multiKey}
		g.votes[key] = vs
	}
	if enabled, err := vs.multiKey.SignerEnabledAt(e.index); err != nil || enabled {
		return
	}
	if err := vs.multiKey.AddSigner(e.key.Sign(VoteSignBytes(g.id, slot, event)), e.index); err != nil {
		e.network.log.Errorf("Unable to add vote: %s", err.Error())
		return
	}
	if vs.multiKey.SignerCount() >= crypto.QuorumThreshold(len(e.elders)) {
		g.decide(vs, e.network.log)
	}
}

// decide() certifies the vote set as the agreement of its slot and opens the next slot
func (g *memGroup) decide(vs *voteSet, log lib.LoggerI) {
	signature, err := vs.multiKey.AggregateSignatures()
	if err != nil {
		log.Errorf("Unable to aggregate votes: %s", err.Error())
		return
	}
	g.decided[vs.slot] = &Agreement{
		Group:     g.id,
		Sequence:  vs.slot,
		Event:     vs.event,
		Signature: signature,
		Bitmap:    lib.Clone(vs.multiKey.Bitmap()),
	}
	g.agreed[crypto.HashString(vs.event)] = vs.slot
	g.next = vs.slot + 1
	// votes for decided slots and old decisions are of no further use
	for k, set := range g.votes {
		if set.slot < g.next {
			delete(g.votes, k)
		}
	}
	for k, slot := range g.agreed {
		if slot+agreedWindow < g.next {
			delete(g.agreed, k)
		}
	}
	log.Debugf("Group %s agreed slot %d", g.id, vs.slot)
}

func (e *MemEngine) isPending(event []byte) bool {
	for _, p := range e.pending {
		if bytes.Equal(p, event) {
			return true
		}
	}
	return false
}

func (e *MemEngine) removePending(event []byte) {
	for i, p := range e.pending {
		if bytes.Equal(p, event) {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}
