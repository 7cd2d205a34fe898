package node

import (
	"bytes"
	"context"
	"time"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"github.com/canopy-network/routing/message"
	"github.com/canopy-network/routing/resource"
	"github.com/canopy-network/routing/section"
)

// joinState tracks the admission of this node into a section
type joinState struct {
	attempt    time.Time       // when the last join request went out
	attempts   uint64          // join requests sent under the current name
	relocation []byte          // the section signed Relocate message of a relocated node
	age        uint32          // the age a relocated node resumes with
	solving    map[string]bool // challenge IDs being solved or answered
	backlog    []inbound       // routed messages kept until the approval
}

func newJoinState() *joinState {
	return &joinState{solving: make(map[string]bool)}
}

// solution is a solved resource proof waiting to go back to the elder that issued it
type solution struct {
	response *resource.Response
	elder    lib.XorName
	endpoint string
}

// startJoin() asks the elders of the closest known section, and the bootstrap peers, to admit this node
func (n *Node) startJoin(now time.Time) {
	age := n.join.age
	if age == 0 {
		age = 1
	}
	n.join.attempt = now
	n.join.attempts++
	req := &message.JoinRequest{Member: n.selfMember(age), Relocation: n.join.relocation, Attempt: n.join.attempts}
	m, err := message.Wrap(message.VariantJoinRequest, req.Bytes(), message.Source{Name: n.id.Name}, message.ToSection(n.id.Name),
		chain.Proof{}, n.id.PrivateKey)
	if err != nil {
		n.log.Errorf("Wrapping the join request failed: %s", err.Error())
		return
	}
	bz, sent := m.Bytes(), lib.NewDeDuplicator[string]()
	sent.Found(n.transport.Endpoint())
	var endpoints []string
	if n.isMember() {
		for _, e := range n.section.Members() {
			endpoints = append(endpoints, e.Endpoint)
		}
	}
	if s := n.section.View().Closest(n.id.Name); s != nil {
		for _, e := range s.Elders(n.config.ElderSize) {
			endpoints = append(endpoints, e.Endpoint)
		}
	}
	for _, endpoint := range append(endpoints, n.config.BootstrapPeers...) {
		if !sent.Found(endpoint) {
			n.enqueue(endpoint, bz)
		}
	}
	n.log.Infof("Join request %d sent to %d peers", n.join.attempts, sent.Len()-1)
}

// onJoinRequest() challenges a candidate the section could admit
func (n *Node) onJoinRequest(m *message.RoutingMessage, now time.Time) lib.ErrorI {
	if !n.isElder() {
		return nil
	}
	req, err := message.JoinRequestFromBytes(m.Payload)
	if err != nil {
		return err
	}
	candidate := req.Member
	if candidate == nil || candidate.Name != m.Src.Name {
		return message.ErrInvalidMessage("join request for another name")
	}
	if member, ok := n.section.Member(candidate.Name); ok {
		// a member that fell behind asks again for the section state
		n.sendApproval(member, n.section.Sequence())
		return nil
	}
	candidate.Age = 1
	if len(req.Relocation) != 0 {
		age, err := n.verifyRelocation(req.Relocation, candidate.Name)
		if err != nil {
			return err
		}
		candidate.Age = age
	}
	// checks the name and key before any work is asked for
	if _, err = n.section.ProposeJoin(candidate); err != nil {
		return err
	}
	c, ok := n.gate.Pending(candidate.Name)
	if !ok || c.Expired(now) {
		if c, err = n.gate.IssueChallenge(candidate.Name, len(n.section.Members()), now); err != nil {
			return err
		}
	}
	n.candidates[candidate.Name] = candidate
	challenge, err := n.wrap(message.VariantChallenge, c.Bytes(), message.ToDirect(candidate.Name))
	if err != nil {
		return err
	}
	n.sendDirect(challenge, candidate.Endpoint)
	return nil
}

// verifyRelocation() checks the relocation order a candidate carries and returns the age it resumes with
func (n *Node) verifyRelocation(bz []byte, name lib.XorName) (uint32, lib.ErrorI) {
	order, err := message.FromBytes(bz)
	if err != nil {
		return 0, err
	}
	if order.Variant != message.VariantRelocate || !order.Src.Section {
		return 0, message.ErrInvalidMessage("relocation is not a section signed relocate order")
	}
	if err = order.VerifySignature(); err != nil {
		return 0, err
	}
	payload, err := message.UnwrapAndVerifyWith(order, n.section.Trusts)
	if err != nil {
		return 0, err
	}
	rel, err := message.RelocateFromBytes(payload)
	if err != nil {
		return 0, err
	}
	if !n.section.Prefix().Matches(rel.Destination) || !n.section.Prefix().Matches(name) {
		return 0, message.ErrInvalidMessage("relocation destination is not our section")
	}
	return rel.Age, nil
}

// onChallenge() solves a challenge addressed to this node in the background
func (n *Node) onChallenge(m *message.RoutingMessage, from string) lib.ErrorI {
	if n.section.State() != section.StateJoining {
		return nil
	}
	c, err := resource.ChallengeFromBytes(m.Payload)
	if err != nil {
		return err
	}
	if c.Candidate != n.id.Name {
		return message.ErrInvalidMessage("challenge for another candidate")
	}
	id := lib.BytesToString(c.ID())
	if n.join.solving[id] {
		return nil
	}
	n.join.solving[id] = true
	elder := m.Src.Name
	ctx, cancel := context.WithDeadline(n.ctx, time.UnixMilli(c.Expiry))
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer lib.CatchPanic(n.log)
		defer cancel()
		r, err := resource.Solve(ctx, c)
		if err != nil {
			n.log.Warnf("Resource proof for %s not solved: %s", elder, err.Error())
			return
		}
		select {
		case n.solved <- solution{response: r, elder: elder, endpoint: from}:
		case <-n.ctx.Done():
		}
	}()
	n.log.Debugf("Solving a challenge of difficulty %d from %s", c.Difficulty, elder)
	return nil
}

// respond() sends a solved resource proof back to its elder
func (n *Node) respond(s solution) {
	if n.section.State() != section.StateJoining || s.response.Candidate != n.id.Name {
		return
	}
	m, err := message.Wrap(message.VariantChallengeResponse, s.response.Bytes(), message.Source{Name: n.id.Name},
		message.ToDirect(s.elder), chain.Proof{}, n.id.PrivateKey)
	if err != nil {
		n.log.Errorf("Wrapping the challenge response failed: %s", err.Error())
		return
	}
	n.sendDirect(m, s.endpoint)
}

// onChallengeResponse() proposes the candidate once its resource proof checks out
func (n *Node) onChallengeResponse(m *message.RoutingMessage, now time.Time) lib.ErrorI {
	if !n.isElder() {
		return nil
	}
	r, err := resource.ResponseFromBytes(m.Payload)
	if err != nil {
		return err
	}
	candidate, ok := n.candidates[r.Candidate]
	if !ok || r.Candidate != m.Src.Name {
		return resource.ErrNoChallenge(r.Candidate)
	}
	if err = n.gate.Accept(r, now); err != nil {
		if n.gate.IsBlacklisted(r.Candidate) {
			delete(n.candidates, r.Candidate)
		}
		return err
	}
	ev, err := n.section.ProposeJoin(candidate)
	if err != nil {
		return err
	}
	n.propose(ev)
	return nil
}

// sendApproval() sends our share of the admitted node's approval
func (n *Node) sendApproval(joined *section.Member, seq uint64) {
	if !n.holdsShare() || n.driver == nil {
		return
	}
	info := n.section.InfoFor([][]byte{n.genesis})
	approval := &message.NodeApproval{Info: info, Sequence: seq, Group: n.driver.Group()}
	m, err := message.WrapShare(message.VariantNodeApproval, approval.Bytes(), n.sectionSource(), message.ToDirect(joined.Name),
		info.Proof, n.section.KeySet(), n.keys.share)
	if err != nil {
		n.log.Errorf("Wrapping the approval of %s failed: %s", joined.Name, err.Error())
		return
	}
	n.sendDirect(m, joined.Endpoint)
}

// onApproval() installs our section state once the approval shares combine into a section signature
func (n *Node) onApproval(m *message.RoutingMessage) lib.ErrorI {
	if n.section.State() == section.StateRelocating || !m.Src.Section {
		return nil
	}
	combined, err := n.shares.Add(m)
	if err != nil || combined == nil {
		return err
	}
	payload, err := message.UnwrapAndVerifyWith(combined, n.section.Trusts)
	if err != nil {
		return err
	}
	approval, err := message.NodeApprovalFromBytes(payload)
	if err != nil {
		return err
	}
	var keySet *crypto.PublicKeySet
	if len(approval.Info.KeySet) != 0 {
		ks, e := crypto.NewPublicKeySetFromBytes(approval.Info.KeySet)
		if e != nil {
			return ErrInvalidPayload(m.Variant, e)
		}
		keySet = ks
	}
	if n.isMember() {
		return n.resync(approval, keySet)
	}
	fx, err := n.section.Approve(approval.Info, approval.Sequence, keySet)
	if err != nil {
		return err
	}
	n.keys.adopt(n.section.Chain().LastKey(), nil)
	n.openDriver(approval.Group, approval.Sequence+1)
	backlog := n.join.backlog
	n.join = newJoinState()
	n.log.Infof("Approved into section %s as %s", n.section.Prefix().Display(), fx.To)
	n.metrics.UpdateNodeMetrics(false, int(fx.To))
	n.updateSectionMetrics()
	n.emit(Event{Kind: EventJoined, State: fx.To, Prefix: n.section.Prefix()})
	n.persist(true)
	// routed traffic that arrived while joining
	n.local = append(n.local, backlog...)
	n.maybeDeal()
	return nil
}

// resync() installs the newer section state the elders sent a member that fell behind
func (n *Node) resync(approval *message.NodeApproval, keySet *crypto.PublicKeySet) lib.ErrorI {
	previous := n.section.Chain().LastKey()
	fx, err := n.section.Resync(approval.Info, approval.Sequence, keySet)
	if err != nil {
		return err
	}
	current := n.section.Chain().LastKey()
	if !bytes.Equal(previous, current) {
		n.keys.adopt(current, n.keys.next[lib.BytesToString(current)])
		n.keys.prune(current)
	}
	n.behind = time.Time{}
	n.openDriver(approval.Group, approval.Sequence+1)
	n.log.Infof("Resynced to section %s at sequence %d", n.section.Prefix().Display(), approval.Sequence)
	if fx.StateChanged() {
		n.metrics.UpdateNodeMetrics(false, int(fx.To))
		n.emit(Event{Kind: EventStateChanged, State: fx.To, Prefix: n.section.Prefix()})
	}
	n.updateSectionMetrics()
	n.persist(true)
	n.replayEarly()
	n.maybeDeal()
	return nil
}

// sendRelocate() sends our share of the relocation order to the relocated member
func (n *Node) sendRelocate(ev *section.Event, moved *section.Member) {
	if moved == nil || !n.holdsShare() {
		return
	}
	rel := &message.Relocate{PreviousName: ev.Name, Destination: ev.Destination, Age: moved.Age + 1}
	m, err := message.WrapShare(message.VariantRelocate, rel.Bytes(), n.sectionSource(), message.ToDirect(ev.Name),
		n.section.Chain().ProofFromAny([][]byte{n.genesis}), n.section.KeySet(), n.keys.share)
	if err != nil {
		n.log.Errorf("Wrapping the relocation of %s failed: %s", ev.Name, err.Error())
		return
	}
	n.sendDirect(m, moved.Endpoint)
}

// onRelocate() takes a name in the destination once the relocation order combines into a section signature
func (n *Node) onRelocate(m *message.RoutingMessage, now time.Time) lib.ErrorI {
	if n.section.State() != section.StateRelocating || !m.Src.Section {
		return nil
	}
	combined, err := n.shares.Add(m)
	if err != nil || combined == nil {
		return err
	}
	payload, err := message.UnwrapAndVerifyWith(combined, n.section.Trusts)
	if err != nil {
		return err
	}
	rel, err := message.RelocateFromBytes(payload)
	if err != nil {
		return err
	}
	if rel.PreviousName != n.id.Name {
		return message.ErrInvalidMessage("relocation of another node")
	}
	bits := n.config.ExtraSplitBits
	if s, ok := n.section.View().Matching(rel.Destination); ok {
		bits += s.Prefix.BitCount
	} else if s := n.section.View().Closest(rel.Destination); s != nil {
		bits += s.Prefix.BitCount
	}
	if bits > lib.XorNameBits {
		bits = lib.XorNameBits
	}
	id, err := lib.NewIdentityWithin(lib.NewPrefix(rel.Destination, bits))
	if err != nil {
		return err
	}
	previous := n.id.Name
	n.closeDriver()
	if err = n.section.Rejoin(id.Name); err != nil {
		return err
	}
	n.rename(id)
	n.keys = newKeyState()
	n.candidates = make(map[lib.XorName]*section.Member)
	n.join = newJoinState()
	n.join.relocation, n.join.age = combined.Bytes(), rel.Age
	n.log.Infof("Relocated from %s towards %s", previous, rel.Destination)
	n.emit(Event{Kind: EventRelocated, Name: id.Name})
	n.persist(true)
	n.startJoin(now)
	return nil
}

// rejoin() starts over as a fresh candidate under the current name
func (n *Node) rejoin(now time.Time) {
	n.closeDriver()
	if err := n.section.Rejoin(n.id.Name); err != nil {
		n.log.Errorf("Rejoining failed: %s", err.Error())
		return
	}
	n.keys = newKeyState()
	n.join = newJoinState()
	n.persist(true)
	n.startJoin(now)
}

// buffer() keeps a routed message until this node is a member
func (n *Node) buffer(in inbound) {
	if len(n.join.backlog) >= backlogSize {
		n.join.backlog = n.join.backlog[1:]
	}
	n.join.backlog = append(n.join.backlog, in)
}
