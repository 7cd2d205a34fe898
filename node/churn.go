package node

import (
	"bytes"
	"time"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/consensus"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/message"
	"github.com/canopy-network/routing/section"
	"github.com/cenkalti/backoff/v4"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// tick() runs the periodic work of the loop
func (n *Node) tick(now time.Time) {
	if n.halted {
		return
	}
	n.poll(now)
	for _, name := range n.gate.Expire(now) {
		delete(n.candidates, name)
	}
	switch n.section.State() {
	case section.StateJoining:
		if n.section.ExpireRelocation(now) {
			n.join.relocation, n.join.age = nil, 0
		}
		if now.Sub(n.join.attempt) >= ms(n.config.JoinTimeoutMS) {
			n.startJoin(now)
		}
	case section.StateRelocating:
		if n.section.ExpireRelocation(now) {
			n.rejoin(now)
		}
	case section.StateAdult, section.StateElder:
		for _, ev := range n.section.Suspects(now) {
			n.propose(ev)
		}
		n.sendHeartbeat(now)
		n.maybeSignMerge()
		n.checkLag(now)
	}
}

// checkLag() asks the section for its current state when peers showed newer state and no agreement followed
func (n *Node) checkLag(now time.Time) {
	if n.behind.IsZero() || now.Sub(n.behind) < ms(n.config.JoinTimeoutMS) {
		return
	}
	n.behind = time.Time{}
	n.log.Warnf("Section %s at sequence %d fell behind its peers, requesting its state", n.section.Prefix().Display(),
		n.section.Sequence())
	n.startJoin(now)
}

// poll() applies the agreements the driver releases in sequence order, then accounts the round
func (n *Node) poll(now time.Time) {
	for n.driver != nil && !n.halted {
		a, err := n.driver.Next()
		if err != nil {
			n.log.Errorf("Agreement refused: %s", err.Error())
			break
		}
		if a == nil {
			break
		}
		n.apply(a, now)
	}
	if n.driver == nil || n.halted {
		return
	}
	if err := n.driver.Tick(); err != nil && consensus.IsStalled(err) {
		if n.retry == nil {
			n.retry = backoff.NewExponentialBackOff()
			n.retry.InitialInterval = ms(n.config.RetryInitialMS)
			n.retry.MaxInterval = ms(n.config.RetryMaxMS)
			n.retry.MaxElapsedTime = 0
			n.retry.Reset()
		}
		wait := n.retry.NextBackOff()
		n.retryAt = now.Add(wait)
		n.log.Warnf("%s, re-proposing in %s", err.Error(), wait)
	}
	if !n.retryAt.IsZero() && !now.Before(n.retryAt) {
		n.retryAt = time.Time{}
		n.log.Infof("Re-proposed %d observations", n.driver.Retry())
	}
}

// apply() applies one agreed event and reacts to its effects
func (n *Node) apply(a *consensus.Agreement, now time.Time) {
	ev, err := section.EventFromBytes(a.Event)
	if err != nil {
		n.log.Errorf("Undecodable agreement at sequence %d: %s", a.Sequence, err.Error())
		// applied as a no-op so the sequence still advances
		ev = &section.Event{}
	}
	wasElder, leader := n.isElder(), n.section.IsMergeLeader()
	sibling, _ := n.section.Sibling()
	var moved *section.Member
	if ev.Kind == section.EventNodeRelocated {
		if mem, ok := n.section.Member(ev.Name); ok {
			moved = mem.Copy()
		}
	}
	fx, err := n.section.Apply(ev, a.Sequence)
	if err != nil {
		if chain.IsIntegrityError(err) {
			n.halt(err)
			return
		}
		n.log.Warnf("Agreed %s applied as a no-op: %s", ev, err.Error())
		n.persist(false)
		return
	}
	if n.retry != nil {
		n.retry.Reset()
	}
	n.retryAt, n.behind = time.Time{}, time.Time{}
	n.log.Infof("Applied %s at sequence %d", ev, a.Sequence)
	n.emit(Event{Kind: EventChurn, Churn: ev, Sequence: a.Sequence, Prefix: n.section.Prefix()})
	switch ev.Kind {
	case section.EventNodeJoined:
		delete(n.candidates, ev.Member.Name)
		n.sendApproval(ev.Member, a.Sequence)
		n.sendView(ev.Member)
	case section.EventNodeRelocated:
		n.metrics.IncChurn(false, false, true)
		n.sendRelocate(ev, moved)
	case section.EventSectionSplit:
		n.metrics.IncChurn(true, false, false)
	case section.EventSectionMerge:
		n.metrics.IncChurn(false, true, false)
		if leader && wasElder {
			n.forwardMerge(ev, sibling)
		}
	}
	keysChanged := fx.KeyRotated || fx.PrefixChanged
	if keysChanged || fx.ElderSetChanged {
		n.replayEarly()
	}
	if fx.KeyRotated {
		n.rotated()
	}
	if fx.StateChanged() {
		n.stateChanged(fx, now)
		if !n.isMember() {
			return
		}
	}
	switch {
	case fx.PrefixChanged:
		n.keys.prune(n.section.Chain().LastKey())
		n.openDriver(consensus.GroupID(n.section.Prefix(), n.section.Chain().LastKey()), n.section.Sequence()+1)
	case fx.ElderSetChanged && n.driver != nil:
		n.driver.SetElders(section.BLSKeys(n.section.Elders()))
	}
	if n.isElder() {
		if split := n.section.CheckSplit(); split != nil {
			n.propose(split)
		}
		if reloc := n.section.ProposeRelocation(a.Entropy()); reloc != nil {
			n.propose(reloc)
		}
		n.maybeDeal()
		n.proposeLinks()
	}
	n.maybeSignMerge()
	switch {
	case fx.PrefixChanged || fx.KeyRotated:
		n.announce(n.section.View().All(), ev.Kind == section.EventSectionMerge)
	case len(fx.Added)+len(fx.Removed) != 0:
		if s, ok := n.section.Sibling(); ok {
			n.announce([]*section.Info{s}, false)
		}
	}
	n.updateSectionMetrics()
	n.persist(keysChanged)
}

// stateChanged() follows this node through the membership state machine
func (n *Node) stateChanged(fx *section.Effects, now time.Time) {
	n.log.Infof("State changed from %s to %s", fx.From, fx.To)
	n.metrics.UpdateNodeMetrics(false, int(fx.To))
	n.emit(Event{Kind: EventStateChanged, State: fx.To, Prefix: n.section.Prefix()})
	switch fx.To {
	case section.StateRelocating:
		// the relocation order comes with the elders' signature shares
		n.closeDriver()
	case section.StateJoining:
		n.log.Warnf("Removed from section %s, joining again", n.section.Prefix().Display())
		n.rejoin(now)
	}
}

// forwardMerge() hands the agreed merge to the sibling's elders, which propose it in their own section
func (n *Node) forwardMerge(ev *section.Event, sibling *section.Info) {
	if sibling == nil {
		return
	}
	for _, e := range sibling.Elders(n.config.ElderSize) {
		m, err := n.wrap(message.VariantMerge, ev.Bytes(), message.ToDirect(e.Name))
		if err != nil {
			n.log.Errorf("Wrapping the merge failed: %s", err.Error())
			return
		}
		n.sendDirect(m, e.Endpoint)
	}
}

// onMerge() proposes the merge our '0' sibling agreed, linking its key to ours
func (n *Node) onMerge(m *message.RoutingMessage) lib.ErrorI {
	if !n.isElder() || !n.section.Prefix().LastBit() {
		return nil
	}
	sibling, ok := n.section.Sibling()
	if !ok || !containsName(sibling.Elders(n.config.ElderSize), m.Src.Name) {
		return message.ErrInvalidMessage("merge from outside the sibling elders")
	}
	ev, err := section.EventFromBytes(m.Payload)
	if err != nil {
		return err
	}
	if ev.Kind != section.EventSectionMerge || !ev.Prefix.Equals(n.section.Prefix().Popped()) ||
		!bytes.Equal(ev.Key, n.section.Chain().LastKey()) {
		return message.ErrInvalidMessage("merge does not link to our section key")
	}
	n.propose(ev)
	return nil
}

// announce() sends our section info to the given sections, with a proof from a key each of them trusts.
// After a merge the proof spans the retained chain, so it passes through both predecessors' keys.
// The dealer speaks for the section
func (n *Node) announce(targets []*section.Info, merged bool) {
	if !n.isDealer() {
		return
	}
	for _, s := range targets {
		known := [][]byte{n.genesis}
		if len(s.KnowsOurKey) != 0 && !merged {
			known = append(known, s.KnowsOurKey)
		}
		info := n.section.InfoFor(known)
		m, err := n.wrap(message.VariantNeighbourInfo, info.Bytes(), message.ToPrefix(s.Prefix))
		if err != nil {
			n.log.Errorf("Wrapping the section info failed: %s", err.Error())
			return
		}
		n.sendTo(m, s.Elders(n.config.ElderSize))
	}
}

// sendView() hands our known neighbours to a new member
func (n *Node) sendView(joined *section.Member) {
	if !n.isDealer() {
		return
	}
	for _, s := range n.section.View().All() {
		m, err := n.wrap(message.VariantNeighbourInfo, s.Bytes(), message.ToDirect(joined.Name))
		if err != nil {
			n.log.Errorf("Wrapping the section info failed: %s", err.Error())
			return
		}
		n.sendDirect(m, joined.Endpoint)
	}
}

// onNeighbourInfo() records another section's info; a section we just learned about gets ours in return
func (n *Node) onNeighbourInfo(m *message.RoutingMessage) lib.ErrorI {
	info, err := section.InfoFromBytes(m.Payload)
	if err != nil {
		return err
	}
	_, known := n.section.View().Get(info.Prefix)
	updated, err := n.section.UpdateNeighbour(info)
	if err != nil || !updated {
		return err
	}
	n.log.Debugf("Neighbour %s is at key %s", info.Prefix.Display(), lib.BytesToString(info.Key))
	n.updateSectionMetrics()
	if !known && m.Dst.Kind != message.DstDirect {
		n.announce([]*section.Info{info}, false)
	}
	n.maybeSignMerge()
	n.persist(false)
	return nil
}

// sendHeartbeat() tells the other elders this node is alive, a few times per suspicion timeout
func (n *Node) sendHeartbeat(now time.Time) {
	if now.Sub(n.heartbeat) < ms(n.config.SuspicionTimeoutMS)/3 {
		return
	}
	n.heartbeat = now
	m, err := n.wrap(message.VariantHeartbeat, nil, message.ToDirect(lib.XorName{}))
	if err != nil {
		n.log.Errorf("Wrapping the heartbeat failed: %s", err.Error())
		return
	}
	for _, e := range n.section.Elders() {
		if e.Name != n.id.Name {
			n.sendDirect(m, e.Endpoint)
		}
	}
}

// connectionLost() reports the transport losing a member's endpoint to the liveness tracking
func (n *Node) connectionLost(endpoint string, now time.Time) {
	if !n.isMember() {
		return
	}
	for _, mem := range n.section.Members() {
		if mem.Endpoint == endpoint {
			n.log.Debugf("Lost connection to %s", mem.Name)
			n.section.ConnectionLost(mem.Name, now)
		}
	}
}

func (n *Node) updateSectionMetrics() {
	n.metrics.UpdateSectionMetrics(len(n.section.Members()), len(n.section.Elders()), n.section.Prefix().BitCount,
		n.section.Chain().Len(), n.section.View().Len())
}

func containsName(members []*section.Member, name lib.XorName) bool {
	for _, m := range members {
		if m.Name == name {
			return true
		}
	}
	return false
}
