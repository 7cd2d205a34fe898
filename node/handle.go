package node

import (
	"time"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/message"
	"github.com/canopy-network/routing/routing"
)

// handle() routes a verified message, forwards it and dispatches it when it is for this node
func (n *Node) handle(in inbound) {
	if n.halted {
		return
	}
	m, now := in.msg, time.Now()
	if !n.isMember() && !admission(m) {
		n.buffer(in)
		return
	}
	if !m.Src.Section && n.isMember() {
		if _, ok := n.section.Member(m.Src.Name); ok {
			n.section.Heard(m.Src.Name, now)
		}
	}
	d := n.router.Route(m)
	switch d.Action {
	case routing.ActionReject:
		if d.Err != nil {
			n.log.Debugf("Rejected %s: %s", m, d.Err.Error())
		}
		return
	case routing.ActionRelay:
		n.sendTo(m, d.Targets)
		return
	}
	n.sendTo(m, d.Targets)
	if err := n.dispatch(in, now); err != nil {
		n.log.Debugf("Handling %s from %s failed: %s", m, in.from, err.Error())
	}
}

// admission() returns true for the messages a node handles before it is a member: those of its own admission
func admission(m *message.RoutingMessage) bool {
	if m.Dst.Kind != message.DstDirect {
		return false
	}
	switch m.Variant {
	case message.VariantChallenge, message.VariantNodeApproval, message.VariantRelocate:
		return true
	}
	return false
}

// dispatch() hands a delivered message to its handler
func (n *Node) dispatch(in inbound, now time.Time) lib.ErrorI {
	m := in.msg
	switch m.Variant {
	case message.VariantUser:
		n.emit(Event{Kind: EventMessage, Message: m})
		return nil
	case message.VariantJoinRequest:
		return n.onJoinRequest(m, now)
	case message.VariantChallenge:
		return n.onChallenge(m, in.from)
	case message.VariantChallengeResponse:
		return n.onChallengeResponse(m, now)
	case message.VariantNodeApproval:
		return n.onApproval(m)
	case message.VariantRelocate:
		return n.onRelocate(m, now)
	case message.VariantSignatureShare:
		if m.Src.Section || !n.isElder() {
			return nil
		}
		return n.onSignatureShare(in)
	case message.VariantNeighbourInfo:
		return n.onNeighbourInfo(m)
	case message.VariantConsensus:
		return n.onConsensus(m)
	case message.VariantKeyShare:
		return n.onKeyShare(in)
	case message.VariantMerge:
		return n.onMerge(m)
	case message.VariantHeartbeat:
		return nil
	default:
		return message.ErrUnknownVariant(m.Variant)
	}
}

// onConsensus() hands engine traffic from another elder to our engine
func (n *Node) onConsensus(m *message.RoutingMessage) lib.ErrorI {
	if !n.section.IsElder(m.Src.Name) {
		return message.ErrInvalidMessage("consensus traffic from a node that is not an elder")
	}
	if r, ok := n.engine.(Receiver); ok {
		r.Receive(m.Src.Name, m.Payload)
	}
	return nil
}

// broadcastConsensus() queues engine traffic for the elders; engines call it from their own goroutines
func (n *Node) broadcastConsensus(payload []byte) {
	select {
	case n.engineOut <- lib.Clone(payload):
	default:
		n.log.Warnf("Engine traffic queue full, dropping %d bytes", len(payload))
	}
}

// sendConsensus() sends engine traffic to the other elders
func (n *Node) sendConsensus(payload []byte) {
	if !n.isElder() {
		return
	}
	for _, e := range n.section.Elders() {
		if e.Name == n.id.Name {
			continue
		}
		m, err := n.wrap(message.VariantConsensus, payload, message.ToDirect(e.Name))
		if err != nil {
			n.log.Errorf("Wrapping engine traffic failed: %s", err.Error())
			return
		}
		n.sendDirect(m, e.Endpoint)
	}
}
