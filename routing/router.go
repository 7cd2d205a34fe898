package routing

import (
	"sort"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/message"
	"github.com/canopy-network/routing/section"
)

/*
	This file implements the routing decision.

	A message addressed into our own section is delivered by the elders, who also hand it to the elders that have not
	seen it yet; adults pass it to the elders. Everything else goes to the known section whose prefix shares the longest
	prefix with the destination, if that section is strictly closer than ours: to its FanOut elders nearest by XOR
	distance to the destination.
*/

// Action is what the node does with a message
type Action uint8

const (
	ActionDeliver Action = iota + 1 // handle locally, and forward to Targets if any
	ActionRelay                     // forward to Targets only
	ActionReject                    // drop, see Reason
)

// String() returns the action name
func (a Action) String() string {
	switch a {
	case ActionDeliver:
		return "deliver"
	case ActionRelay:
		return "relay"
	case ActionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Reason explains a rejection
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonProofInvalid Reason = "proof_invalid"
	ReasonNoRoute      Reason = "no_route"
	ReasonDuplicate    Reason = "duplicate"
	ReasonHalted       Reason = "halted"
)

// Decision is the outcome of routing one message
type Decision struct {
	Action  Action
	Targets []*section.Member // peers to forward to
	Reason  Reason
	Err     lib.ErrorI // the underlying error of a rejection
}

// Table is the routing state the router reads: our own section and the neighbour arena.
// It is implemented by the section manager
type Table interface {
	Self() lib.XorName
	Prefix() lib.Prefix
	Members() []*section.Member
	Elders() []*section.Member
	IsElder(name lib.XorName) bool
	View() *section.NetworkView
	Trusts(key []byte) bool
}

// Router decides deliver/relay/reject for every message and suppresses duplicates
type Router struct {
	config    lib.RoutingConfig
	elderSize int
	table     Table
	filter    *Filter
	halted    bool
	metrics   *lib.Metrics
	log       lib.LoggerI
}

// NewRouter() creates a router over the node's routing table
func NewRouter(config lib.RoutingConfig, elderSize int, table Table, metrics *lib.Metrics, log lib.LoggerI) *Router {
	return &Router{
		config:    config,
		elderSize: elderSize,
		table:     table,
		filter:    NewFilter(config),
		metrics:   metrics,
		log:       log,
	}
}

// Halt() stops all routing; used when the section chain lost its integrity
func (r *Router) Halt() { r.halted = true }

// Halted() returns true if routing stopped
func (r *Router) Halted() bool { return r.halted }

// Filter() exposes the dedup caches
func (r *Router) Filter() *Filter { return r.filter }

// Route() decides what to do with a message whose signature was already verified
func (r *Router) Route(m *message.RoutingMessage) (d Decision) {
	defer func() { r.metrics.IncDecision(d.Action.String(), string(d.Reason)) }()
	if r.halted {
		return reject(ReasonHalted, ErrRoutingHalted())
	}
	// direct messages travel a single hop by endpoint and are never routed or filtered
	if m.Dst.Kind == message.DstDirect {
		return Decision{Action: ActionDeliver}
	}
	if err := m.VerifyProof(r.table.Trusts); err != nil {
		r.log.Warnf("Dropping %s: %s", m, err.Error())
		return reject(ReasonProofInvalid, err)
	}
	id := m.ID()
	if r.filter.SeenIncoming(id) {
		return reject(ReasonDuplicate, ErrDuplicateMessage(id))
	}
	self, prefix := r.table.Self(), r.table.Prefix()
	if m.Dst.Covers(prefix) {
		return r.routeLocal(m, id, self, prefix)
	}
	return r.relay(m, id, r.closerSection(m.Dst.Target(), prefix))
}

// routeLocal() handles a destination covering our own section
func (r *Router) routeLocal(m *message.RoutingMessage, id string, self lib.XorName, prefix lib.Prefix) Decision {
	if m.Dst.Kind == message.DstNode {
		if m.Dst.Name == self {
			return Decision{Action: ActionDeliver}
		}
		for _, member := range r.table.Members() {
			if member.Name == m.Dst.Name {
				return r.forward(ActionRelay, m, id, []*section.Member{member})
			}
		}
		return reject(ReasonNoRoute, ErrNoRoute(m.Dst))
	}
	if !r.table.IsElder(self) {
		return r.forward(ActionRelay, m, id, r.closest(r.table.Elders(), m.Dst.Target()))
	}
	// elders deliver and pass the message on to the other elders, and to other covered sections of a prefix
	targets := r.others(r.table.Elders(), self)
	if m.Dst.Kind == message.DstPrefix {
		for _, s := range r.table.View().All() {
			if !s.Prefix.Equals(prefix) && m.Dst.Covers(s.Prefix) {
				targets = append(targets, r.closest(s.Elders(r.elderSize), s.Prefix.Lower())...)
			}
		}
	}
	return r.forward(ActionDeliver, m, id, targets)
}

// relay() forwards towards a closer section
func (r *Router) relay(m *message.RoutingMessage, id string, s *section.Info) Decision {
	if s == nil {
		return reject(ReasonNoRoute, ErrNoRoute(m.Dst))
	}
	return r.forward(ActionRelay, m, id, r.closest(s.Elders(r.elderSize), m.Dst.Target()))
}

// forward() drops the targets this message was already sent to; a relay left without targets is a duplicate
func (r *Router) forward(action Action, m *message.RoutingMessage, id string, targets []*section.Member) Decision {
	var fresh []*section.Member
	for _, t := range targets {
		if !r.filter.SeenOutgoing(id, t.Name) {
			fresh = append(fresh, t)
		}
	}
	if action == ActionRelay && len(fresh) == 0 {
		if len(targets) == 0 {
			return reject(ReasonNoRoute, ErrNoRoute(m.Dst))
		}
		return reject(ReasonDuplicate, ErrDuplicateMessage(id))
	}
	return Decision{Action: action, Targets: fresh}
}

// closerSection() returns the known section sharing the longest prefix with the target,
// if it shares a longer one than our own section does
func (r *Router) closerSection(target lib.XorName, ours lib.Prefix) *section.Info {
	best := r.table.View().Closest(target)
	if best == nil {
		return nil
	}
	if best.Prefix.Matches(target) || best.Prefix.CommonPrefixLen(target) > ours.CommonPrefixLen(target) {
		return best
	}
	return nil
}

// closest() returns up to FanOut members nearest to the target by XOR distance
func (r *Router) closest(members []*section.Member, target lib.XorName) []*section.Member {
	sorted := append([]*section.Member(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return target.Closer(sorted[i].Name, sorted[j].Name) })
	if len(sorted) > r.config.FanOut {
		sorted = sorted[:r.config.FanOut]
	}
	return sorted
}

// others() returns the members except self
func (r *Router) others(members []*section.Member, self lib.XorName) (out []*section.Member) {
	for _, m := range members {
		if m.Name != self {
			out = append(out, m)
		}
	}
	return
}

func reject(reason Reason, err lib.ErrorI) Decision {
	return Decision{Action: ActionReject, Reason: reason, Err: err}
}
