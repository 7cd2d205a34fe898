package node

import (
	"fmt"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/message"
	"github.com/canopy-network/routing/section"
)

// EventKind tags a node notification
type EventKind uint8

const (
	EventJoined       EventKind = iota + 1 // this node was approved into a section
	EventStateChanged                      // this node moved in the membership state machine
	EventChurn                             // an agreed churn event was applied
	EventMessage                           // a user message was delivered to this node
	EventRelocated                         // this node took a new name to rejoin elsewhere
	EventHalted                            // routing stopped after a chain integrity failure
)

// String() returns the kind name
func (k EventKind) String() string {
	switch k {
	case EventJoined:
		return "Joined"
	case EventStateChanged:
		return "StateChanged"
	case EventChurn:
		return "Churn"
	case EventMessage:
		return "Message"
	case EventRelocated:
		return "Relocated"
	case EventHalted:
		return "Halted"
	default:
		return fmt.Sprintf("EventKind(%d)", k)
	}
}

// Event is a notification for the application using the node
type Event struct {
	Kind     EventKind
	State    section.State           // Joined, StateChanged: the state after the change
	Prefix   lib.Prefix              // Joined, Churn: our section prefix after the change
	Churn    *section.Event          // Churn: the applied event
	Sequence uint64                  // Churn: its sequence number
	Message  *message.RoutingMessage // Message: the delivered envelope
	Name     lib.XorName             // Relocated: the new name
	Err      lib.ErrorI              // Halted: the integrity failure
}

// Status summarizes the node for operators
type Status struct {
	Name       lib.XorName  `json:"name"`
	Endpoint   string       `json:"endpoint"`
	State      string       `json:"state"`
	Prefix     string       `json:"prefix"`
	Sequence   uint64       `json:"sequence"`
	Members    int          `json:"members"`
	Elders     int          `json:"elders"`
	ChainLen   int          `json:"chainLength"`
	SectionKey lib.HexBytes `json:"sectionKey"`
	KeyShare   bool         `json:"keyShare"` // holds a share of the section key
	Neighbours int          `json:"neighbours"`
	Group      string       `json:"group"`
	Pending    int          `json:"pendingProposals"`
	Halted     bool         `json:"halted"`
}

// Status() returns a snapshot of the node state
func (n *Node) Status() (s Status, err lib.ErrorI) {
	err = n.call(func() {
		s = Status{
			Name:       n.id.Name,
			Endpoint:   n.transport.Endpoint(),
			State:      n.section.State().String(),
			Prefix:     n.section.Prefix().String(),
			Sequence:   n.section.Sequence(),
			Members:    len(n.section.Members()),
			Elders:     len(n.section.Elders()),
			ChainLen:   n.section.Chain().Len(),
			SectionKey: lib.Clone(n.section.Chain().LastKey()),
			KeyShare:   n.holdsShare(),
			Neighbours: n.section.View().Len(),
			Group:      n.group,
			Halted:     n.halted,
		}
		if n.driver != nil {
			s.Pending = n.driver.Pending()
		}
	})
	return
}

// Section() describes our section with a proof from the genesis key
func (n *Node) Section() (info *section.Info, err lib.ErrorI) {
	err = n.call(func() { info = n.section.InfoFor([][]byte{n.genesis}) })
	return
}

// Neighbours() returns the other sections this node knows about
func (n *Node) Neighbours() (infos []*section.Info, err lib.ErrorI) {
	err = n.call(func() {
		for _, s := range n.section.View().All() {
			c := *s
			infos = append(infos, &c)
		}
	})
	return
}

// Chain() returns the retained links of our section chain
func (n *Node) Chain() (links []chain.Link, err lib.ErrorI) {
	err = n.call(func() { links = n.section.Chain().Links() })
	return
}
