package section

import (
	"fmt"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
)

// EventKind tags the variant of a churn event
type EventKind uint8

const (
	EventNodeJoined    EventKind = iota + 1 // a candidate passed the resource proof and is admitted
	EventNodeLeft                           // a member left or was agreed unresponsive
	EventNodeRelocated                      // a member is ordered to rejoin at a destination name
	EventSectionSplit                       // the section divides its prefix by one more bit
	EventSectionMerge                       // the section and its sibling become their parent prefix
	EventKeyRotated                         // the section adopts a new threshold key
)

// String() returns the event kind name
func (k EventKind) String() string {
	switch k {
	case EventNodeJoined:
		return "NodeJoined"
	case EventNodeLeft:
		return "NodeLeft"
	case EventNodeRelocated:
		return "NodeRelocated"
	case EventSectionSplit:
		return "SectionSplit"
	case EventSectionMerge:
		return "SectionMerge"
	case EventKeyRotated:
		return "KeyRotated"
	default:
		return fmt.Sprintf("EventKind(%d)", k)
	}
}

// Event is a churn event. It is only an observation until the consensus driver delivers it as agreed
type Event struct {
	Kind        EventKind    `json:"kind"`
	Member      *Member      `json:"member,omitempty"`    // NodeJoined: the admitted member
	Name        lib.XorName  `json:"name"`                // NodeLeft, NodeRelocated: the affected member
	Destination lib.XorName  `json:"destination"`         // NodeRelocated: the name the member must rejoin near
	Prefix      lib.Prefix   `json:"prefix"`              // SectionSplit: the prefix being split; SectionMerge: the merged prefix
	Key         lib.HexBytes `json:"key,omitempty"`       // SectionMerge: the '1' side terminal key
	KeySet      lib.HexBytes `json:"keySet,omitempty"`    // KeyRotated: the new public key set; SectionMerge: the '1' side key set
	Signature   lib.HexBytes `json:"signature,omitempty"` // KeyRotated, SectionMerge: link signature by the previous key
	Proof       chain.Proof  `json:"proof"`               // SectionMerge: the '0' side chain from the split key
	Members     []*Member    `json:"members,omitempty"`   // SectionMerge: the members of the merged section
}

// NewNodeJoined() creates the admission event of a member
func NewNodeJoined(m *Member) *Event { return &Event{Kind: EventNodeJoined, Member: m.Copy()} }

// NewNodeLeft() creates the removal event of a member
func NewNodeLeft(name lib.XorName) *Event { return &Event{Kind: EventNodeLeft, Name: name} }

// NewNodeRelocated() creates the relocation event of a member
func NewNodeRelocated(name, destination lib.XorName) *Event {
	return &Event{Kind: EventNodeRelocated, Name: name, Destination: destination}
}

// NewSectionSplit() creates the split event of a prefix
func NewSectionSplit(prefix lib.Prefix) *Event { return &Event{Kind: EventSectionSplit, Prefix: prefix} }

// NewKeyRotated() creates a key rotation event; signature is the current section key's signature over the new key
func NewKeyRotated(keySet *crypto.PublicKeySet, signature []byte) *Event {
	return &Event{Kind: EventKeyRotated, KeySet: keySet.Bytes(), Signature: lib.Clone(signature)}
}

// NewSectionMerge() creates a merge event into the parent prefix
func NewSectionMerge(parent lib.Prefix, zeroProof chain.Proof, oneKey, linkSig, oneKeySet []byte, members []*Member) *Event {
	ms := make([]*Member, 0, len(members))
	for _, m := range members {
		ms = append(ms, m.Copy())
	}
	SortByName(ms)
	return &Event{Kind: EventSectionMerge, Prefix: parent, Proof: zeroProof, Key: lib.Clone(oneKey), Signature: lib.Clone(linkSig), KeySet: nonEmpty(oneKeySet), Members: ms}
}

// NewKey() returns the section key a KeyRotated event introduces
func (e *Event) NewKey() ([]byte, lib.ErrorI) {
	ks, err := e.PublicKeySet()
	if err != nil {
		return nil, err
	}
	return ks.PublicKey().Bytes(), nil
}

// PublicKeySet() decodes the key set of a KeyRotated event
func (e *Event) PublicKeySet() (*crypto.PublicKeySet, lib.ErrorI) {
	ks, err := crypto.NewPublicKeySetFromBytes(e.KeySet)
	if err != nil {
		return nil, ErrInvalidEventData(err.Error())
	}
	return ks, nil
}

// Bytes() encodes the event deterministically; proposals are compared by these bytes
func (e *Event) Bytes() []byte {
	enc := lib.NewEncoder().Uint64(1, uint64(e.Kind))
	if e.Member != nil {
		enc.Message(2, e.Member.encoder())
	}
	enc.Bytes(3, e.Name[:]).
		Bytes(4, e.Destination[:]).
		Bytes(6, e.Prefix.Bytes()).
		Bytes(7, e.Key).
		Bytes(8, e.KeySet).
		Bytes(9, e.Signature).
		Bytes(10, e.Proof.Bytes())
	for _, m := range e.Members {
		enc.Message(11, m.encoder())
	}
	return enc.Encoded()
}

// EventFromBytes() decodes an event encoded by Bytes()
func EventFromBytes(bz []byte) (*Event, lib.ErrorI) {
	e := new(Event)
	err := lib.DecodeFields(bz, func(f lib.Field) (err lib.ErrorI) {
		switch f.Num {
		case 1:
			e.Kind = EventKind(f.Value)
		case 2:
			e.Member, err = MemberFromBytes(f.Bytes)
		case 3:
			e.Name, err = lib.NewXorName(f.Bytes)
		case 4:
			e.Destination, err = lib.NewXorName(f.Bytes)
		case 6:
			e.Prefix, err = lib.PrefixFromBytes(f.Bytes)
		case 7:
			e.Key = nonEmpty(f.Bytes)
		case 8:
			e.KeySet = nonEmpty(f.Bytes)
		case 9:
			e.Signature = nonEmpty(f.Bytes)
		case 10:
			e.Proof, err = chain.ProofFromBytes(f.Bytes)
		case 11:
			var m *Member
			if m, err = MemberFromBytes(f.Bytes); err == nil {
				e.Members = append(e.Members, m)
			}
		}
		return
	})
	if err != nil {
		return nil, err
	}
	if e.Kind < EventNodeJoined || e.Kind > EventKeyRotated {
		return nil, ErrUnknownEvent(e.Kind)
	}
	return e, nil
}

// Hash() identifies the event by its content
func (e *Event) Hash() []byte { return crypto.Hash(e.Bytes()) }

// String() describes the event for logging
func (e *Event) String() string {
	switch e.Kind {
	case EventNodeJoined:
		return fmt.Sprintf("NodeJoined(%s)", e.Member.Name)
	case EventNodeLeft:
		return fmt.Sprintf("NodeLeft(%s)", e.Name)
	case EventNodeRelocated:
		return fmt.Sprintf("NodeRelocated(%s -> %s)", e.Name, e.Destination)
	case EventSectionSplit:
		return fmt.Sprintf("SectionSplit%s", e.Prefix.Display())
	case EventSectionMerge:
		return fmt.Sprintf("SectionMerge%s", e.Prefix.Display())
	case EventKeyRotated:
		return fmt.Sprintf("KeyRotated(%s)", crypto.ShortHashString(e.KeySet))
	default:
		return e.Kind.String()
	}
}

// nonEmpty() keeps optional byte fields nil when absent so decoded events compare equal to constructed ones
func nonEmpty(b []byte) lib.HexBytes {
	if len(b) == 0 {
		return nil
	}
	return lib.Clone(b)
}
