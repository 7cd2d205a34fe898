package message

import (
	"fmt"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/section"
)

// Variant tags the payload a message carries
type Variant uint8

const (
	VariantUser              Variant = iota + 1 // opaque application data
	VariantJoinRequest                          // a candidate asks a section to admit it
	VariantChallenge                            // an elder's resource proof challenge to a candidate
	VariantChallengeResponse                    // the candidate's solution
	VariantNodeApproval                         // an elder tells an admitted node its section state
	VariantRelocate                             // a section orders a member to rejoin elsewhere
	VariantSignatureShare                       // an elder's share of a section signature
	VariantNeighbourInfo                        // a section announces its prefix, key and members
	VariantConsensus                            // opaque consensus engine traffic
	VariantKeyShare                             // the dealer hands out a new section key set
	VariantMerge                                // the '0' side forwards an agreed merge to its sibling
	VariantHeartbeat                            // a member tells its elders it is alive
)

// Valid() returns true for known variants
func (v Variant) Valid() bool { return v >= VariantUser && v <= VariantHeartbeat }

// String() returns the variant name
func (v Variant) String() string {
	switch v {
	case VariantUser:
		return "User"
	case VariantJoinRequest:
		return "JoinRequest"
	case VariantChallenge:
		return "Challenge"
	case VariantChallengeResponse:
		return "ChallengeResponse"
	case VariantNodeApproval:
		return "NodeApproval"
	case VariantRelocate:
		return "Relocate"
	case VariantSignatureShare:
		return "SignatureShare"
	case VariantNeighbourInfo:
		return "NeighbourInfo"
	case VariantConsensus:
		return "Consensus"
	case VariantKeyShare:
		return "KeyShare"
	case VariantMerge:
		return "Merge"
	case VariantHeartbeat:
		return "Heartbeat"
	default:
		return fmt.Sprintf("Variant(%d)", v)
	}
}

// JoinRequest is sent by a candidate to the section responsible for its name
type JoinRequest struct {
	Member     *section.Member `json:"member"`
	Relocation lib.HexBytes    `json:"relocation,omitempty"` // the section signed Relocate message of a relocated node
	Attempt    uint64          `json:"attempt"`              // retries differ in content so relays do not drop them
}

// Bytes() encodes the request
func (j *JoinRequest) Bytes() []byte {
	return lib.NewEncoder().Bytes(1, j.Member.Bytes()).Bytes(2, j.Relocation).Uint64(3, j.Attempt).Encoded()
}

// JoinRequestFromBytes() decodes a request
func JoinRequestFromBytes(bz []byte) (*JoinRequest, lib.ErrorI) {
	j := new(JoinRequest)
	err := lib.DecodeFields(bz, func(f lib.Field) (err lib.ErrorI) {
		switch f.Num {
		case 1:
			j.Member, err = section.MemberFromBytes(f.Bytes)
		case 2:
			j.Relocation = optional(f.Bytes)
		case 3:
			j.Attempt = f.Value
		}
		return
	})
	if err != nil {
		return nil, err
	}
	if j.Member == nil {
		return nil, ErrInvalidMessage("join request without a member")
	}
	return j, nil
}

// NodeApproval is the section state an elder sends to a node admitted at Sequence
type NodeApproval struct {
	Info     *section.Info `json:"info"`
	Sequence uint64        `json:"sequence"`
	Group    string        `json:"group"` // the consensus group the section currently agrees in
}

// Bytes() encodes the approval
func (a *NodeApproval) Bytes() []byte {
	return lib.NewEncoder().Bytes(1, a.Info.Bytes()).Uint64(2, a.Sequence).String(3, a.Group).Encoded()
}

// NodeApprovalFromBytes() decodes an approval
func NodeApprovalFromBytes(bz []byte) (*NodeApproval, lib.ErrorI) {
	a := new(NodeApproval)
	err := lib.DecodeFields(bz, func(f lib.Field) (err lib.ErrorI) {
		switch f.Num {
		case 1:
			a.Info, err = section.InfoFromBytes(f.Bytes)
		case 2:
			a.Sequence = f.Value
		case 3:
			a.Group = string(f.Bytes)
		}
		return
	})
	if err != nil {
		return nil, err
	}
	if a.Info == nil {
		return nil, ErrInvalidMessage("approval without section info")
	}
	return a, nil
}

// Relocate orders a member to rejoin near Destination with an increased age
type Relocate struct {
	PreviousName lib.XorName `json:"previousName"`
	Destination  lib.XorName `json:"destination"`
	Age          uint32      `json:"age"`
}

// Bytes() encodes the order
func (r *Relocate) Bytes() []byte {
	return lib.NewEncoder().Bytes(1, r.PreviousName[:]).Bytes(2, r.Destination[:]).Uint64(3, uint64(r.Age)).Encoded()
}

// RelocateFromBytes() decodes an order
func RelocateFromBytes(bz []byte) (*Relocate, lib.ErrorI) {
	r := new(Relocate)
	err := lib.DecodeFields(bz, func(f lib.Field) (err lib.ErrorI) {
		switch f.Num {
		case 1:
			r.PreviousName, err = lib.NewXorName(f.Bytes)
		case 2:
			r.Destination, err = lib.NewXorName(f.Bytes)
		case 3:
			r.Age = uint32(f.Value)
		}
		return
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SharePurpose tags what a SignatureShare signs
type SharePurpose uint8

const (
	ShareKeyRotation SharePurpose = iota + 1 // the link from the current key to a new key set
	ShareMergeLink                           // the link from the '0' side key to the sibling key
)

// SignatureShare is one key share holder's signature over the data of a purpose
type SignatureShare struct {
	Purpose SharePurpose `json:"purpose"`
	Key     lib.HexBytes `json:"key"`    // the section key the share belongs to
	Target  lib.HexBytes `json:"target"` // rotation: the new key set; merge: the sibling key
	Index   uint32       `json:"index"`
	Share   lib.HexBytes `json:"share"`
}

// Bytes() encodes the share
func (s *SignatureShare) Bytes() []byte {
	return lib.NewEncoder().
		Uint64(1, uint64(s.Purpose)).
		Bytes(2, s.Key).
		Bytes(3, s.Target).
		Uint64(4, uint64(s.Index)).
		Bytes(5, s.Share).
		Encoded()
}

// SignatureShareFromBytes() decodes a share
func SignatureShareFromBytes(bz []byte) (*SignatureShare, lib.ErrorI) {
	s := new(SignatureShare)
	err := lib.DecodeFields(bz, func(f lib.Field) lib.ErrorI {
		switch f.Num {
		case 1:
			s.Purpose = SharePurpose(f.Value)
		case 2:
			s.Key = lib.Clone(f.Bytes)
		case 3:
			s.Target = lib.Clone(f.Bytes)
		case 4:
			s.Index = uint32(f.Value)
		case 5:
			s.Share = lib.Clone(f.Bytes)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.Purpose != ShareKeyRotation && s.Purpose != ShareMergeLink {
		return nil, ErrInvalidMessage(fmt.Sprintf("unknown share purpose %d", s.Purpose))
	}
	return s, nil
}

// KeyShare hands out a freshly dealt section key set. Elders of the new set get their secret share; every other
// holder of the current key only gets the public set, to sign the rotation link
type KeyShare struct {
	CurrentKey lib.HexBytes      `json:"currentKey"` // the key the rotation links from
	KeySet     lib.HexBytes      `json:"keySet"`
	Share      lib.HexBytes      `json:"share,omitempty"` // the recipient's secret share
	Elders     []*section.Member `json:"elders"`          // the elders the new key set was dealt for, by share index
}

// Bytes() encodes the key share
func (k *KeyShare) Bytes() []byte {
	enc := lib.NewEncoder().Bytes(1, k.CurrentKey).Bytes(2, k.KeySet).Bytes(3, k.Share)
	for _, e := range k.Elders {
		enc.Bytes(4, e.Bytes())
	}
	return enc.Encoded()
}

// KeyShareFromBytes() decodes a key share
func KeyShareFromBytes(bz []byte) (*KeyShare, lib.ErrorI) {
	k := new(KeyShare)
	err := lib.DecodeFields(bz, func(f lib.Field) (err lib.ErrorI) {
		switch f.Num {
		case 1:
			k.CurrentKey = lib.Clone(f.Bytes)
		case 2:
			k.KeySet = lib.Clone(f.Bytes)
		case 3:
			k.Share = optional(f.Bytes)
		case 4:
			var m *section.Member
			if m, err = section.MemberFromBytes(f.Bytes); err == nil {
				k.Elders = append(k.Elders, m)
			}
		}
		return
	})
	if err != nil {
		return nil, err
	}
	return k, nil
}
