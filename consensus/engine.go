package consensus

import (
	"fmt"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
)

/* This file defines the contract between the routing layer and the pluggable BFT engine */

// Engine is the capability the driver needs from a consensus engine. The engine totally orders opaque observations
// among the elders of one consensus group and certifies each agreed observation with their aggregate signature.
type Engine interface {
	// Propose() submits an observation, proposing the same bytes twice is harmless
	Propose(event []byte) lib.ErrorI
	// PollAgreed() returns the next agreed observation, if any, without blocking
	PollAgreed() (*Agreement, bool)
	// UpdateElders() replaces the ordered list of BLS keys allowed to vote
	UpdateElders(keys [][]byte)
	// Close() leaves the group
	Close()
}

// Agreement is an engine's certificate that a quorum of the elders agreed Event at Sequence
type Agreement struct {
	Group     string       `json:"group"`
	Sequence  uint64       `json:"sequence"`
	Event     lib.HexBytes `json:"event"`
	Signature lib.HexBytes `json:"signature"` // aggregate BLS signature over SignBytes()
	Bitmap    lib.HexBytes `json:"bitmap"`    // which elders signed, by position in the elder list
}

// SignBytes() returns the bytes every voting elder signs
func (a *Agreement) SignBytes() []byte {
	return VoteSignBytes(a.Group, a.Sequence, a.Event)
}

// VoteSignBytes() returns the canonical bytes of a vote for an event at a sequence of a group
func VoteSignBytes(group string, sequence uint64, event []byte) []byte {
	return lib.NewEncoder().String(1, group).Uint64(2, sequence).Bytes(3, event).Encoded()
}

// Entropy() returns unpredictable bytes derived from the certificate, used for relocation decisions
func (a *Agreement) Entropy() []byte { return crypto.Hash(a.Signature) }

// Check() verifies the certificate against the ordered elder keys: the bitmap must enable more than 2/3 of them
// and the aggregate signature must verify under their aggregated keys
func (a *Agreement) Check(elders [][]byte) lib.ErrorI {
	if a == nil || len(a.Event) == 0 {
		return ErrEmptyAgreement()
	}
	if len(elders) == 0 {
		return ErrEmptyElderSet()
	}
	if len(a.Signature) != crypto.BLS12381SignatureSize {
		return ErrInvalidAggregateSigLen(len(a.Signature))
	}
	multiKey, err := crypto.NewMultiBLS(elders, a.Bitmap)
	if err != nil {
		return ErrMismatchElderBitmap(err)
	}
	if signers, needed := multiKey.SignerCount(), crypto.QuorumThreshold(len(elders)); signers < needed {
		return ErrNoQuorum(signers, needed)
	}
	if !multiKey.VerifyBytes(a.SignBytes(), a.Signature) {
		return ErrInvalidAgreement("aggregate signature does not verify")
	}
	return nil
}

// String() returns a short description for logs
func (a *Agreement) String() string {
	return fmt.Sprintf("Agreement{group: %s, seq: %d, event: %s}", a.Group, a.Sequence, crypto.ShortHashString(a.Event))
}

// GroupID() names the consensus group of a section epoch: the prefix and the section key it started under.
// A split or a merge starts a new group, so sequence numbers never collide across epochs
func GroupID(prefix lib.Prefix, key []byte) string {
	return prefix.String() + "/" + crypto.ShortHashString(key)
}
