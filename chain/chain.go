package chain

import (
	"bytes"
	"encoding/hex"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
)

/*
	This file implements the Section Chain: the append-only history of a section's signing keys.

	Each link is (old key -> new key, signature of the new key by the old key). The first link is the genesis link, which
	has no old key. Anyone holding one key of the chain can verify every later key by walking the links forward, which is
	what lets a node trust a message signed by a section it never talked to.

	Links are addressed by absolute index. Pruning drops links from the front but never renumbers, so the logical length
	of a chain never shrinks.
*/

// linkDomain separates link signatures from every other message a section key signs
var linkDomain = []byte("section-chain-link")

// LinkSignBytes() returns the bytes the old key signs to vouch for the new key
func LinkSignBytes(newKey []byte) []byte {
	return crypto.HashAll(linkDomain, newKey)
}

// Link is one entry of the chain
type Link struct {
	OldKey    lib.HexBytes `json:"oldKey"`    // nil for the genesis link
	NewKey    lib.HexBytes `json:"newKey"`    // the key this link introduces
	Signature lib.HexBytes `json:"signature"` // signature by OldKey over LinkSignBytes(NewKey); nil for the genesis link
}

// Verify() checks the link signature
func (l *Link) Verify() bool {
	if len(l.OldKey) == 0 {
		return false
	}
	return crypto.VerifyBLS(l.OldKey, LinkSignBytes(l.NewKey), l.Signature)
}

// IsGenesis() returns true for the root link of a chain
func (l *Link) IsGenesis() bool { return len(l.OldKey) == 0 }

// Chain is the section chain owned by a single node's event loop; it is not safe for concurrent mutation
type Chain struct {
	offset int            // absolute index of links[0]
	links  []Link         // retained links
	index  map[string]int // hex key -> absolute index
}

// New() starts a chain at the network genesis key
func New(genesisKey []byte) *Chain {
	c := &Chain{index: make(map[string]int)}
	c.push(Link{NewKey: lib.Clone(genesisKey)})
	return c
}

// FromLinks() rebuilds a chain from retained links starting at absolute index offset, checking every linkage
func FromLinks(offset int, links []Link) (*Chain, lib.ErrorI) {
	if len(links) == 0 {
		return nil, ErrEmptyChain()
	}
	if offset < 0 {
		return nil, ErrChainIntegrity("negative offset")
	}
	c := &Chain{offset: offset, index: make(map[string]int)}
	for i, l := range links {
		if i == 0 {
			if _, dup := c.index[hex.EncodeToString(l.NewKey)]; dup {
				return nil, ErrDuplicateKey(l.NewKey)
			}
			c.push(l)
			continue
		}
		if err := c.AppendLink(l); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// push() appends without checks
func (c *Chain) push(l Link) {
	c.index[hex.EncodeToString(l.NewKey)] = c.offset + len(c.links)
	c.links = append(c.links, l)
}

// Append() adds a new section key signed by the current last key.
// It is the only mutator used on the happy path and fails with a chain integrity error if the link does not verify
func (c *Chain) Append(newKey, signatureByOldKey []byte) lib.ErrorI {
	return c.AppendLink(Link{OldKey: c.LastKey(), NewKey: lib.Clone(newKey), Signature: lib.Clone(signatureByOldKey)})
}

// AppendLink() adds a link whose old key must equal the current last key
func (c *Chain) AppendLink(l Link) lib.ErrorI {
	// linkage invariant: entry i's old key is entry i-1's new key
	if !bytes.Equal(l.OldKey, c.LastKey()) {
		return ErrChainIntegrity("old key does not match the last key")
	}
	if c.Has(l.NewKey) {
		return ErrDuplicateKey(l.NewKey)
	}
	if !l.Verify() {
		return ErrChainIntegrity("link signature does not verify under the old key")
	}
	c.push(Link{OldKey: lib.Clone(l.OldKey), NewKey: lib.Clone(l.NewKey), Signature: lib.Clone(l.Signature)})
	return nil
}

// CheckLinkage() re-validates every retained link
func (c *Chain) CheckLinkage() lib.ErrorI {
	if len(c.links) == 0 {
		return ErrEmptyChain()
	}
	for i := 1; i < len(c.links); i++ {
		if !bytes.Equal(c.links[i].OldKey, c.links[i-1].NewKey) {
			return ErrChainIntegrity("broken linkage")
		}
		if !c.links[i].Verify() {
			return ErrChainIntegrity("invalid link signature")
		}
	}
	return nil
}

// Len() returns the logical length of the chain, including pruned links
func (c *Chain) Len() int { return c.offset + len(c.links) }

// Offset() returns the absolute index of the first retained link
func (c *Chain) Offset() int { return c.offset }

// Links() returns a copy of the retained links
func (c *Chain) Links() []Link { return append([]Link(nil), c.links...) }

// LastKey() returns the current section key
func (c *Chain) LastKey() []byte { return c.links[len(c.links)-1].NewKey }

// FirstKey() returns the oldest retained key
func (c *Chain) FirstKey() []byte { return c.links[0].NewKey }

// Keys() returns the retained keys oldest first
func (c *Chain) Keys() (keys [][]byte) {
	for _, l := range c.links {
		keys = append(keys, l.NewKey)
	}
	return
}

// Has() returns true if the key is retained in the chain
func (c *Chain) Has(key []byte) bool {
	_, ok := c.index[hex.EncodeToString(key)]
	return ok
}

// IndexOf() returns the absolute index of a retained key
func (c *Chain) IndexOf(key []byte) (int, bool) {
	i, ok := c.index[hex.EncodeToString(key)]
	return i, ok
}

// KeyAt() returns the key at an absolute index if retained
func (c *Chain) KeyAt(i int) ([]byte, bool) {
	if i < c.offset || i >= c.Len() {
		return nil, false
	}
	return c.links[i-c.offset].NewKey, true
}

// ProofFrom() returns the minimal suffix proving the last key to someone who trusts key
func (c *Chain) ProofFrom(key []byte) (Proof, lib.ErrorI) {
	i, ok := c.IndexOf(key)
	if !ok {
		return Proof{}, ErrKeyNotInChain(key)
	}
	return c.proofFromIndex(i), nil
}

// ProofFromAny() returns the shortest suffix starting at the newest of the given keys that the chain retains,
// or the whole retained chain if none is known
func (c *Chain) ProofFromAny(keys [][]byte) Proof {
	best := -1
	for _, k := range keys {
		if i, ok := c.IndexOf(k); ok && i > best {
			best = i
		}
	}
	if best < 0 {
		best = c.offset
	}
	return c.proofFromIndex(best)
}

// LastProof() returns the single entry proof of the current key, for receivers that already trust it
func (c *Chain) LastProof() Proof { return c.proofFromIndex(c.Len() - 1) }

func (c *Chain) proofFromIndex(abs int) Proof {
	rel := abs - c.offset
	p := Proof{Entries: []ProofEntry{{Key: lib.Clone(c.links[rel].NewKey)}}}
	for _, l := range c.links[rel+1:] {
		p.Entries = append(p.Entries, ProofEntry{Key: lib.Clone(l.NewKey), Signature: lib.Clone(l.Signature)})
	}
	return p
}

// Extend() appends the entries of a proof that go beyond the last key; the proof must contain the last key
func (c *Chain) Extend(p Proof) (added int, err lib.ErrorI) {
	start := -1
	for i, e := range p.Entries {
		if bytes.Equal(e.Key, c.LastKey()) {
			start = i
		}
	}
	if start < 0 {
		return 0, ErrUntrustedProof()
	}
	for _, e := range p.Entries[start+1:] {
		if err = c.Append(e.Key, e.Signature); err != nil {
			return
		}
		added++
	}
	return
}

// Trusts() verifies a proof against the keys this chain already holds: the newest retained key that appears in the
// proof becomes the anchor, whether the proof reaches back into our history or forward beyond it
func (c *Chain) Trusts(p Proof) bool {
	return VerifyProofWith(p, c.Has) == nil
}

// VerifyAgainst() verifies a proof from the newest entry accepted by the trusted predicate
func (c *Chain) VerifyAgainst(p Proof, trusted func(key []byte) bool) lib.ErrorI {
	return VerifyProofWith(p, trusted)
}

// Prune() drops links older than absolute index keepFrom, never dropping the last key or any pinned anchor.
// It returns how many links were dropped
func (c *Chain) Prune(keepFrom int, pinned [][]byte) (int, lib.ErrorI) {
	limit := c.Len() - 1
	for _, k := range pinned {
		if i, ok := c.IndexOf(k); ok && i < limit {
			limit = i
		}
	}
	if keepFrom > limit {
		if keepFrom > c.Len()-1 {
			return 0, ErrPruneAnchor()
		}
		keepFrom = limit
	}
	drop := keepFrom - c.offset
	if drop <= 0 {
		return 0, nil
	}
	for _, l := range c.links[:drop] {
		delete(c.index, hex.EncodeToString(l.NewKey))
	}
	c.links = append([]Link(nil), c.links[drop:]...)
	c.offset += drop
	return drop, nil
}

// Clone() returns an independent copy of the chain, used when a split section inherits its history
func (c *Chain) Clone() *Chain {
	cp := &Chain{offset: c.offset, links: make([]Link, len(c.links)), index: make(map[string]int, len(c.index))}
	copy(cp.links, c.links)
	for k, v := range c.index {
		cp.index[k] = v
	}
	return cp
}

// Rebase() returns own history up to the newest key it shares with the proof, followed by the rest of the proof.
// A node adopting another section's history (joining, or merging with its sibling) keeps every key both agree on
func Rebase(own *Chain, p Proof) (*Chain, lib.ErrorI) {
	fork := -1
	for i := len(p.Entries) - 1; i >= 0; i-- {
		if own.Has(p.Entries[i].Key) {
			fork = i
			break
		}
	}
	if fork < 0 {
		return nil, ErrUntrustedProof()
	}
	if err := p.verifyLinks(); err != nil {
		return nil, err
	}
	forkIndex, _ := own.IndexOf(p.Entries[fork].Key)
	rebased := &Chain{offset: own.offset, index: make(map[string]int)}
	for _, l := range own.links[:forkIndex-own.offset+1] {
		rebased.push(l)
	}
	for _, e := range p.Entries[fork+1:] {
		if err := rebased.Append(e.Key, e.Signature); err != nil {
			return nil, err
		}
	}
	return rebased, nil
}

// Merge() builds the chain of a merged section. Both sides produce the same result: the shared history followed by
// the '0' side keys proven by zeroProof, then a link from the '0' side terminal key to the '1' side terminal key.
// Both predecessors' terminal keys are in the chain before the first joint key is appended
func Merge(own *Chain, zeroProof Proof, oneKey, linkSig []byte) (*Chain, lib.ErrorI) {
	if len(zeroProof.Entries) == 0 {
		return nil, ErrInvalidMerge("empty zero side proof")
	}
	merged, err := Rebase(own, zeroProof)
	if err != nil {
		return nil, ErrInvalidMerge(err.Error())
	}
	if err = merged.Append(oneKey, linkSig); err != nil {
		return nil, ErrInvalidMerge(err.Error())
	}
	return merged, nil
}

// chainJSON is the persisted form of a chain
type chainJSON struct {
	Offset int    `json:"offset"`
	Links  []Link `json:"links"`
}

// MarshalJSON() encodes the retained links and the offset
func (c *Chain) MarshalJSON() ([]byte, error) {
	return lib.MarshalJSON(chainJSON{Offset: c.offset, Links: c.links})
}

// UnmarshalJSON() decodes and re-validates a chain
func (c *Chain) UnmarshalJSON(b []byte) error {
	j := new(chainJSON)
	if err := lib.UnmarshalJSON(b, j); err != nil {
		return err
	}
	loaded, err := FromLinks(j.Offset, j.Links)
	if err != nil {
		return err
	}
	*c = *loaded
	return nil
}
