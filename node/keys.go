package node

import (
	"bytes"
	"strings"
	"time"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"github.com/canopy-network/routing/message"
	"github.com/canopy-network/routing/section"
)

// keyState is this node's section key material
type keyState struct {
	share    *crypto.SecretKeyShare            // our share of shareKey
	shareKey []byte                            // the section key the share belongs to
	next     map[string]*crypto.SecretKeyShare // new key -> our share, dealt but not agreed yet
	elders   map[string]string                 // section key -> the elder set it was dealt for
	dealt    map[string]string                 // current key -> the elder set we dealt a successor for
	links    map[string]*linkShares            // link signatures under collection
	signed   map[string]bool                   // links we contributed a share to
	early    []inbound                         // shares ahead of our section state, replayed when it moves
}

// maxEarly bounds the shares kept ahead of our section state
const maxEarly = 256

// linkShares collects the signature shares of one chain link from the current key
type linkShares struct {
	purpose  message.SharePurpose
	key      string         // the current key, hex
	target   []byte         // rotation: the new key set; merge: the sibling key
	shares   map[int][]byte // share index -> signature share
	combined []byte         // set once the threshold was reached
}

func newKeyState() *keyState {
	return &keyState{
		next:   make(map[string]*crypto.SecretKeyShare),
		elders: make(map[string]string),
		dealt:  make(map[string]string),
		links:  make(map[string]*linkShares),
		signed: make(map[string]bool),
	}
}

// adopt() installs the share of a section key; a nil share means this node holds none
func (k *keyState) adopt(key []byte, share *crypto.SecretKeyShare) {
	k.share, k.shareKey = share, lib.Clone(key)
	k.next = make(map[string]*crypto.SecretKeyShare)
}

// dealtFor() records the elder set a key set was dealt for
func (k *keyState) dealtFor(key []byte, elders []*section.Member) {
	k.elders[lib.BytesToString(key)] = eldersID(elders)
}

// prune() forgets link collections that do not start at the current key
func (k *keyState) prune(current []byte) {
	key := lib.BytesToString(current)
	for id, l := range k.links {
		if l.key != key {
			delete(k.links, id)
		}
	}
	for id := range k.signed {
		if !strings.HasPrefix(id, key) {
			delete(k.signed, id)
		}
	}
}

// deferShare() keeps a share our section state cannot check yet
func (k *keyState) deferShare(in inbound) {
	if len(k.early) >= maxEarly {
		k.early = k.early[1:]
	}
	k.early = append(k.early, in)
}

// eldersID() identifies an elder set by its names
func eldersID(elders []*section.Member) string {
	names := make([]string, len(elders))
	for i, e := range elders {
		names[i] = e.Name.Hex()
	}
	return strings.Join(names, ",")
}

// linkID() identifies a link signature by its current key, purpose and target
func linkID(key []byte, purpose message.SharePurpose, target []byte) string {
	return lib.BytesToString(key) + "/" + lib.BytesToString([]byte{byte(purpose)}) + "/" + crypto.ShortHashString(target)
}

// holdsShare() returns true if this node can sign for the current section key
func (n *Node) holdsShare() bool {
	return n.keys.share != nil && n.section.KeySet() != nil && bytes.Equal(n.keys.shareKey, n.section.Chain().LastKey())
}

// isDealer() returns true if the first elder by name of the current elder set is this node
func (n *Node) isDealer() bool {
	elders := n.section.Elders()
	return n.isElder() && len(elders) != 0 && elders[0].Name == n.id.Name
}

// maybeDeal() deals a new section key set when the current key was dealt for another elder set.
// The elders get their secret shares, the other members and the sibling's members the public key set
func (n *Node) maybeDeal() {
	if !n.isDealer() {
		return
	}
	elders, current := n.section.Elders(), n.section.Chain().LastKey()
	id, key := eldersID(elders), lib.BytesToString(current)
	if n.keys.elders[key] == id || n.keys.dealt[key] == id {
		return
	}
	keySet, shares, err := crypto.DealKeySet(crypto.QuorumThreshold(len(elders)), len(elders))
	if err != nil {
		n.log.Errorf("Dealing a section key failed: %s", err.Error())
		return
	}
	n.keys.dealt[key] = id
	n.log.Infof("Dealing section key %s to %d elders", crypto.ShortHashString(keySet.PublicKey().Bytes()), len(elders))
	for i, e := range elders {
		n.sendKeyShare(&message.KeyShare{CurrentKey: current, KeySet: keySet.Bytes(), Share: shares[i].Bytes(), Elders: elders}, e)
	}
	public := &message.KeyShare{CurrentKey: current, KeySet: keySet.Bytes(), Elders: elders}
	others := n.section.Members()
	if sibling, ok := n.section.Sibling(); ok {
		others = append(others, sibling.Members...)
	}
	for _, m := range others {
		if !n.section.IsElder(m.Name) {
			n.sendKeyShare(public, m)
		}
	}
}

func (n *Node) sendKeyShare(ks *message.KeyShare, to *section.Member) {
	m, err := n.wrap(message.VariantKeyShare, ks.Bytes(), message.ToDirect(to.Name))
	if err != nil {
		n.log.Errorf("Wrapping a key share failed: %s", err.Error())
		return
	}
	n.sendDirect(m, to.Endpoint)
}

// onKeyShare() records a dealt key set, keeps our secret share of it and signs the link to it
func (n *Node) onKeyShare(in inbound) lib.ErrorI {
	m := in.msg
	ks, err := message.KeyShareFromBytes(m.Payload)
	if err != nil {
		return err
	}
	keySet, e := crypto.NewPublicKeySetFromBytes(ks.KeySet)
	if e != nil {
		return ErrInvalidPayload(m.Variant, e)
	}
	if bytes.Equal(keySet.PublicKey().Bytes(), n.section.Chain().LastKey()) {
		// the rotation to this key set was applied before its share arrived
		return n.adoptLate(ks, keySet)
	}
	if !n.current(ks.CurrentKey, in) {
		return nil
	}
	if !n.fromElder(m.Src.Name) {
		// the dealer of a section we have not seen split or change elders yet
		n.noteBehind()
		n.keys.deferShare(in)
		return nil
	}
	if eldersID(ks.Elders) != eldersID(n.section.Elders()) {
		n.noteBehind()
	}
	if keySet.Size() != len(ks.Elders) {
		return message.ErrInvalidMessage("key set size does not match its elders")
	}
	newKey := keySet.PublicKey().Bytes()
	n.keys.dealtFor(newKey, ks.Elders)
	if len(ks.Share) != 0 {
		share, e := crypto.NewSecretKeyShareFromBytes(ks.Share)
		if e != nil {
			return ErrInvalidPayload(m.Variant, e)
		}
		check := chain.LinkSignBytes(newKey)
		if !keySet.VerifyShare(share.Index, check, share.Sign(check)) {
			return message.ErrInvalidMessage("secret share does not match the key set")
		}
		n.keys.next[lib.BytesToString(newKey)] = share
	}
	n.signLink(message.ShareKeyRotation, keySet.Bytes(), chain.LinkSignBytes(newKey), ks.Elders)
	return nil
}

// adoptLate() installs our share of the current section key once the agreed key set confirms it
func (n *Node) adoptLate(ks *message.KeyShare, keySet *crypto.PublicKeySet) lib.ErrorI {
	if len(ks.Share) == 0 || n.holdsShare() {
		return nil
	}
	agreed := n.section.KeySet()
	if agreed == nil || !bytes.Equal(agreed.Bytes(), keySet.Bytes()) {
		return message.ErrInvalidMessage("key set is not the agreed one")
	}
	share, e := crypto.NewSecretKeyShareFromBytes(ks.Share)
	if e != nil {
		return ErrInvalidPayload(message.VariantKeyShare, e)
	}
	current := n.section.Chain().LastKey()
	check := chain.LinkSignBytes(current)
	if !agreed.VerifyShare(share.Index, check, share.Sign(check)) {
		return message.ErrInvalidMessage("secret share does not match the key set")
	}
	n.keys.adopt(current, share)
	n.log.Infof("Adopted a late share of section key %s", crypto.ShortHashString(current))
	n.maybeSignMerge()
	n.persist(true)
	return nil
}

// current() returns true if key is our current section key. Shares from a key we do not know yet are deferred
// until our chain moves; shares from an older key are dropped
func (n *Node) current(key []byte, in inbound) bool {
	c := n.section.Chain()
	switch {
	case bytes.Equal(key, c.LastKey()):
		return true
	case c.Has(key):
		n.log.Debugf("Ignoring %s from stale key %s", in.msg.Variant, crypto.ShortHashString(key))
	default:
		n.noteBehind()
		n.keys.deferShare(in)
	}
	return false
}

// noteBehind() records that a peer holds section state this member has not agreed yet
func (n *Node) noteBehind() {
	if n.isMember() && n.behind.IsZero() {
		n.behind = time.Now()
	}
}

// replayEarly() hands the deferred shares back to the loop
func (n *Node) replayEarly() {
	n.local = append(n.local, n.keys.early...)
	n.keys.early = nil
}

// fromElder() returns true if the name is one of our elders or one of our sibling's elders
func (n *Node) fromElder(name lib.XorName) bool {
	if n.section.IsElder(name) {
		return true
	}
	sibling, ok := n.section.Sibling()
	if !ok {
		return false
	}
	for _, e := range sibling.Elders(n.config.ElderSize) {
		if e.Name == name {
			return true
		}
	}
	return false
}

// signLink() sends our share of a link signature by the current key to the elders collecting it, once per link
func (n *Node) signLink(purpose message.SharePurpose, target, data []byte, to []*section.Member) {
	if !n.holdsShare() {
		return
	}
	current := n.section.Chain().LastKey()
	id := linkID(current, purpose, target)
	if n.keys.signed[id] {
		return
	}
	n.keys.signed[id] = true
	s := &message.SignatureShare{
		Purpose: purpose,
		Key:     lib.Clone(current),
		Target:  lib.Clone(target),
		Index:   uint32(n.keys.share.Index),
		Share:   n.keys.share.Sign(data),
	}
	for _, e := range to {
		m, err := n.wrap(message.VariantSignatureShare, s.Bytes(), message.ToDirect(e.Name))
		if err != nil {
			n.log.Errorf("Wrapping a signature share failed: %s", err.Error())
			return
		}
		n.sendDirect(m, e.Endpoint)
	}
}

// onSignatureShare() collects link signature shares by the current key and proposes the link once they combine
func (n *Node) onSignatureShare(in inbound) lib.ErrorI {
	m := in.msg
	s, err := message.SignatureShareFromBytes(m.Payload)
	if err != nil {
		return err
	}
	if !n.current(s.Key, in) {
		return nil
	}
	current := n.section.Chain().LastKey()
	keySet := n.section.KeySet()
	if keySet == nil {
		return nil
	}
	var data []byte
	switch s.Purpose {
	case message.ShareKeyRotation:
		next, e := crypto.NewPublicKeySetFromBytes(s.Target)
		if e != nil {
			return ErrInvalidPayload(m.Variant, e)
		}
		data = chain.LinkSignBytes(next.PublicKey().Bytes())
	case message.ShareMergeLink:
		sibling, ok := n.section.Sibling()
		if !ok || !n.section.IsMergeLeader() || !bytes.Equal(sibling.Key, s.Target) {
			n.log.Debugf("Ignoring merge link share for an unknown sibling key")
			return nil
		}
		data = chain.LinkSignBytes(s.Target)
	default:
		return message.ErrInvalidMessage("unknown signature share purpose")
	}
	index := int(s.Index)
	if !keySet.VerifyShare(index, data, s.Share) {
		return message.ErrInvalidMessageSignature("link signature share does not verify")
	}
	id := linkID(current, s.Purpose, s.Target)
	l, ok := n.keys.links[id]
	if !ok {
		l = &linkShares{purpose: s.Purpose, key: lib.BytesToString(current), target: lib.Clone(s.Target), shares: make(map[int][]byte)}
		n.keys.links[id] = l
	}
	if l.combined != nil {
		return nil
	}
	l.shares[index] = lib.Clone(s.Share)
	if len(l.shares) < keySet.Threshold() {
		return nil
	}
	signature, e := keySet.Combine(l.shares)
	if e != nil {
		return lib.ErrThresholdSignature(e)
	}
	l.combined = signature
	n.proposeLinks()
	return nil
}

// proposeLinks() proposes every combined link that still fits the section: rotations to a key set dealt for the
// current elders, and the merge once it is due
func (n *Node) proposeLinks() {
	if !n.isElder() {
		return
	}
	current := lib.BytesToString(n.section.Chain().LastKey())
	elders := eldersID(n.section.Elders())
	for _, l := range n.keys.links {
		if l.combined == nil || l.key != current {
			continue
		}
		switch l.purpose {
		case message.ShareKeyRotation:
			keySet, err := crypto.NewPublicKeySetFromBytes(l.target)
			if err != nil || n.keys.elders[lib.BytesToString(keySet.PublicKey().Bytes())] != elders {
				continue
			}
			n.propose(section.NewKeyRotated(keySet, l.combined))
		case message.ShareMergeLink:
			if !n.section.NeedsMerge() {
				continue
			}
			ev, err := n.section.ProposeMerge(l.combined)
			if err != nil {
				n.log.Debugf("Merge not proposed: %s", err.Error())
				continue
			}
			n.propose(ev)
		}
	}
}

// maybeSignMerge() contributes our share of the link from our key to the sibling key when a merge is due.
// Only the '0' side signs, once the halves hold different keys
func (n *Node) maybeSignMerge() {
	if !n.isMember() || !n.section.NeedsMerge() {
		return
	}
	data, ok := n.section.MergeLinkBytes()
	if !ok {
		return
	}
	sibling, _ := n.section.Sibling()
	if bytes.Equal(sibling.Key, n.section.Chain().LastKey()) {
		return
	}
	n.signLink(message.ShareMergeLink, sibling.Key, data, n.section.Elders())
}

// rotated() moves the key material to the new section key
func (n *Node) rotated() {
	key := n.section.Chain().LastKey()
	if !bytes.Equal(n.keys.shareKey, key) {
		n.keys.adopt(key, n.keys.next[lib.BytesToString(key)])
	}
	n.keys.prune(key)
	n.log.Infof("Section key is now %s, holding a share: %t", crypto.ShortHashString(key), n.holdsShare())
}

// propose() submits an event to consensus
func (n *Node) propose(ev *section.Event) {
	if n.driver == nil {
		return
	}
	proposed, err := n.driver.Propose(ev.Bytes())
	if err != nil {
		n.log.Warnf("Proposing %s failed: %s", ev, err.Error())
		return
	}
	if proposed {
		n.log.Debugf("Proposed %s", ev)
	}
}
