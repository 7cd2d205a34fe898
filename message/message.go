package message

import (
	"bytes"
	"fmt"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
)

/*
	This file implements the secure message envelope.

	A RoutingMessage is signed either by a single node (ed25519, the key hashes to the source name) or by a section:
	a combined threshold signature, or one elder's share of it, under the section key the proof terminates at.
	Relays never modify an envelope; Refresh() returns a new one carrying a different proof for the same signing key.
*/

// DstKind tags how a destination is resolved
type DstKind uint8

const (
	DstNode    DstKind = iota + 1 // the node with exactly this name
	DstSection                    // the section whose prefix covers the name
	DstPrefix                     // the sections covered by the prefix
	DstDirect                     // a peer reached by its endpoint, never routed
)

// String() returns the kind name
func (k DstKind) String() string {
	switch k {
	case DstNode:
		return "Node"
	case DstSection:
		return "Section"
	case DstPrefix:
		return "Prefix"
	case DstDirect:
		return "Direct"
	default:
		return fmt.Sprintf("DstKind(%d)", k)
	}
}

// Source identifies the author of a message
type Source struct {
	Name    lib.XorName `json:"name"`    // the sending node; zero for section messages, which the prefix identifies
	Prefix  lib.Prefix  `json:"prefix"`  // the sender's section prefix
	Section bool        `json:"section"` // signed with the section key rather than the node key
}

// Destination is where a message must be delivered
type Destination struct {
	Kind   DstKind     `json:"kind"`
	Name   lib.XorName `json:"name"`
	Prefix lib.Prefix  `json:"prefix"`
}

// ToNode() addresses a single node
func ToNode(name lib.XorName) Destination { return Destination{Kind: DstNode, Name: name} }

// ToSection() addresses the section responsible for the name
func ToSection(name lib.XorName) Destination { return Destination{Kind: DstSection, Name: name} }

// ToPrefix() addresses every section within the prefix
func ToPrefix(prefix lib.Prefix) Destination { return Destination{Kind: DstPrefix, Prefix: prefix} }

// ToDirect() addresses a peer that is sent to by endpoint, such as a joining node
func ToDirect(name lib.XorName) Destination { return Destination{Kind: DstDirect, Name: name} }

// Target() returns the name the router steers towards
func (d Destination) Target() lib.XorName {
	if d.Kind == DstPrefix {
		return d.Prefix.Lower()
	}
	return d.Name
}

// Covers() returns true if a section with the prefix is a destination of the message
func (d Destination) Covers(prefix lib.Prefix) bool {
	if d.Kind == DstPrefix {
		return d.Prefix.IsCompatible(prefix)
	}
	return prefix.Matches(d.Name)
}

// String() describes the destination for logging
func (d Destination) String() string {
	if d.Kind == DstPrefix {
		return d.Kind.String() + d.Prefix.Display()
	}
	return fmt.Sprintf("%s(%s)", d.Kind, d.Name)
}

// RoutingMessage is the signed envelope every payload travels in
type RoutingMessage struct {
	Src       Source       `json:"src"`
	Dst       Destination  `json:"dst"`
	Variant   Variant      `json:"variant"`
	Payload   lib.HexBytes `json:"payload"`
	Proof     chain.Proof  `json:"proof"`            // section messages: chain suffix ending at SignerKey
	SignerKey lib.HexBytes `json:"signerKey"`        // node key or section key
	Share     uint32       `json:"share,omitempty"`  // 1 + key share index when Signature is a signature share
	KeySet    lib.HexBytes `json:"keySet,omitempty"` // public key set of SignerKey, for share messages
	Signature lib.HexBytes `json:"signature,omitempty"`
}

// Wrap() creates a node signed message. The signer's public key must hash to the source name
func Wrap(variant Variant, payload []byte, src Source, dst Destination, proof chain.Proof, signer crypto.PrivateKeyI) (*RoutingMessage, lib.ErrorI) {
	if src.Section {
		return nil, ErrInvalidMessage("section sources are signed with WrapShare or WrapSection")
	}
	m := &RoutingMessage{Src: src, Dst: dst, Variant: variant, Payload: lib.Clone(payload), Proof: proof, SignerKey: signer.PublicKey().Bytes()}
	if lib.NameFromPublicKey(m.SignerKey) != src.Name {
		return nil, ErrInvalidMessage("signer does not own the source name")
	}
	m.Signature = signer.Sign(m.SignBytes())
	return m, nil
}

// WrapShare() creates a section message signed with one elder's key share
func WrapShare(variant Variant, payload []byte, src Source, dst Destination, proof chain.Proof,
	keySet *crypto.PublicKeySet, share *crypto.SecretKeyShare) (*RoutingMessage, lib.ErrorI) {
	m, err := newSectionMessage(variant, payload, src, dst, proof)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(keySet.PublicKey().Bytes(), m.SignerKey) {
		return nil, ErrInvalidMessage("key set does not match the proof terminal")
	}
	m.Share, m.KeySet = uint32(share.Index+1), keySet.Bytes()
	m.Signature = share.Sign(m.SignBytes())
	return m, nil
}

// WrapSection() creates a section message carrying a combined section signature
func WrapSection(variant Variant, payload []byte, src Source, dst Destination, proof chain.Proof, signature []byte) (*RoutingMessage, lib.ErrorI) {
	m, err := newSectionMessage(variant, payload, src, dst, proof)
	if err != nil {
		return nil, err
	}
	m.Signature = lib.Clone(signature)
	return m, nil
}

func newSectionMessage(variant Variant, payload []byte, src Source, dst Destination, proof chain.Proof) (*RoutingMessage, lib.ErrorI) {
	if !src.Section {
		return nil, ErrInvalidMessage("node sources are signed with Wrap")
	}
	if proof.Len() == 0 {
		return nil, chain.ErrEmptyProof()
	}
	// every elder must sign identical content
	src.Name = lib.XorName{}
	return &RoutingMessage{Src: src, Dst: dst, Variant: variant, Payload: lib.Clone(payload), Proof: proof, SignerKey: lib.Clone(proof.Terminal())}, nil
}

// Combined() returns the envelope of the same content carrying a combined section signature
func (m *RoutingMessage) Combined(signature []byte) *RoutingMessage {
	c := m.Copy()
	c.Share, c.KeySet, c.Signature = 0, nil, lib.Clone(signature)
	return c
}

// Refresh() returns a new envelope with a different proof for the same section key; node messages cannot be refreshed
func Refresh(m *RoutingMessage, proof chain.Proof) (*RoutingMessage, lib.ErrorI) {
	if !m.Src.Section {
		return nil, ErrInvalidMessage("only section messages can be refreshed")
	}
	if !bytes.Equal(proof.Terminal(), m.SignerKey) {
		return nil, ErrInvalidMessage("refreshed proof must end at the signing key")
	}
	r := m.Copy()
	r.Proof = proof
	return r, nil
}

// ShareIndex() returns the key share index of a share signed message
func (m *RoutingMessage) ShareIndex() (int, bool) {
	if m.Share == 0 {
		return 0, false
	}
	return int(m.Share - 1), true
}

// SignBytes() returns the bytes covered by the signature. Section signatures do not cover the proof so relays can
// refresh it; node signatures cover it
func (m *RoutingMessage) SignBytes() []byte {
	enc := m.contentEncoder()
	if !m.Src.Section {
		enc.Bytes(5, m.Proof.Bytes())
	}
	return enc.Bytes(6, m.SignerKey).Encoded()
}

// ID() identifies the content of a message: source, destination, variant, payload and share index.
// Refreshed proofs or re-signed copies of the same content share the ID
func (m *RoutingMessage) ID() string {
	return crypto.HashString(m.contentEncoder().Uint64(7, uint64(m.Share)).Encoded())
}

func (m *RoutingMessage) contentEncoder() *lib.Encoder {
	return lib.NewEncoder().
		Message(1, m.Src.encoder()).
		Message(2, m.Dst.encoder()).
		Uint64(3, uint64(m.Variant)).
		Bytes(4, m.Payload)
}

// VerifySignature() checks the envelope signature against its signer key, without deciding whether the key is trusted
func (m *RoutingMessage) VerifySignature() lib.ErrorI {
	if len(m.Signature) == 0 {
		return ErrInvalidMessageSignature("missing signature")
	}
	if !m.Src.Section {
		if lib.NameFromPublicKey(m.SignerKey) != m.Src.Name {
			return ErrInvalidMessageSignature("signer does not own the source name")
		}
		if !crypto.VerifyED25519(m.SignerKey, m.SignBytes(), m.Signature) {
			return ErrInvalidMessageSignature("node signature")
		}
		return nil
	}
	if !bytes.Equal(m.Proof.Terminal(), m.SignerKey) {
		return ErrInvalidMessageSignature("signer is not the proof terminal")
	}
	if i, ok := m.ShareIndex(); ok {
		ks, err := crypto.NewPublicKeySetFromBytes(m.KeySet)
		if err != nil {
			return ErrInvalidMessageSignature(err.Error())
		}
		if !bytes.Equal(ks.PublicKey().Bytes(), m.SignerKey) {
			return ErrInvalidMessageSignature("key set does not match the signer")
		}
		if !ks.VerifyShare(i, m.SignBytes(), m.Signature) {
			return ErrInvalidMessageSignature("signature share")
		}
		return nil
	}
	if !crypto.VerifyBLS(m.SignerKey, m.SignBytes(), m.Signature) {
		return ErrInvalidMessageSignature("section signature")
	}
	return nil
}

// VerifyProof() checks the proof extends from a trusted key. Node messages without a proof pass
func (m *RoutingMessage) VerifyProof(trusted func(key []byte) bool) lib.ErrorI {
	if !m.Src.Section && m.Proof.Len() == 0 {
		return nil
	}
	return chain.VerifyProofWith(m.Proof, trusted)
}

// UnwrapAndVerify() returns the payload if the signature is valid and the proof extends from the anchor key
func UnwrapAndVerify(m *RoutingMessage, anchor []byte) ([]byte, lib.ErrorI) {
	return UnwrapAndVerifyWith(m, func(key []byte) bool { return bytes.Equal(key, anchor) })
}

// UnwrapAndVerifyWith() is UnwrapAndVerify() against any key the callback trusts
func UnwrapAndVerifyWith(m *RoutingMessage, trusted func(key []byte) bool) ([]byte, lib.ErrorI) {
	if err := m.VerifySignature(); err != nil {
		return nil, err
	}
	if err := m.VerifyProof(trusted); err != nil {
		return nil, err
	}
	return lib.Clone(m.Payload), nil
}

// Copy() returns a deep copy of the envelope
func (m *RoutingMessage) Copy() *RoutingMessage {
	c := *m
	c.Payload, c.SignerKey, c.KeySet, c.Signature = lib.Clone(m.Payload), lib.Clone(m.SignerKey), lib.Clone(m.KeySet), lib.Clone(m.Signature)
	c.Proof = chain.Proof{Entries: append([]chain.ProofEntry(nil), m.Proof.Entries...)}
	return &c
}

// Bytes() encodes the envelope in its fixed field order
func (m *RoutingMessage) Bytes() []byte {
	return m.contentEncoder().
		Bytes(5, m.Proof.Bytes()).
		Bytes(6, m.SignerKey).
		Uint64(7, uint64(m.Share)).
		Bytes(8, m.KeySet).
		Bytes(9, m.Signature).
		Encoded()
}

// FromBytes() decodes an envelope; any encoding that does not re-encode to the same bytes is refused
func FromBytes(bz []byte) (*RoutingMessage, lib.ErrorI) {
	m := new(RoutingMessage)
	err := lib.DecodeFields(bz, func(f lib.Field) (err lib.ErrorI) {
		switch f.Num {
		case 1:
			m.Src, err = sourceFromBytes(f.Bytes)
		case 2:
			m.Dst, err = destinationFromBytes(f.Bytes)
		case 3:
			m.Variant = Variant(f.Value)
		case 4:
			m.Payload = lib.Clone(f.Bytes)
		case 5:
			m.Proof, err = chain.ProofFromBytes(f.Bytes)
		case 6:
			m.SignerKey = lib.Clone(f.Bytes)
		case 7:
			m.Share = uint32(f.Value)
		case 8:
			m.KeySet = optional(f.Bytes)
		case 9:
			m.Signature = lib.Clone(f.Bytes)
		default:
			err = ErrInvalidMessage(fmt.Sprintf("unknown field %d", f.Num))
		}
		return
	})
	if err != nil {
		return nil, err
	}
	if !m.Variant.Valid() {
		return nil, ErrUnknownVariant(m.Variant)
	}
	if !bytes.Equal(m.Bytes(), bz) {
		return nil, ErrInvalidMessage("non canonical encoding")
	}
	return m, nil
}

// String() describes the message for logging
func (m *RoutingMessage) String() string {
	return fmt.Sprintf("%s{%s -> %s, id: %s}", m.Variant, m.Src.Name, m.Dst, m.ID()[:12])
}

func (s Source) encoder() *lib.Encoder {
	return lib.NewEncoder().Bytes(1, s.Name[:]).Bytes(2, s.Prefix.Bytes()).Bool(3, s.Section)
}

func sourceFromBytes(bz []byte) (s Source, err lib.ErrorI) {
	err = lib.DecodeFields(bz, func(f lib.Field) (e lib.ErrorI) {
		switch f.Num {
		case 1:
			s.Name, e = lib.NewXorName(f.Bytes)
		case 2:
			s.Prefix, e = lib.PrefixFromBytes(f.Bytes)
		case 3:
			s.Section = f.Bool()
		}
		return
	})
	return
}

func (d Destination) encoder() *lib.Encoder {
	return lib.NewEncoder().Uint64(1, uint64(d.Kind)).Bytes(2, d.Name[:]).Bytes(3, d.Prefix.Bytes())
}

func destinationFromBytes(bz []byte) (d Destination, err lib.ErrorI) {
	err = lib.DecodeFields(bz, func(f lib.Field) (e lib.ErrorI) {
		switch f.Num {
		case 1:
			d.Kind = DstKind(f.Value)
		case 2:
			d.Name, e = lib.NewXorName(f.Bytes)
		case 3:
			d.Prefix, e = lib.PrefixFromBytes(f.Bytes)
		}
		return
	})
	if err == nil && (d.Kind < DstNode || d.Kind > DstDirect) {
		err = ErrInvalidDestination(d.Kind.String())
	}
	return
}

func optional(b []byte) lib.HexBytes {
	if len(b) == 0 {
		return nil
	}
	return lib.Clone(b)
}
