package chain

import (
	"bytes"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
)

// ProofEntry is a key of a proof plus the signature of that key by the previous entry's key
type ProofEntry struct {
	Key       lib.HexBytes `json:"key"`
	Signature lib.HexBytes `json:"signature,omitempty"` // empty for the first entry
}

// Proof is a contiguous slice of a section chain; its terminal key is the one being proven
type Proof struct {
	Entries []ProofEntry `json:"entries"`
}

// Terminal() returns the key the proof vouches for
func (p Proof) Terminal() []byte {
	if len(p.Entries) == 0 {
		return nil
	}
	return p.Entries[len(p.Entries)-1].Key
}

// First() returns the key the proof starts from
func (p Proof) First() []byte {
	if len(p.Entries) == 0 {
		return nil
	}
	return p.Entries[0].Key
}

// Contains() returns true if the key appears in the proof
func (p Proof) Contains(key []byte) bool {
	for _, e := range p.Entries {
		if bytes.Equal(e.Key, key) {
			return true
		}
	}
	return false
}

// Len() returns the number of keys in the proof
func (p Proof) Len() int { return len(p.Entries) }

// VerifyProof() validates that every link of the proof holds and that the trusted anchor key appears in it.
// The anchor may be anywhere in the proof
func VerifyProof(p Proof, anchor []byte) lib.ErrorI {
	return VerifyProofWith(p, func(key []byte) bool { return bytes.Equal(key, anchor) })
}

// VerifyProofWith() validates every link of the proof, then requires some entry to be accepted by the trusted predicate
func VerifyProofWith(p Proof, trusted func(key []byte) bool) lib.ErrorI {
	if len(p.Entries) == 0 {
		return ErrEmptyProof()
	}
	if err := p.verifyLinks(); err != nil {
		return err
	}
	for i := len(p.Entries) - 1; i >= 0; i-- {
		if trusted(p.Entries[i].Key) {
			return nil
		}
	}
	return ErrUntrustedProof()
}

// verifyLinks() checks every link of the proof; the first entry carries no signature
func (p Proof) verifyLinks() lib.ErrorI {
	if len(p.Entries[0].Signature) != 0 {
		return ErrInvalidProof("signature on the first proof entry")
	}
	for j := 1; j < len(p.Entries); j++ {
		prev, next := p.Entries[j-1], p.Entries[j]
		if !crypto.VerifyBLS(prev.Key, LinkSignBytes(next.Key), next.Signature) {
			return ErrInvalidProof("broken link in proof")
		}
	}
	return nil
}

// Bytes() encodes the proof deterministically
func (p Proof) Bytes() []byte {
	e := lib.NewEncoder()
	for _, entry := range p.Entries {
		e.Message(1, lib.NewEncoder().Bytes(1, entry.Key).Bytes(2, entry.Signature))
	}
	return e.Encoded()
}

// ProofFromBytes() decodes a proof encoded by Bytes()
func ProofFromBytes(bz []byte) (Proof, lib.ErrorI) {
	p := Proof{}
	err := lib.DecodeFields(bz, func(f lib.Field) lib.ErrorI {
		if f.Num != 1 {
			return ErrInvalidLinkData()
		}
		entry := ProofEntry{}
		if e := lib.DecodeFields(f.Bytes, func(ef lib.Field) lib.ErrorI {
			switch ef.Num {
			case 1:
				entry.Key = lib.Clone(ef.Bytes)
			case 2:
				entry.Signature = lib.Clone(ef.Bytes)
			default:
				return ErrInvalidLinkData()
			}
			return nil
		}); e != nil {
			return e
		}
		p.Entries = append(p.Entries, entry)
		return nil
	})
	return p, err
}
