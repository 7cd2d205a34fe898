package lib

import (
	"github.com/canopy-network/routing/lib/crypto"
)

// Identity is a node's signing material: an ed25519 key whose hash is the node's name, and a BLS key it votes with as an elder
type Identity struct {
	PrivateKey crypto.PrivateKeyI `json:"-"`
	BLSKey     crypto.PrivateKeyI `json:"-"`
	Name       XorName            `json:"name"`
}

// identityJSON is the on-disk form of an Identity
type identityJSON struct {
	PrivateKey HexBytes `json:"privateKey"`
	BLSKey     HexBytes `json:"blsKey"`
}

// NameFromPublicKey() derives the node name (NodeId) from its public signing key
func NameFromPublicKey(publicKey []byte) XorName {
	var n XorName
	copy(n[:], crypto.Hash(publicKey))
	return n
}

// NewIdentity() generates a fresh random identity
func NewIdentity() (*Identity, ErrorI) {
	return NewIdentityWithin(Prefix{})
}

// NewIdentityWithin() generates identities until the derived name lies within the prefix
func NewIdentityWithin(prefix Prefix) (*Identity, ErrorI) {
	blsKey, err := crypto.NewBLSPrivateKey()
	if err != nil {
		return nil, ErrPubKeyFromBytes(err)
	}
	for {
		pk, e := crypto.NewEd25519PrivateKey()
		if e != nil {
			return nil, ErrPubKeyFromBytes(e)
		}
		name := NameFromPublicKey(pk.PublicKey().Bytes())
		if prefix.Matches(name) {
			return &Identity{PrivateKey: pk, BLSKey: blsKey, Name: name}, nil
		}
	}
}

// PublicKey() returns the node's public signing key
func (i *Identity) PublicKey() []byte { return i.PrivateKey.PublicKey().Bytes() }

// BLSPublicKey() returns the node's public vote key
func (i *Identity) BLSPublicKey() []byte { return i.BLSKey.PublicKey().Bytes() }

// Sign() signs with the node's identity key
func (i *Identity) Sign(msg []byte) []byte { return i.PrivateKey.Sign(msg) }

// MarshalJSON() saves both private keys as hex
func (i *Identity) MarshalJSON() ([]byte, error) {
	return MarshalJSON(identityJSON{PrivateKey: i.PrivateKey.Bytes(), BLSKey: i.BLSKey.Bytes()})
}

// UnmarshalJSON() restores both private keys and re-derives the name
func (i *Identity) UnmarshalJSON(b []byte) error {
	j := new(identityJSON)
	if err := UnmarshalJSON(b, j); err != nil {
		return err
	}
	pk, err := crypto.NewED25519PrivateKeyFromBytes(j.PrivateKey)
	if err != nil {
		return err
	}
	blsKey, err := crypto.NewBLSPrivateKeyFromBytes(j.BLSKey)
	if err != nil {
		return err
	}
	*i = Identity{PrivateKey: pk, BLSKey: blsKey, Name: NameFromPublicKey(pk.PublicKey().Bytes())}
	return nil
}
