package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/drand/kyber"
	"github.com/drand/kyber/share"
	"github.com/drand/kyber/util/random"
)

/*
	This file implements the section's threshold signing key.
	The section public key is a single BLS12-381 key; every elder holds one secret share of it. Any Threshold() distinct
	shares of a signature combine (Lagrange interpolation on the signature points) into a plain BLS signature that verifies
	under the section public key, so a receiver never needs to know who the elders were.
*/

// QuorumThreshold() returns the number of signers strictly greater than 2/3 of n
func QuorumThreshold(n int) int {
	if n <= 0 {
		return 0
	}
	return 2*n/3 + 1
}

// PublicKeySet is the public half of a dealt section key: the polynomial commitments
type PublicKeySet struct {
	poly      *share.PubPoly
	threshold int
	size      int
}

// SecretKeyShare is the secret share held by the elder at Index
type SecretKeyShare struct {
	Index  int
	scalar kyber.Scalar
}

// DealKeySet() creates a fresh section key split into n shares, any threshold of which can sign.
// It stands in for a distributed key generation ran by the elders
func DealKeySet(threshold, n int) (*PublicKeySet, []*SecretKeyShare, error) {
	if threshold <= 0 || threshold > n {
		return nil, nil, fmt.Errorf("invalid threshold %d of %d", threshold, n)
	}
	suite := newBLSSuite()
	priPoly := share.NewPriPoly(suite.G1(), threshold, nil, random.New())
	pubPoly := priPoly.Commit(suite.G1().Point().Base())
	shares := make([]*SecretKeyShare, n)
	for i, s := range priPoly.Shares(n) {
		shares[i] = &SecretKeyShare{Index: i, scalar: s.V}
	}
	return &PublicKeySet{poly: pubPoly, threshold: threshold, size: n}, shares, nil
}

// PublicKey() returns the section public key
func (p *PublicKeySet) PublicKey() PublicKeyI { return NewBLS12381PublicKey(p.poly.Commit()) }

// Threshold() returns how many shares are needed to sign
func (p *PublicKeySet) Threshold() int { return p.threshold }

// Size() returns how many shares were dealt
func (p *PublicKeySet) Size() int { return p.size }

// PublicShare() returns the public key of the share at index i
func (p *PublicKeySet) PublicShare(i int) (PublicKeyI, error) {
	if i < 0 || i >= p.size {
		return nil, errors.New("invalid share index")
	}
	return NewBLS12381PublicKey(p.poly.Shares(p.size)[i].V), nil
}

// VerifyShare() checks a signature share against the public share of index i
func (p *PublicKeySet) VerifyShare(i int, msg, sig []byte) bool {
	pub, err := p.PublicShare(i)
	if err != nil {
		return false
	}
	return pub.VerifyBytes(msg, sig)
}

// Combine() interpolates at least Threshold() signature shares (keyed by share index) into the section signature
func (p *PublicKeySet) Combine(shares map[int][]byte) ([]byte, error) {
	if len(shares) < p.threshold {
		return nil, fmt.Errorf("have %d signature shares, need %d", len(shares), p.threshold)
	}
	suite := newBLSSuite()
	templates := p.poly.Shares(p.size)
	pubShares := make([]*share.PubShare, 0, len(shares))
	for i, sig := range shares {
		if i < 0 || i >= p.size {
			return nil, errors.New("invalid share index")
		}
		point := suite.G2().Point()
		if err := point.UnmarshalBinary(sig); err != nil {
			return nil, err
		}
		pubShares = append(pubShares, &share.PubShare{I: templates[i].I, V: point})
	}
	combined, err := share.RecoverCommit(suite.G2(), pubShares, p.threshold, p.size)
	if err != nil {
		return nil, err
	}
	return combined.MarshalBinary()
}

// Bytes() encodes the key set as threshold, size and the ordered commitments
func (p *PublicKeySet) Bytes() []byte {
	_, commits := p.poly.Info()
	out := make([]byte, 4, 4+len(commits)*BLS12381PubKeySize)
	binary.BigEndian.PutUint16(out[0:2], uint16(p.threshold))
	binary.BigEndian.PutUint16(out[2:4], uint16(p.size))
	for _, c := range commits {
		bz, _ := c.MarshalBinary()
		out = append(out, bz...)
	}
	return out
}

// NewPublicKeySetFromBytes() decodes a key set created by Bytes()
func NewPublicKeySetFromBytes(bz []byte) (*PublicKeySet, error) {
	if len(bz) < 4 || (len(bz)-4)%BLS12381PubKeySize != 0 {
		return nil, errors.New("invalid public key set length")
	}
	threshold, size := int(binary.BigEndian.Uint16(bz[0:2])), int(binary.BigEndian.Uint16(bz[2:4]))
	if threshold <= 0 || threshold > size || (len(bz)-4)/BLS12381PubKeySize != threshold {
		return nil, errors.New("invalid public key set threshold")
	}
	suite := newBLSSuite()
	var commits []kyber.Point
	for i := 4; i < len(bz); i += BLS12381PubKeySize {
		point, err := NewBLSPointFromBytes(bz[i : i+BLS12381PubKeySize])
		if err != nil {
			return nil, err
		}
		commits = append(commits, point)
	}
	poly := share.NewPubPoly(suite.G1(), suite.G1().Point().Base(), commits)
	return &PublicKeySet{poly: poly, threshold: threshold, size: size}, nil
}

// MarshalJSON() encodes the key set as hex
func (p *PublicKeySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(p.Bytes()))
}

// UnmarshalJSON() decodes a hex key set
func (p *PublicKeySet) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	bz, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	set, err := NewPublicKeySetFromBytes(bz)
	if err != nil {
		return err
	}
	*p = *set
	return nil
}

// Sign() produces this elder's signature share of msg
func (s *SecretKeyShare) Sign(msg []byte) []byte {
	bz, _ := newBLSScheme().Sign(s.scalar, msg)
	return bz
}

// Bytes() encodes the share as its index followed by the secret scalar
func (s *SecretKeyShare) Bytes() []byte {
	scalar, _ := s.scalar.MarshalBinary()
	out := make([]byte, 2, 2+len(scalar))
	binary.BigEndian.PutUint16(out, uint16(s.Index))
	return append(out, scalar...)
}

// NewSecretKeyShareFromBytes() decodes a share created by Bytes()
func NewSecretKeyShareFromBytes(bz []byte) (*SecretKeyShare, error) {
	if len(bz) != 2+BLS12381PrivKeySize {
		return nil, errors.New("invalid secret key share length")
	}
	scalar := newBLSSuite().G1().Scalar()
	if err := scalar.UnmarshalBinary(bz[2:]); err != nil {
		return nil, err
	}
	return &SecretKeyShare{Index: int(binary.BigEndian.Uint16(bz[:2])), scalar: scalar}, nil
}

// MarshalJSON() encodes the share as hex
func (s *SecretKeyShare) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(s.Bytes()))
}

// UnmarshalJSON() decodes a hex share
func (s *SecretKeyShare) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	bz, err := hex.DecodeString(str)
	if err != nil {
		return err
	}
	sh, err := NewSecretKeyShareFromBytes(bz)
	if err != nil {
		return err
	}
	*s = *sh
	return nil
}
