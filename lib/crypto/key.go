package crypto

import (
	"errors"

	"github.com/drand/kyber"
	"github.com/drand/kyber/sign"
	"github.com/drand/kyber/util/random"
)

// NewED25519PrivateKeyFromBytes() creates a new PrivateKeyI interface from ED25519 bytes
func NewED25519PrivateKeyFromBytes(bz []byte) (PrivateKeyI, error) {
	if len(bz) != Ed25519PrivKeySize {
		return nil, errors.New("wrong private key size")
	}
	return newPrivateKeyED25519(bz), nil
}

// NewED25519PublicKeyFromBytes() creates a new PublicKeyI interface from ED25519 bytes
func NewED25519PublicKeyFromBytes(bz []byte) (PublicKeyI, error) {
	if len(bz) != Ed25519PubKeySize {
		return nil, errors.New("wrong public key size")
	}
	return NewPublicKeyED25519(bz), nil
}

// NewBLSPrivateKey() generates a new random BLS12-381 private key
func NewBLSPrivateKey() (PrivateKeyI, error) {
	privateKey, _ := newBLSScheme().NewKeyPair(random.New())
	return NewBLS12381PrivateKey(privateKey), nil
}

// NewBLSPrivateKeyFromBytes() decodes a BLS12-381 private key
func NewBLSPrivateKeyFromBytes(bz []byte) (PrivateKeyI, error) {
	keyCopy := newBLSSuite().G2().Scalar()
	if err := keyCopy.UnmarshalBinary(bz); err != nil {
		return nil, err
	}
	return &BLS12381PrivateKey{
		Scalar: keyCopy,
		scheme: newBLSScheme(),
	}, nil
}

// NewBLSPublicKeyFromBytes() decodes a BLS12-381 public key
func NewBLSPublicKeyFromBytes(bz []byte) (PublicKeyI, error) {
	point, err := NewBLSPointFromBytes(bz)
	if err != nil {
		return nil, err
	}
	return &BLS12381PublicKey{
		Point:  point,
		scheme: newBLSScheme(),
	}, nil
}

// NewBLSPointFromBytes() decodes a G1 point
func NewBLSPointFromBytes(bz []byte) (kyber.Point, error) {
	point := newBLSSuite().G1().Point()
	if err := point.UnmarshalBinary(bz); err != nil {
		return nil, err
	}
	return point, nil
}

// NewMultiBLSFromPoints() creates a multi public key over an ordered list of points
func NewMultiBLSFromPoints(publicKeys []kyber.Point, bitmap []byte) (MultiPublicKeyI, error) {
	mask, err := sign.NewMask(newBLSSuite(), publicKeys, nil)
	if err != nil {
		return nil, err
	}
	if bitmap != nil {
		if err = mask.SetMask(bitmap); err != nil {
			return nil, err
		}
	}
	return NewBLSMultiPublicKey(mask), nil
}

// NewMultiBLS() creates a multi public key over an ordered list of encoded public keys
func NewMultiBLS(publicKeys [][]byte, bitmap []byte) (MultiPublicKeyI, error) {
	var points []kyber.Point
	for _, bz := range publicKeys {
		point, err := NewBLSPointFromBytes(bz)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return NewMultiBLSFromPoints(points, bitmap)
}

// VerifyBLS() verifies a signature against an encoded BLS public key
func VerifyBLS(publicKey, msg, sig []byte) bool {
	pub, err := NewBLSPublicKeyFromBytes(publicKey)
	if err != nil {
		return false
	}
	return pub.VerifyBytes(msg, sig)
}

// VerifyED25519() verifies a signature against an encoded ED25519 public key
func VerifyED25519(publicKey, msg, sig []byte) bool {
	pub, err := NewED25519PublicKeyFromBytes(publicKey)
	if err != nil {
		return false
	}
	return pub.VerifyBytes(msg, sig)
}
