package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestED25519Bytes(t *testing.T) {
	for i := 0; i < 100; i++ {
		// private key testing
		privateKey, err := NewEd25519PrivateKey()
		require.NoError(t, err)
		privateKey2, err := NewED25519PrivateKeyFromBytes(privateKey.Bytes())
		require.NoError(t, err)
		require.True(t, privateKey.Equals(privateKey2))
		// public key testing
		pubKey := privateKey.PublicKey()
		pubKey2, err := NewED25519PublicKeyFromBytes(pubKey.Bytes())
		require.NoError(t, err)
		require.True(t, pubKey.Equals(pubKey2))
	}
	// wrong sizes are refused
	_, err := NewED25519PublicKeyFromBytes([]byte{1})
	require.Error(t, err)
	_, err = NewED25519PrivateKeyFromBytes([]byte{1})
	require.Error(t, err)
}

func TestED25519SignAndVerify(t *testing.T) {
	for i := 0; i < 100; i++ {
		pk, err := NewEd25519PrivateKey()
		require.NoError(t, err)
		pubKey := pk.PublicKey()
		msg := make([]byte, 100)
		_, err = rand.Read(msg)
		require.NoError(t, err)
		signature := pk.Sign(msg)
		require.True(t, pubKey.VerifyBytes(msg, signature))
		require.True(t, VerifyED25519(pubKey.Bytes(), msg, signature))
		msg = make([]byte, 100)
		_, err = rand.Read(msg)
		require.NoError(t, err)
		require.False(t, pubKey.VerifyBytes(msg, signature))
	}
}
