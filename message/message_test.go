package message

import (
	"testing"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"github.com/canopy-network/routing/section"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrap(t *testing.T) {
	id := newTestIdentity(t)
	keys, c := newTestChain(t, 3)
	sectionSrc := Source{Prefix: lib.MustParsePrefix("01"), Section: true}
	tests := []struct {
		name   string
		detail string
		build  func() *RoutingMessage
		anchor []byte
	}{
		{
			name:   "node message",
			detail: "an ed25519 signed message without a proof",
			build: func() *RoutingMessage {
				m, err := Wrap(VariantUser, []byte("payload"), Source{Name: id.Name}, ToSection(lib.RandomXorName()), chain.Proof{}, id.PrivateKey)
				require.NoError(t, err)
				return m
			},
		},
		{
			name:   "node message with proof",
			detail: "the proof establishes the sender's section key",
			build: func() *RoutingMessage {
				p, err := c.ProofFrom(pub(keys[0]))
				require.NoError(t, err)
				m, err := Wrap(VariantUser, []byte("payload"), Source{Name: id.Name}, ToNode(lib.RandomXorName()), p, id.PrivateKey)
				require.NoError(t, err)
				return m
			},
			anchor: pub(keys[0]),
		},
		{
			name:   "section message",
			detail: "a combined section signature under the proof terminal",
			build: func() *RoutingMessage {
				p, err := c.ProofFrom(pub(keys[1]))
				require.NoError(t, err)
				return signSection(t, VariantUser, []byte("payload"), sectionSrc, ToPrefix(lib.MustParsePrefix("1")), p, keys[2])
			},
			anchor: pub(keys[1]),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := test.build()
			got, err := UnwrapAndVerify(m, test.anchor)
			require.NoError(t, err)
			require.Equal(t, []byte("payload"), got)
			// a decoded copy verifies identically
			decoded, err := FromBytes(m.Bytes())
			require.NoError(t, err)
			require.Equal(t, m.Bytes(), decoded.Bytes())
			require.Equal(t, m.ID(), decoded.ID())
			_, err = UnwrapAndVerify(decoded, test.anchor)
			require.NoError(t, err)
		})
	}
}

func TestTamperDetection(t *testing.T) {
	keys, c := newTestChain(t, 3)
	p, err := c.ProofFrom(pub(keys[0]))
	require.NoError(t, err)
	m := signSection(t, VariantUser, []byte("payload"), Source{Section: true}, ToSection(lib.RandomXorName()), p, keys[2])
	_, err = UnwrapAndVerify(m, pub(keys[0]))
	require.NoError(t, err)
	tamper := []struct {
		name   string
		detail string
		mutate func(m *RoutingMessage)
	}{
		{
			name:   "payload",
			detail: "a flipped payload byte invalidates the signature",
			mutate: func(m *RoutingMessage) { m.Payload[3] ^= 0x01 },
		},
		{
			name:   "destination",
			detail: "a flipped destination bit invalidates the signature",
			mutate: func(m *RoutingMessage) { m.Dst.Name[0] ^= 0x80 },
		},
		{
			name:   "proof link",
			detail: "a flipped link signature breaks the proof",
			mutate: func(m *RoutingMessage) { m.Proof.Entries[1].Signature[5] ^= 0x01 },
		},
		{
			name:   "proof anchor",
			detail: "a changed anchor key is no longer trusted",
			mutate: func(m *RoutingMessage) { m.Proof.Entries[0].Key = pub(keys[1]) },
		},
		{
			name:   "proof terminal",
			detail: "a changed terminal key is not the signer",
			mutate: func(m *RoutingMessage) { m.Proof.Entries[2].Key = pub(keys[0]) },
		},
		{
			name:   "variant",
			detail: "the variant is signed",
			mutate: func(m *RoutingMessage) { m.Variant = VariantNeighbourInfo },
		},
	}
	for _, test := range tamper {
		t.Run(test.name, func(t *testing.T) {
			cp, err := FromBytes(m.Bytes())
			require.NoError(t, err)
			test.mutate(cp)
			_, err = UnwrapAndVerify(cp, pub(keys[0]))
			require.Error(t, err)
			require.True(t, IsProofError(err))
		})
	}
	// every single payload byte is covered
	for i := range m.Payload {
		cp := m.Copy()
		cp.Payload[i] ^= 0xFF
		_, err = UnwrapAndVerify(cp, pub(keys[0]))
		require.Error(t, err)
	}
	// the original is untouched by the copies
	_, err = UnwrapAndVerify(m, pub(keys[0]))
	require.NoError(t, err)
}

func TestTamperBeforeAnchor(t *testing.T) {
	keys, c := newTestChain(t, 3)
	p, err := c.ProofFrom(pub(keys[0]))
	require.NoError(t, err)
	m := signSection(t, VariantUser, []byte("payload"), Source{Section: true}, ToSection(lib.RandomXorName()), p, keys[2])
	// the receiver trusts the middle key of the proof
	_, err = UnwrapAndVerify(m, pub(keys[1]))
	require.NoError(t, err)
	tests := []struct {
		name   string
		detail string
		mutate func(m *RoutingMessage)
	}{
		{
			name:   "link into the anchor",
			detail: "the signature linking the first key to the anchor is checked",
			mutate: func(m *RoutingMessage) { m.Proof.Entries[1].Signature[5] ^= 0x01 },
		},
		{
			name:   "first key",
			detail: "a changed key before the anchor breaks its link",
			mutate: func(m *RoutingMessage) { m.Proof.Entries[0].Key[7] ^= 0x01 },
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cp, err := FromBytes(m.Bytes())
			require.NoError(t, err)
			test.mutate(cp)
			_, err = UnwrapAndVerify(cp, pub(keys[1]))
			require.Error(t, err)
			require.True(t, IsProofError(err))
		})
	}
	// every byte of every proof entry is covered
	for i := range m.Proof.Entries {
		for _, field := range []int{0, 1} {
			size := len(m.Proof.Entries[i].Key)
			if field == 1 {
				size = len(m.Proof.Entries[i].Signature)
			}
			for b := 0; b < size; b++ {
				cp, err := FromBytes(m.Bytes())
				require.NoError(t, err)
				if field == 0 {
					cp.Proof.Entries[i].Key[b] ^= 0x01
				} else {
					cp.Proof.Entries[i].Signature[b] ^= 0x01
				}
				_, err = UnwrapAndVerify(cp, pub(keys[1]))
				require.Error(t, err, "entry %d field %d byte %d", i, field, b)
			}
		}
	}
}

func TestNodeProofIsSigned(t *testing.T) {
	id := newTestIdentity(t)
	keys, c := newTestChain(t, 3)
	p, err := c.ProofFrom(pub(keys[1]))
	require.NoError(t, err)
	m, err := Wrap(VariantUser, []byte("payload"), Source{Name: id.Name}, ToNode(lib.RandomXorName()), p, id.PrivateKey)
	require.NoError(t, err)
	// swapping in a longer valid proof changes the signed bytes
	longer, err := c.ProofFrom(pub(keys[0]))
	require.NoError(t, err)
	cp := m.Copy()
	cp.Proof = longer
	require.True(t, IsProofError(cp.VerifySignature()))
	_, err = Refresh(m, longer)
	require.Error(t, err)
	// a key that does not own the source name is refused
	other := newTestIdentity(t)
	_, err = Wrap(VariantUser, nil, Source{Name: id.Name}, ToNode(id.Name), chain.Proof{}, other.PrivateKey)
	require.Error(t, err)
}

func TestShares(t *testing.T) {
	ks, shares, err := crypto.DealKeySet(crypto.QuorumThreshold(4), 4)
	require.NoError(t, err)
	c := chain.New(ks.PublicKey().Bytes())
	src, dst := Source{Prefix: lib.MustParsePrefix("1"), Section: true}, ToDirect(lib.RandomXorName())
	sigs := make(map[int][]byte)
	var first *RoutingMessage
	ids := make(map[string]bool)
	for _, s := range shares[:ks.Threshold()] {
		m, e := WrapShare(VariantRelocate, []byte("relocate"), src, dst, c.LastProof(), ks, s)
		require.NoError(t, e)
		require.NoError(t, m.VerifySignature())
		i, ok := m.ShareIndex()
		require.True(t, ok)
		require.Equal(t, s.Index, i)
		sigs[i] = m.Signature
		ids[m.ID()] = true
		if first == nil {
			first = m
		}
	}
	// each share is distinct content for deduplication
	require.Len(t, ids, ks.Threshold())
	// a share claiming another index fails
	bad := first.Copy()
	bad.Share++
	require.Error(t, bad.VerifySignature())
	sig, e := ks.Combine(sigs)
	require.NoError(t, e)
	combined := first.Combined(sig)
	_, ok := combined.ShareIndex()
	require.False(t, ok)
	got, err := UnwrapAndVerify(combined, ks.PublicKey().Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("relocate"), got)
	decoded, err := FromBytes(combined.Bytes())
	require.NoError(t, err)
	require.NoError(t, decoded.VerifySignature())
}

func TestRefresh(t *testing.T) {
	keys, c := newTestChain(t, 4)
	short, err := c.ProofFrom(pub(keys[2]))
	require.NoError(t, err)
	m := signSection(t, VariantUser, []byte("payload"), Source{Section: true}, ToSection(lib.RandomXorName()), short, keys[3])
	_, err = UnwrapAndVerify(m, pub(keys[0]))
	require.True(t, chain.IsProofError(err))
	long, err := c.ProofFrom(pub(keys[0]))
	require.NoError(t, err)
	refreshed, err := Refresh(m, long)
	require.NoError(t, err)
	_, err = UnwrapAndVerify(refreshed, pub(keys[0]))
	require.NoError(t, err)
	require.Equal(t, m.ID(), refreshed.ID())
	// a new envelope; the original keeps its proof
	require.Equal(t, 2, m.Proof.Len())
	// a proof for another key cannot be swapped in
	other, err := c.ProofFrom(pub(keys[0]))
	require.NoError(t, err)
	other.Entries = other.Entries[:2]
	_, err = Refresh(m, other)
	require.Error(t, err)
}

func TestFromBytesCanonical(t *testing.T) {
	id := newTestIdentity(t)
	m, err := Wrap(VariantUser, []byte("payload"), Source{Name: id.Name}, ToNode(id.Name), chain.Proof{}, id.PrivateKey)
	require.NoError(t, err)
	bz := m.Bytes()
	tests := []struct {
		name   string
		detail string
		bz     []byte
	}{
		{
			name:   "trailing field",
			detail: "a repeated field does not re-encode to the same bytes",
			bz:     lib.NewEncoder().Bytes(9, []byte("x")).Encoded(),
		},
		{
			name:   "unknown field",
			detail: "fields outside the envelope are refused",
			bz:     lib.NewEncoder().Bytes(12, []byte("x")).Encoded(),
		},
		{
			name:   "truncated",
			detail: "a cut encoding does not parse",
			bz:     nil,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			input := append(append([]byte(nil), bz...), test.bz...)
			if test.bz == nil {
				input = bz[:len(bz)-3]
			}
			_, err := FromBytes(input)
			require.Error(t, err)
		})
	}
	unknown := m.Copy()
	unknown.Variant = 99
	_, err = FromBytes(unknown.Bytes())
	require.Error(t, err)
}

func TestPayloads(t *testing.T) {
	id := newTestIdentity(t)
	member := &section.Member{Name: id.Name, PublicKey: id.PublicKey(), BLSKey: id.BLSPublicKey(), Endpoint: "mem://a", Age: 3}
	req := &JoinRequest{Member: member, Relocation: []byte("relocation"), Attempt: 2}
	gotReq, err := JoinRequestFromBytes(req.Bytes())
	require.NoError(t, err)
	require.Equal(t, req.Bytes(), gotReq.Bytes())
	require.Equal(t, member.Name, gotReq.Member.Name)
	require.Equal(t, uint64(2), gotReq.Attempt)
	// a retry encodes differently
	retry := &JoinRequest{Member: member, Relocation: req.Relocation, Attempt: 3}
	require.NotEqual(t, req.Bytes(), retry.Bytes())
	_, err = JoinRequestFromBytes(nil)
	require.Error(t, err)

	info := &section.Info{Prefix: lib.MustParsePrefix("10"), Key: []byte("key"), Members: []*section.Member{member}}
	approval := &NodeApproval{Info: info, Sequence: 7, Group: "10/abcd"}
	gotApproval, err := NodeApprovalFromBytes(approval.Bytes())
	require.NoError(t, err)
	require.Equal(t, approval.Bytes(), gotApproval.Bytes())
	require.Equal(t, "10/abcd", gotApproval.Group)

	relocate := &Relocate{PreviousName: id.Name, Destination: lib.RandomXorName(), Age: 4}
	gotRelocate, err := RelocateFromBytes(relocate.Bytes())
	require.NoError(t, err)
	require.Equal(t, relocate, gotRelocate)

	share := &SignatureShare{Purpose: ShareMergeLink, Key: []byte("k"), Target: []byte("t"), Index: 2, Share: []byte("s")}
	gotShare, err := SignatureShareFromBytes(share.Bytes())
	require.NoError(t, err)
	require.Equal(t, share.Bytes(), gotShare.Bytes())
	_, err = SignatureShareFromBytes(lib.NewEncoder().Uint64(1, 9).Encoded())
	require.Error(t, err)

	ks := &KeyShare{CurrentKey: []byte("c"), KeySet: []byte("set"), Elders: []*section.Member{member}}
	gotKs, err := KeyShareFromBytes(ks.Bytes())
	require.NoError(t, err)
	require.Equal(t, ks.Bytes(), gotKs.Bytes())
	require.Nil(t, gotKs.Share)
}

func newTestIdentity(t *testing.T) *lib.Identity {
	id, err := lib.NewIdentity()
	require.NoError(t, err)
	return id
}

func newTestChain(t *testing.T, n int) (keys []crypto.PrivateKeyI, c *chain.Chain) {
	for i := 0; i < n; i++ {
		k, err := crypto.NewBLSPrivateKey()
		require.NoError(t, err)
		keys = append(keys, k)
	}
	c = chain.New(pub(keys[0]))
	for i := 1; i < n; i++ {
		require.NoError(t, c.Append(pub(keys[i]), keys[i-1].Sign(chain.LinkSignBytes(pub(keys[i])))))
	}
	return
}

func signSection(t *testing.T, v Variant, payload []byte, src Source, dst Destination, p chain.Proof, key crypto.PrivateKeyI) *RoutingMessage {
	unsigned, err := WrapSection(v, payload, src, dst, p, nil)
	require.NoError(t, err)
	return unsigned.Combined(key.Sign(unsigned.SignBytes()))
}

func pub(k crypto.PrivateKeyI) []byte { return k.PublicKey().Bytes() }
