package section

import (
	"testing"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"github.com/stretchr/testify/require"
)

func TestNetworkViewUpdate(t *testing.T) {
	// parent '1' at key p splits; '10' rotates to k10 and '11' to k11; the merge links k10 to k11, then rotates to m
	p, k10, k11, m := newViewKey(t), newViewKey(t), newViewKey(t), newViewKey(t)
	zero := chain.New(pub(p))
	require.NoError(t, zero.Append(pub(k10), p.Sign(chain.LinkSignBytes(pub(k10)))))
	one := chain.New(pub(p))
	require.NoError(t, one.Append(pub(k11), p.Sign(chain.LinkSignBytes(pub(k11)))))
	merged, err := chain.Merge(zero.Clone(), zero.LastProof(), pub(k11), k10.Sign(chain.LinkSignBytes(pub(k11))))
	require.NoError(t, err)
	require.NoError(t, merged.Append(pub(m), k11.Sign(chain.LinkSignBytes(pub(m)))))
	parent := viewInfo(t, "1", chain.New(pub(p)), pub(p))
	children := []*Info{viewInfo(t, "10", zero, pub(p)), viewInfo(t, "11", one, pub(p))}
	tests := []struct {
		name     string
		detail   string
		update   *Info
		accepted bool
		expected []string
	}{
		{
			name:     "stale parent",
			detail:   "a delayed pre-split info does not prove the children's keys and is refused",
			update:   parent,
			accepted: false,
			expected: []string{"10", "11"},
		},
		{
			name:     "merged parent",
			detail:   "a merged section whose proof passes through both children's keys replaces them",
			update:   viewInfo(t, "1", merged, pub(p)),
			accepted: true,
			expected: []string{"1"},
		},
		{
			name:     "merged parent with a short proof",
			detail:   "a merged info that skips one child's key cannot be ordered against it",
			update:   viewInfo(t, "1", merged, pub(k11)),
			accepted: false,
			expected: []string{"10", "11"},
		},
		{
			name:     "same key",
			detail:   "a refresh of a known section is accepted",
			update:   viewInfo(t, "10", zero, pub(k10)),
			accepted: true,
			expected: []string{"10", "11"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			v := NewNetworkView()
			require.True(t, v.Update(parent))
			for _, c := range children {
				require.True(t, v.Update(c))
			}
			require.Equal(t, test.accepted, v.Update(test.update))
			var got []string
			for _, s := range v.All() {
				got = append(got, s.Prefix.String())
			}
			require.Equal(t, test.expected, got)
		})
	}
}

func viewInfo(t *testing.T, prefix string, c *chain.Chain, from []byte) *Info {
	proof, err := c.ProofFrom(from)
	require.NoError(t, err)
	return &Info{Prefix: lib.MustParsePrefix(prefix), Key: lib.Clone(c.LastKey()), Proof: proof}
}

func newViewKey(t *testing.T) crypto.PrivateKeyI {
	k, err := crypto.NewBLSPrivateKey()
	require.NoError(t, err)
	return k
}

func pub(k crypto.PrivateKeyI) []byte { return k.PublicKey().Bytes() }
