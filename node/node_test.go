package node

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/consensus"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"github.com/canopy-network/routing/message"
	"github.com/canopy-network/routing/p2p"
	"github.com/canopy-network/routing/section"
	"github.com/canopy-network/routing/store"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 30 * time.Second
	tick    = 20 * time.Millisecond
)

func TestGenesis(t *testing.T) {
	tn := newTestNetwork(t)
	g := tn.genesisNode(lib.Prefix{}, nil)
	s := status(t, g)
	require.Equal(t, section.StateElder.String(), s.State)
	require.Equal(t, "", s.Prefix)
	require.Equal(t, 1, s.Members)
	require.Equal(t, 1, s.Elders)
	require.Equal(t, 1, s.ChainLen)
	require.True(t, s.KeyShare)
	require.Equal(t, lib.HexBytes(tn.keySet.PublicKey().Bytes()), s.SectionKey)
	require.Equal(t, consensus.GroupID(lib.Prefix{}, tn.keySet.PublicKey().Bytes()), s.Group)
}

func TestGenesisRejectsForeignKeySet(t *testing.T) {
	tn := newTestNetwork(t)
	n := tn.newNode(lib.Prefix{}, nil)
	other, share, err := NewGenesis()
	require.NoError(t, err)
	require.Error(t, n.Genesis(other, share))
}

func TestSendBeforeJoining(t *testing.T) {
	tn := newTestNetwork(t)
	n := tn.newNode(lib.Prefix{}, nil)
	err := n.Send(message.ToNode(lib.RandomXorName()), []byte("early"))
	require.True(t, lib.Is(err, lib.NodeModule, lib.CodeNotJoined))
}

func TestJoinUntilElders(t *testing.T) {
	tn := newTestNetwork(t)
	tn.genesisNode(lib.Prefix{}, nil)
	for i := 0; i < 4; i++ {
		tn.join(lib.Prefix{})
	}
	// the first four nodes are the elders and end up sharing a key dealt for all of them
	require.Eventually(t, func() bool {
		var key lib.HexBytes
		for i, n := range tn.nodes {
			s, err := n.Status()
			if err != nil || s.Members != 5 || s.Elders != 4 {
				return false
			}
			if want := i < 4; (s.State == section.StateElder.String()) != want || s.KeyShare != want {
				return false
			}
			if key == nil {
				key = s.SectionKey
			}
			if !bytes.Equal(key, s.SectionKey) || s.ChainLen < 2 {
				return false
			}
		}
		return true
	}, waitFor, tick)
	// every member applied the same events
	want := status(t, tn.nodes[0])
	for _, n := range tn.nodes[1:] {
		s := status(t, n)
		require.Equal(t, want.Sequence, s.Sequence)
		require.Equal(t, want.ChainLen, s.ChainLen)
		require.Equal(t, want.Group, s.Group)
	}
}

func TestSplitAndRouteAcross(t *testing.T) {
	tn := newTestNetwork(t)
	zero, one := lib.MustParsePrefix("0"), lib.MustParsePrefix("1")
	tn.genesisNode(zero, nil)
	// four names under 0 and five under 1: the ninth member triggers the split
	for _, p := range []lib.Prefix{one, zero, one, zero, one, zero, one, one} {
		tn.join(p)
	}
	require.Eventually(t, func() bool {
		for _, n := range tn.nodes {
			s, err := n.Status()
			if err != nil || s.Prefix != bitString(n.id.Name) {
				return false
			}
		}
		return true
	}, waitFor, tick)
	for _, n := range tn.nodes {
		s := status(t, n)
		if zero.Matches(n.id.Name) {
			require.Equal(t, 4, s.Members)
		} else {
			require.Equal(t, 5, s.Members)
		}
		require.Equal(t, 1, s.Neighbours)
	}
	// each half rotates to a key of its own
	require.Eventually(t, func() bool {
		keys := make(map[string]string)
		for _, n := range tn.nodes {
			s, err := n.Status()
			if err != nil {
				return false
			}
			if k, ok := keys[s.Prefix]; ok && k != s.SectionKey.String() {
				return false
			}
			keys[s.Prefix] = s.SectionKey.String()
		}
		return len(keys) == 2 && keys["0"] != keys["1"]
	}, waitFor, tick)
	// a node under 0 reaches a node under 1 through the elders of 1
	var from, to *Node
	for _, n := range tn.nodes {
		if zero.Matches(n.id.Name) && from == nil {
			from = n
		}
		if one.Matches(n.id.Name) {
			to = n
		}
	}
	drain(to)
	require.NoError(t, from.Send(message.ToNode(to.Name()), []byte("across")))
	waitMessage(t, to, []byte("across"))
}

func TestSectionMessage(t *testing.T) {
	tn := newTestNetwork(t)
	g := tn.genesisNode(lib.Prefix{}, nil)
	j := tn.join(lib.Prefix{})
	drain(g)
	require.NoError(t, j.Send(message.ToSection(g.Name()), []byte("to the section")))
	waitMessage(t, g, []byte("to the section"))
}

func TestHaltOnChainIntegrityFailure(t *testing.T) {
	tn := newTestNetwork(t)
	g := tn.genesisNode(lib.Prefix{}, nil)
	drain(g)
	keySet, _, err := crypto.DealKeySet(1, 1)
	require.NoError(t, err)
	forger, err := crypto.NewBLSPrivateKey()
	require.NoError(t, err)
	// a rotation whose link is not signed by the section key
	bogus := section.NewKeyRotated(keySet, forger.Sign(chain.LinkSignBytes(keySet.PublicKey().Bytes())))
	require.NoError(t, g.call(func() { g.propose(bogus) }))
	waitEvent(t, g, func(e Event) bool { return e.Kind == EventHalted })
	s := status(t, g)
	require.True(t, s.Halted)
	require.Equal(t, 1, s.ChainLen)
	err = g.Send(message.ToNode(lib.RandomXorName()), []byte("late"))
	require.True(t, lib.Is(err, lib.NodeModule, lib.CodeNodeHalted))
}

func TestRestoreFromStore(t *testing.T) {
	tn := newTestNetwork(t)
	config := lib.DefaultStoreConfig()
	config.InMemory = true
	db, err := store.Open(config, lib.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	g := tn.genesisNode(lib.Prefix{}, db)
	before := status(t, g)
	g.Stop()

	restored, err := New(tn.config, g.id, tn.keySet.PublicKey().Bytes(), tn.hub.Transport(before.Endpoint), MemEngines(tn.engines),
		db, nil, lib.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(restored.Stop)
	after := status(t, restored)
	require.Equal(t, before.State, after.State)
	require.Equal(t, before.Sequence, after.Sequence)
	require.Equal(t, before.SectionKey, after.SectionKey)
	require.Equal(t, before.Group, after.Group)
	require.True(t, after.KeyShare)

	// the restored share still signs approvals
	restored.Start()
	tn.nodes[0] = restored
	j := tn.join(lib.Prefix{})
	require.Equal(t, section.StateElder.String(), status(t, j).State)
}

func TestAdmission(t *testing.T) {
	id, err := lib.NewIdentity()
	require.NoError(t, err)
	tests := []struct {
		name    string
		detail  string
		variant message.Variant
		dst     message.Destination
		handled bool
	}{
		{
			name:    "challenge",
			detail:  "a joining node answers the challenges addressed to it",
			variant: message.VariantChallenge,
			dst:     message.ToDirect(id.Name),
			handled: true,
		},
		{
			name:    "approval",
			detail:  "a joining node takes its approval",
			variant: message.VariantNodeApproval,
			dst:     message.ToDirect(id.Name),
			handled: true,
		},
		{
			name:    "key share",
			detail:  "key material waits until the node is a member",
			variant: message.VariantKeyShare,
			dst:     message.ToDirect(id.Name),
		},
		{
			name:    "routed user message",
			detail:  "routed traffic waits until the node is a member",
			variant: message.VariantUser,
			dst:     message.ToNode(id.Name),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, err := message.Wrap(test.variant, []byte{1}, message.Source{Name: id.Name}, test.dst, chain.Proof{}, id.PrivateKey)
			require.NoError(t, err)
			require.Equal(t, test.handled, admission(m))
		})
	}
}

func TestLateKeyShare(t *testing.T) {
	tn := newTestNetwork(t)
	_, foreign, err := NewGenesis()
	require.NoError(t, err)
	tests := []struct {
		name   string
		detail string
		share  *crypto.SecretKeyShare
		holds  bool
		err    bool
	}{
		{
			name:   "share of the current key",
			detail: "a share arriving after the rotation to its key set was applied is adopted",
			share:  tn.share,
			holds:  true,
		},
		{
			name:   "share of another key set",
			detail: "a share that does not verify against the agreed key set is refused",
			share:  foreign,
			err:    true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			// the section already moved to the key set without handing this node its share
			n := tn.newNode(lib.Prefix{}, nil)
			require.NoError(t, n.Genesis(tn.keySet, nil))
			require.False(t, n.holdsShare())
			dealer, err := lib.NewIdentity()
			require.NoError(t, err)
			ks := &message.KeyShare{
				CurrentKey: tn.keySet.PublicKey().Bytes(),
				KeySet:     tn.keySet.Bytes(),
				Share:      test.share.Bytes(),
				Elders:     n.section.Elders(),
			}
			m, e := message.Wrap(message.VariantKeyShare, ks.Bytes(), message.Source{Name: dealer.Name}, message.ToDirect(n.id.Name),
				chain.Proof{}, dealer.PrivateKey)
			require.NoError(t, e)
			require.Equal(t, test.err, n.onKeyShare(inbound{msg: m}) != nil)
			require.Equal(t, test.holds, n.holdsShare())
		})
	}
}

func TestKeyStatePrune(t *testing.T) {
	k := newKeyState()
	old, current := []byte{1}, []byte{2}
	k.links[linkID(old, message.ShareKeyRotation, []byte{9})] = &linkShares{key: lib.BytesToString(old)}
	k.links[linkID(current, message.ShareKeyRotation, []byte{9})] = &linkShares{key: lib.BytesToString(current)}
	k.signed[linkID(old, message.ShareMergeLink, []byte{9})] = true
	k.signed[linkID(current, message.ShareMergeLink, []byte{9})] = true
	k.prune(current)
	require.Len(t, k.links, 1)
	require.Len(t, k.signed, 1)
	_, ok := k.signed[linkID(current, message.ShareMergeLink, []byte{9})]
	require.True(t, ok)
}

// testNetwork is a set of nodes sharing an in-memory transport hub and consensus network
type testNetwork struct {
	t       *testing.T
	config  lib.Config
	hub     *p2p.MemHub
	engines *consensus.MemNetwork
	keySet  *crypto.PublicKeySet
	share   *crypto.SecretKeyShare
	nodes   []*Node
}

func newTestNetwork(t *testing.T) *testNetwork {
	config := lib.DefaultConfig()
	config.TickMS = 5
	config.StallRounds = 40
	config.RetryInitialMS, config.RetryMaxMS = 50, 500
	config.ElderSize, config.SplitThreshold, config.MergeThreshold = 4, 8, 3
	config.SuspicionTimeoutMS = int(time.Minute / time.Millisecond)
	config.RelocationIntervalEvents, config.RelocationImbalance = 0, 0
	config.JoinTimeoutMS = 3000
	config.BaseDifficulty, config.MaxDifficulty = 1, 2
	config.MembersPerDifficultyStep, config.JoinsPerDifficultyStep = 0, 0
	config.DataSize = 256
	config.ChallengeValidityS = 60
	config.InboxSize = 4096
	config.BootstrapPeers = []string{endpoint(0)}
	keySet, share, err := NewGenesis()
	require.NoError(t, err)
	return &testNetwork{
		t:       t,
		config:  config,
		hub:     p2p.NewMemHub(config.P2PConfig),
		engines: consensus.NewMemNetwork(lib.NewNullLogger()),
		keySet:  keySet,
		share:   share,
	}
}

func endpoint(i int) string { return fmt.Sprintf("node-%d", i) }

// newNode() creates a node with a name under the prefix
func (tn *testNetwork) newNode(prefix lib.Prefix, db *store.Store) *Node {
	id, err := lib.NewIdentityWithin(prefix)
	require.NoError(tn.t, err)
	n, err := New(tn.config, id, tn.keySet.PublicKey().Bytes(), tn.hub.Transport(endpoint(len(tn.nodes))), MemEngines(tn.engines),
		db, nil, lib.NewNullLogger())
	require.NoError(tn.t, err)
	tn.nodes = append(tn.nodes, n)
	tn.t.Cleanup(n.Stop)
	return n
}

// genesisNode() starts the network with its first node
func (tn *testNetwork) genesisNode(prefix lib.Prefix, db *store.Store) *Node {
	n := tn.newNode(prefix, db)
	require.NoError(tn.t, n.Genesis(tn.keySet, tn.share))
	n.Start()
	return n
}

// join() starts a node and waits until it is a member
func (tn *testNetwork) join(prefix lib.Prefix) *Node {
	n := tn.newNode(prefix, nil)
	n.Start()
	require.Eventually(tn.t, func() bool {
		s, err := n.Status()
		return err == nil && (s.State == section.StateAdult.String() || s.State == section.StateElder.String())
	}, waitFor, tick)
	return n
}

func status(t *testing.T, n *Node) Status {
	s, err := n.Status()
	require.NoError(t, err)
	return s
}

// bitString() is the one bit prefix of a name
func bitString(name lib.XorName) string {
	if name.Bit(0) {
		return "1"
	}
	return "0"
}

// drain() drops the notifications queued so far
func drain(n *Node) {
	for {
		select {
		case <-n.Events():
		default:
			return
		}
	}
}

func waitEvent(t *testing.T, n *Node, match func(Event) bool) Event {
	timeout := time.After(waitFor)
	for {
		select {
		case e := <-n.Events():
			if match(e) {
				return e
			}
		case <-timeout:
			t.Fatal("timed out waiting for a node event")
		}
	}
}

func waitMessage(t *testing.T, n *Node, payload []byte) {
	e := waitEvent(t, n, func(e Event) bool {
		return e.Kind == EventMessage && string(e.Message.Payload) == string(payload)
	})
	require.Equal(t, message.VariantUser, e.Message.Variant)
}
