package routing

import (
	"bytes"
	"context"
	"testing"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"github.com/canopy-network/routing/message"
	"github.com/canopy-network/routing/section"
	"github.com/stretchr/testify/require"
)

func TestLongestPrefixRouting(t *testing.T) {
	f := newTestFixture(t, "01", "10", "11")
	tests := []struct {
		name    string
		detail  string
		dst     message.Destination
		action  Action
		targets []*section.Member
		reason  Reason
	}{
		{
			name:    "own section",
			detail:  "an elder delivers a section message of its own prefix and passes it to the other elders",
			dst:     message.ToSection(f.names["00"]),
			action:  ActionDeliver,
			targets: f.members[:2],
		},
		{
			name:   "own name",
			detail: "a message to the node itself is delivered",
			dst:    message.ToNode(f.self.Name),
			action: ActionDeliver,
		},
		{
			name:    "section member",
			detail:  "a message to another member of the section goes straight to it",
			dst:     message.ToNode(f.members[1].Name),
			action:  ActionRelay,
			targets: f.members[1:2],
		},
		{
			name:    "sibling",
			detail:  "the sibling section is the longest match for its names",
			dst:     message.ToSection(f.names["01"]),
			action:  ActionRelay,
			targets: f.sections["01"].Members,
		},
		{
			name:    "far section",
			detail:  "a name under 10 is relayed to the 10 elders",
			dst:     message.ToNode(f.names["10"]),
			action:  ActionRelay,
			targets: f.sections["10"].Members,
		},
		{
			name:    "other far section",
			detail:  "a name under 11 is relayed to the 11 elders",
			dst:     message.ToSection(f.names["11"]),
			action:  ActionRelay,
			targets: f.sections["11"].Members,
		},
		{
			name:   "unknown member",
			detail: "a name inside our prefix that is not a member has no route",
			dst:    message.ToNode(f.names["00"]),
			action: ActionReject,
			reason: ReasonNoRoute,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := f.nodeMessage(t, test.dst, []byte(test.name))
			d := f.router.Route(m)
			require.Equal(t, test.action, d.Action, d.Err)
			require.Equal(t, test.reason, d.Reason)
			require.ElementsMatch(t, section.Names(test.targets), section.Names(d.Targets))
		})
	}
}

func TestRoutingFallsBackToShorterPrefix(t *testing.T) {
	f := newTestFixture(t, "01", "1")
	target, err := lib.NewIdentityWithin(lib.MustParsePrefix("11"))
	require.NoError(t, err)
	d := f.router.Route(f.nodeMessage(t, message.ToNode(target.Name), []byte("far")))
	require.Equal(t, ActionRelay, d.Action)
	require.ElementsMatch(t, section.Names(f.sections["1"].Members), section.Names(d.Targets))
}

func TestRoutingFanOut(t *testing.T) {
	f := newTestFixture(t, "01", "1")
	f.router.config.FanOut = 2
	target, err := lib.NewIdentityWithin(lib.MustParsePrefix("1"))
	require.NoError(t, err)
	d := f.router.Route(f.nodeMessage(t, message.ToNode(target.Name), []byte("fan out")))
	require.Equal(t, ActionRelay, d.Action)
	require.Len(t, d.Targets, 2)
	// the targets are the elders nearest to the destination
	for _, other := range f.sections["1"].Members {
		if other.Name != d.Targets[0].Name && other.Name != d.Targets[1].Name {
			require.True(t, target.Name.Closer(d.Targets[0].Name, other.Name))
			require.True(t, target.Name.Closer(d.Targets[1].Name, other.Name))
		}
	}
}

func TestNoRoute(t *testing.T) {
	f := newTestFixture(t)
	target, err := lib.NewIdentityWithin(lib.MustParsePrefix("1"))
	require.NoError(t, err)
	d := f.router.Route(f.nodeMessage(t, message.ToSection(target.Name), []byte("nowhere")))
	require.Equal(t, ActionReject, d.Action)
	require.Equal(t, ReasonNoRoute, d.Reason)
	require.True(t, lib.Is(d.Err, lib.RoutingModule, lib.CodeNoRoute))
}

func TestDedupAcrossTwoPaths(t *testing.T) {
	f := newTestFixture(t, "01", "10", "11")
	// the same section message arrives twice, relayed with different proofs
	m := f.sectionMessage(t, message.ToSection(f.names["00"]), []byte("twice"))
	longer, err := message.Refresh(m, f.proof)
	require.NoError(t, err)
	first := f.router.Route(m)
	require.Equal(t, ActionDeliver, first.Action)
	second := f.router.Route(longer)
	require.Equal(t, ActionReject, second.Action)
	require.Equal(t, ReasonDuplicate, second.Reason)
	// a different payload is a different message
	other := f.router.Route(f.sectionMessage(t, message.ToSection(f.names["00"]), []byte("once")))
	require.Equal(t, ActionDeliver, other.Action)
}

func TestOutgoingFilter(t *testing.T) {
	filter := NewFilter(lib.DefaultRoutingConfig())
	peer, other := lib.RandomXorName(), lib.RandomXorName()
	require.False(t, filter.SeenOutgoing("id", peer))
	require.True(t, filter.SeenOutgoing("id", peer))
	require.False(t, filter.SeenOutgoing("id", other))
	require.False(t, filter.SeenIncoming("id"))
	require.True(t, filter.SeenIncoming("id"))
	incoming, outgoing := filter.Len()
	require.Equal(t, 1, incoming)
	require.Equal(t, 2, outgoing)
}

func TestRejectUntrustedProof(t *testing.T) {
	f := newTestFixture(t, "01")
	ks, shares, err := crypto.DealKeySet(1, 1)
	require.NoError(t, err)
	src := message.Source{Prefix: lib.MustParsePrefix("01"), Section: true}
	m, err := message.WrapShare(message.VariantUser, []byte("forged"), src, message.ToSection(f.names["00"]),
		chain.New(ks.PublicKey().Bytes()).LastProof(), ks, shares[0])
	require.NoError(t, err)
	require.NoError(t, m.VerifySignature())
	d := f.router.Route(m)
	require.Equal(t, ActionReject, d.Action)
	require.Equal(t, ReasonProofInvalid, d.Reason)
	require.True(t, message.IsProofError(d.Err))
}

func TestHalted(t *testing.T) {
	f := newTestFixture(t, "01")
	f.router.Halt()
	require.True(t, f.router.Halted())
	d := f.router.Route(f.nodeMessage(t, message.ToNode(f.self.Name), []byte("halted")))
	require.Equal(t, ActionReject, d.Action)
	require.Equal(t, ReasonHalted, d.Reason)
}

func TestDirectMessagesAreNotFiltered(t *testing.T) {
	f := newTestFixture(t)
	m := f.nodeMessage(t, message.ToDirect(f.self.Name), []byte("direct"))
	for i := 0; i < 2; i++ {
		d := f.router.Route(m)
		require.Equal(t, ActionDeliver, d.Action)
		require.Empty(t, d.Targets)
	}
}

func TestAdultRelaysToElders(t *testing.T) {
	f := newTestFixture(t, "01")
	adult := newTestMember(t, "00")
	f.table.self, f.table.members = adult.Name, append(f.table.members, adult)
	d := f.router.Route(f.nodeMessage(t, message.ToSection(f.names["00"]), []byte("to the elders")))
	require.Equal(t, ActionRelay, d.Action)
	require.ElementsMatch(t, section.Names(f.table.elders), section.Names(d.Targets))
}

func TestPrefixDestination(t *testing.T) {
	f := newTestFixture(t, "01", "10", "11")
	d := f.router.Route(f.nodeMessage(t, message.ToPrefix(lib.MustParsePrefix("0")), []byte("to all of 0")))
	require.Equal(t, ActionDeliver, d.Action)
	want := append(section.Names(f.members[:2]), section.Names(f.sections["01"].Members)...)
	require.ElementsMatch(t, want, section.Names(d.Targets))
}

func TestSignatureAccumulator(t *testing.T) {
	ks, shares, err := crypto.DealKeySet(3, 4)
	require.NoError(t, err)
	proof := chain.New(ks.PublicKey().Bytes()).LastProof()
	src := message.Source{Prefix: lib.MustParsePrefix("0"), Section: true}
	acc := NewSignatureAccumulator(lib.DefaultRoutingConfig(), lib.NewNullLogger())
	var msgs []*message.RoutingMessage
	for _, s := range shares {
		m, e := message.WrapShare(message.VariantRelocate, []byte("relocate"), src, message.ToDirect(lib.RandomXorName()), proof, ks, s)
		require.NoError(t, e)
		msgs = append(msgs, m)
	}
	for i := 0; i < 2; i++ {
		combined, e := acc.Add(msgs[i])
		require.NoError(t, e)
		require.Nil(t, combined)
	}
	// a repeated share does not count twice
	combined, err := acc.Add(msgs[1])
	require.NoError(t, err)
	require.Nil(t, combined)
	combined, err = acc.Add(msgs[2])
	require.NoError(t, err)
	require.NotNil(t, combined)
	_, ok := combined.ShareIndex()
	require.False(t, ok)
	require.NoError(t, combined.VerifySignature())
	payload, err := message.UnwrapAndVerify(combined, ks.PublicKey().Bytes())
	require.NoError(t, err)
	require.Equal(t, []byte("relocate"), payload)
	// late shares are absorbed
	late, err := acc.Add(msgs[3])
	require.NoError(t, err)
	require.Nil(t, late)
	require.Equal(t, 1, acc.Len())
	// only share messages are accepted
	_, err = acc.Add(combined)
	require.Error(t, err)
}

func TestVerifyBatch(t *testing.T) {
	f := newTestFixture(t)
	var msgs []*message.RoutingMessage
	for i := 0; i < 8; i++ {
		msgs = append(msgs, f.nodeMessage(t, message.ToNode(f.self.Name), []byte{byte(i)}))
	}
	msgs[3].Payload = []byte("tampered")
	msgs[6].Signature = bytes.Repeat([]byte{1}, len(msgs[6].Signature))
	errs := VerifyBatch(context.Background(), msgs, 3)
	require.Len(t, errs, len(msgs))
	for i, err := range errs {
		if i == 3 || i == 6 {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
	}
	// a cancelled context fails the batch
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range VerifyBatch(ctx, msgs, 2) {
		require.Error(t, err)
	}
}

// testTable is a static routing table
type testTable struct {
	self    lib.XorName
	prefix  lib.Prefix
	members []*section.Member
	elders  []*section.Member
	view    *section.NetworkView
	trusted [][]byte
}

func (t *testTable) Self() lib.XorName          { return t.self }
func (t *testTable) Prefix() lib.Prefix         { return t.prefix }
func (t *testTable) Members() []*section.Member { return t.members }
func (t *testTable) Elders() []*section.Member  { return t.elders }
func (t *testTable) View() *section.NetworkView { return t.view }
func (t *testTable) IsElder(name lib.XorName) bool {
	for _, e := range t.elders {
		if e.Name == name {
			return true
		}
	}
	return false
}
func (t *testTable) Trusts(key []byte) bool {
	for _, k := range t.trusted {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return t.view.TrustsKey(key)
}

// testFixture is a node of section 00 with three elders, and a view of the given neighbour prefixes
type testFixture struct {
	self     *lib.Identity
	members  []*section.Member      // the other elders of 00
	names    map[string]lib.XorName // a random non-member name under each prefix
	sections map[string]*section.Info
	keySet   *crypto.PublicKeySet
	shares   []*crypto.SecretKeyShare
	proof    chain.Proof // a two link proof of our section key
	table    *testTable
	router   *Router
}

func newTestFixture(t *testing.T, neighbours ...string) *testFixture {
	self, err := lib.NewIdentityWithin(lib.MustParsePrefix("00"))
	require.NoError(t, err)
	f := &testFixture{self: self, names: make(map[string]lib.XorName), sections: make(map[string]*section.Info)}
	f.members = []*section.Member{newTestMember(t, "00"), newTestMember(t, "00")}
	me := &section.Member{Name: self.Name, PublicKey: self.PublicKey(), BLSKey: self.BLSPublicKey()}
	// our section key, proven by a link from a genesis key
	genesis, cerr := crypto.NewBLSPrivateKey()
	require.NoError(t, cerr)
	f.keySet, f.shares, cerr = crypto.DealKeySet(2, 3)
	require.NoError(t, cerr)
	key := f.keySet.PublicKey().Bytes()
	c := chain.New(genesis.PublicKey().Bytes())
	require.NoError(t, c.Append(key, genesis.Sign(chain.LinkSignBytes(key))))
	f.proof, err = c.ProofFrom(genesis.PublicKey().Bytes())
	require.NoError(t, err)
	require.Equal(t, 2, f.proof.Len())
	view := section.NewNetworkView()
	for _, p := range append([]string{"00"}, neighbours...) {
		prefix := lib.MustParsePrefix(p)
		f.names[p] = prefix.RandomName()
		if p == "00" {
			continue
		}
		k, e := crypto.NewBLSPrivateKey()
		require.NoError(t, e)
		info := &section.Info{
			Prefix:  prefix,
			Key:     k.PublicKey().Bytes(),
			Members: []*section.Member{newTestMember(t, p), newTestMember(t, p), newTestMember(t, p)},
			Proof:   chain.New(k.PublicKey().Bytes()).LastProof(),
		}
		require.True(t, view.Update(info))
		f.sections[p] = info
	}
	elders := append([]*section.Member{me}, f.members...)
	f.table = &testTable{
		self:    self.Name,
		prefix:  lib.MustParsePrefix("00"),
		members: elders,
		elders:  elders,
		view:    view,
		trusted: [][]byte{genesis.PublicKey().Bytes(), key},
	}
	f.router = NewRouter(lib.DefaultRoutingConfig(), 3, f.table, nil, lib.NewNullLogger())
	return f
}

// nodeMessage() returns a message signed by the fixture's own node
func (f *testFixture) nodeMessage(t *testing.T, dst message.Destination, payload []byte) *message.RoutingMessage {
	src := message.Source{Name: f.self.Name, Prefix: f.table.prefix}
	m, err := message.Wrap(message.VariantUser, payload, src, dst, chain.Proof{}, f.self.PrivateKey)
	require.NoError(t, err)
	return m
}

// sectionMessage() returns a message of our section with a combined signature and a one key proof
func (f *testFixture) sectionMessage(t *testing.T, dst message.Destination, payload []byte) *message.RoutingMessage {
	src := message.Source{Prefix: f.table.prefix, Section: true}
	proof := chain.Proof{Entries: f.proof.Entries[len(f.proof.Entries)-1:]}
	unsigned, err := message.WrapSection(message.VariantUser, payload, src, dst, proof, nil)
	require.NoError(t, err)
	sigs := map[int][]byte{}
	for _, s := range f.shares[:2] {
		sigs[s.Index] = s.Sign(unsigned.SignBytes())
	}
	signature, cerr := f.keySet.Combine(sigs)
	require.NoError(t, cerr)
	m := unsigned.Combined(signature)
	require.NoError(t, m.VerifySignature())
	return m
}

func newTestMember(t *testing.T, prefix string) *section.Member {
	id, err := lib.NewIdentityWithin(lib.MustParsePrefix(prefix))
	require.NoError(t, err)
	return &section.Member{Name: id.Name, PublicKey: id.PublicKey(), BLSKey: id.BLSPublicKey(), Endpoint: "mem://" + id.Name.Hex()}
}
