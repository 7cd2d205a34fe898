package consensus

import (
	"fmt"
	"testing"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"github.com/stretchr/testify/require"
)

const testGroup = "01/abcd"

func TestMemNetworkAgreement(t *testing.T) {
	keys, pubs := newTestElders(t, 4)
	network := NewMemNetwork(lib.NewNullLogger())
	drivers := newTestDrivers(network, keys, pubs, testConfig())
	event := []byte("node joined")
	// two of four votes are not a quorum
	for _, d := range drivers[:2] {
		proposed, err := d.Propose(event)
		require.NoError(t, err)
		require.True(t, proposed)
	}
	for _, d := range drivers {
		agreed, err := d.Poll()
		require.NoError(t, err)
		require.Empty(t, agreed)
	}
	// the third vote completes the quorum
	_, err := drivers[2].Propose(event)
	require.NoError(t, err)
	var signature []byte
	for _, d := range drivers {
		agreed, e := d.Poll()
		require.NoError(t, e)
		require.Len(t, agreed, 1)
		require.Equal(t, uint64(1), agreed[0].Sequence)
		require.Equal(t, event, []byte(agreed[0].Event))
		require.NoError(t, agreed[0].Check(pubs))
		if signature != nil {
			require.Equal(t, signature, []byte(agreed[0].Signature))
		}
		signature = agreed[0].Signature
		require.Zero(t, d.Pending())
		require.Equal(t, uint64(2), d.NextSequence())
	}
}

func TestMemNetworkOrdersConcurrentProposals(t *testing.T) {
	keys, pubs := newTestElders(t, 4)
	network := NewMemNetwork(lib.NewNullLogger())
	drivers := newTestDrivers(network, keys, pubs, testConfig())
	first, second := []byte("first"), []byte("second")
	// every elder proposes both observations, in different orders
	for i, d := range drivers {
		a, b := first, second
		if i%2 == 1 {
			a, b = second, first
		}
		_, err := d.Propose(a)
		require.NoError(t, err)
		_, err = d.Propose(b)
		require.NoError(t, err)
	}
	var order [][]byte
	for round := 0; round < 3; round++ {
		for i, d := range drivers {
			agreed, err := d.Poll()
			require.NoError(t, err)
			if i == 0 {
				for _, a := range agreed {
					order = append(order, a.Event)
				}
			}
		}
	}
	require.Len(t, order, 2)
	require.ElementsMatch(t, [][]byte{first, second}, order)
	for _, d := range drivers {
		require.Equal(t, uint64(3), d.NextSequence())
		require.Zero(t, d.Pending())
	}
}

func TestMemNetworkAdultsFollow(t *testing.T) {
	keys, pubs := newTestElders(t, 3)
	adultKey, err := crypto.NewBLSPrivateKey()
	require.NoError(t, err)
	network := NewMemNetwork(lib.NewNullLogger())
	drivers := newTestDrivers(network, keys, pubs, testConfig())
	adult := NewDriver(testConfig(), network.Join(testGroup, 1, adultKey, pubs), testGroup, 1, pubs, nil, lib.NewNullLogger())
	// an adult may not vote
	_, err = adult.Propose([]byte("event"))
	require.True(t, lib.Is(err, lib.ConsensusModule, lib.CodeNotElder))
	for _, d := range drivers {
		_, err = d.Propose([]byte("event"))
		require.NoError(t, err)
	}
	agreed, err := adult.Poll()
	require.NoError(t, err)
	require.Len(t, agreed, 1)
}

func TestMemNetworkElderChange(t *testing.T) {
	keys, pubs := newTestElders(t, 4)
	network := NewMemNetwork(lib.NewNullLogger())
	drivers := newTestDrivers(network, keys[:3], pubs[:3], testConfig())
	for _, d := range drivers {
		_, err := d.Propose([]byte("promote"))
		require.NoError(t, err)
	}
	// the fourth elder joins the group after the first agreement
	for _, d := range drivers {
		agreed, err := d.Poll()
		require.NoError(t, err)
		require.Len(t, agreed, 1)
		d.SetElders(pubs)
	}
	newcomer := NewDriver(testConfig(), network.Join(testGroup, 2, keys[3], pubs), testGroup, 2, pubs, nil, lib.NewNullLogger())
	drivers = append(drivers, newcomer)
	// three of four elders are a quorum of the new set
	for _, d := range drivers[1:] {
		_, err := d.Propose([]byte("next"))
		require.NoError(t, err)
	}
	for _, d := range drivers {
		agreed, err := d.Poll()
		require.NoError(t, err)
		require.Len(t, agreed, 1)
		require.Equal(t, uint64(2), agreed[0].Sequence)
		require.NoError(t, agreed[0].Check(pubs))
		// the certificate does not verify under the old elder list
		require.Error(t, agreed[0].Check(pubs[:3]))
	}
}

func TestMemNetworkClose(t *testing.T) {
	keys, pubs := newTestElders(t, 1)
	network := NewMemNetwork(lib.NewNullLogger())
	engine := network.Join(testGroup, 1, keys[0], pubs)
	require.Equal(t, 1, network.Groups())
	engine.Close()
	require.Zero(t, network.Groups())
	require.True(t, lib.Is(engine.Propose([]byte("late")), lib.ConsensusModule, lib.CodeEngineClosed))
}

func TestMemNetworkLateJoin(t *testing.T) {
	keys, pubs := newTestElders(t, 1)
	late, _ := newTestElders(t, 1)
	network := NewMemNetwork(lib.NewNullLogger())
	engine := network.Join(testGroup, 1, keys[0], pubs)
	for _, event := range []string{"joined", "split"} {
		require.NoError(t, engine.Propose([]byte(event)))
		_, ok := engine.PollAgreed()
		require.True(t, ok)
	}
	// the elders moved on to another group before the late member opened this one
	engine.Close()
	require.Zero(t, network.Groups())
	adult := network.Join(testGroup, 2, late[0], pubs)
	require.Equal(t, 1, network.Groups())
	a, ok := adult.PollAgreed()
	require.True(t, ok)
	require.Equal(t, uint64(2), a.Sequence)
	require.Equal(t, lib.HexBytes("split"), a.Event)
	require.NoError(t, a.Check(pubs))
	_, ok = adult.PollAgreed()
	require.False(t, ok)
}

func TestMemNetworkIdleGroups(t *testing.T) {
	keys, pubs := newTestElders(t, 1)
	network := NewMemNetwork(lib.NewNullLogger())
	for i := 0; i < idleGroups+1; i++ {
		network.Join(fmt.Sprintf("group-%d", i), 1, keys[0], pubs).Close()
	}
	network.mu.Lock()
	defer network.mu.Unlock()
	// only the most recently left groups are kept
	require.Len(t, network.groups, idleGroups)
	_, ok := network.groups["group-0"]
	require.False(t, ok)
}

func TestDriverProposeOnce(t *testing.T) {
	engine := &testEngine{}
	d := NewDriver(testConfig(), engine, testGroup, 1, nil, nil, lib.NewNullLogger())
	proposed, err := d.Propose([]byte("event"))
	require.NoError(t, err)
	require.True(t, proposed)
	proposed, err = d.Propose([]byte("event"))
	require.NoError(t, err)
	require.False(t, proposed)
	require.Len(t, engine.proposed, 1)
	require.Equal(t, 1, d.Pending())
	// a retry submits the pending observation again
	require.Equal(t, 1, d.Retry())
	require.Len(t, engine.proposed, 2)
	_, err = d.Propose(nil)
	require.Error(t, err)
}

func TestDriverDeliversInOrder(t *testing.T) {
	keys, pubs := newTestElders(t, 4)
	engine := &testEngine{}
	d := NewDriver(testConfig(), engine, testGroup, 1, pubs, nil, lib.NewNullLogger())
	all := []int{0, 1, 2, 3}
	engine.queue = []*Agreement{
		certify(t, keys, pubs, 3, []byte("c"), all),
		certify(t, keys, pubs, 1, []byte("a"), all),
	}
	agreed, err := d.Poll()
	require.NoError(t, err)
	require.Len(t, agreed, 1)
	require.Equal(t, uint64(1), agreed[0].Sequence)
	// sequence 3 waits for 2; a replay of 1 is dropped
	engine.queue = []*Agreement{
		certify(t, keys, pubs, 1, []byte("a"), all),
		certify(t, keys, pubs, 2, []byte("b"), all),
	}
	agreed, err = d.Poll()
	require.NoError(t, err)
	require.Len(t, agreed, 2)
	require.Equal(t, []byte("b"), []byte(agreed[0].Event))
	require.Equal(t, []byte("c"), []byte(agreed[1].Event))
	require.Equal(t, uint64(4), d.NextSequence())
}

func TestDriverRefusals(t *testing.T) {
	keys, pubs := newTestElders(t, 4)
	tests := []struct {
		name      string
		detail    string
		agreement func() *Agreement
		code      lib.ErrorCode
	}{
		{
			name:      "no quorum",
			detail:    "two of four signers are not more than 2/3",
			agreement: func() *Agreement { return certify(t, keys, pubs, 1, []byte("a"), []int{0, 1}) },
			code:      lib.CodeNoQuorum,
		},
		{
			name:   "tampered event",
			detail: "the certificate does not cover a modified event",
			agreement: func() *Agreement {
				a := certify(t, keys, pubs, 1, []byte("a"), []int{0, 1, 2})
				a.Event = []byte("b")
				return a
			},
			code: lib.CodeInvalidAgreement,
		},
		{
			name:   "wrong sequence",
			detail: "the certificate binds the sequence number",
			agreement: func() *Agreement {
				a := certify(t, keys, pubs, 2, []byte("a"), []int{0, 1, 2})
				a.Sequence = 1
				return a
			},
			code: lib.CodeInvalidAgreement,
		},
		{
			name:   "bitmap mismatch",
			detail: "a bitmap for another elder count is refused",
			agreement: func() *Agreement {
				a := certify(t, keys, pubs, 1, []byte("a"), []int{0, 1, 2})
				a.Bitmap = append(a.Bitmap, 0xff)
				return a
			},
			code: lib.CodeMismatchElderBitmap,
		},
		{
			name:   "short signature",
			detail: "an aggregate signature of the wrong length is refused",
			agreement: func() *Agreement {
				a := certify(t, keys, pubs, 1, []byte("a"), []int{0, 1, 2})
				a.Signature = a.Signature[:10]
				return a
			},
			code: lib.CodeInvalidAggregateSigLen,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			engine := &testEngine{queue: []*Agreement{test.agreement()}}
			d := NewDriver(testConfig(), engine, testGroup, 1, pubs, nil, lib.NewNullLogger())
			agreed, err := d.Poll()
			require.Empty(t, agreed)
			require.True(t, lib.Is(err, lib.ConsensusModule, test.code), err)
			require.Equal(t, uint64(1), d.NextSequence())
		})
	}
}

func TestDriverIgnoresForeignGroup(t *testing.T) {
	keys, pubs := newTestElders(t, 1)
	a := certify(t, keys, pubs, 1, []byte("a"), []int{0})
	a.Group = "1/ffff"
	d := NewDriver(testConfig(), &testEngine{queue: []*Agreement{a}}, testGroup, 1, pubs, nil, lib.NewNullLogger())
	agreed, err := d.Poll()
	require.NoError(t, err)
	require.Empty(t, agreed)
}

func TestDriverStall(t *testing.T) {
	config := testConfig()
	keys, pubs := newTestElders(t, 4)
	network := NewMemNetwork(lib.NewNullLogger())
	drivers := newTestDrivers(network, keys, pubs, config)
	_, err := drivers[0].Propose([]byte("lonely"))
	require.NoError(t, err)
	for i := 1; i < config.StallRounds; i++ {
		_, err = drivers[0].Poll()
		require.NoError(t, err)
	}
	_, err = drivers[0].Poll()
	require.True(t, IsStalled(err))
	// the counter restarts after a report
	_, err = drivers[0].Poll()
	require.NoError(t, err)
	// once the others propose too the observation is agreed
	for _, d := range drivers[1:3] {
		_, err = d.Propose([]byte("lonely"))
		require.NoError(t, err)
	}
	require.Equal(t, 1, drivers[0].Retry())
	agreed, err := drivers[0].Poll()
	require.NoError(t, err)
	require.Len(t, agreed, 1)
	require.Zero(t, drivers[0].Pending())
}

func TestDriverReset(t *testing.T) {
	keys, pubs := newTestElders(t, 1)
	network := NewMemNetwork(lib.NewNullLogger())
	d := NewDriver(testConfig(), network.Join(testGroup, 1, keys[0], pubs), testGroup, 1, pubs, nil, lib.NewNullLogger())
	_, err := d.Propose([]byte("a"))
	require.NoError(t, err)
	agreed, err := d.Poll()
	require.NoError(t, err)
	require.Len(t, agreed, 1)
	// a merge starts a new group counting from 1 again
	next := GroupID(lib.MustParsePrefix("0"), pubs[0])
	d.Reset(network.Join(next, 1, keys[0], pubs), next, 1, pubs)
	require.Equal(t, 1, network.Groups())
	require.Equal(t, next, d.Group())
	_, err = d.Propose([]byte("a"))
	require.NoError(t, err)
	agreed, err = d.Poll()
	require.NoError(t, err)
	require.Len(t, agreed, 1)
	require.Equal(t, uint64(1), agreed[0].Sequence)
	require.Equal(t, next, agreed[0].Group)
}

func TestEntropy(t *testing.T) {
	keys, pubs := newTestElders(t, 1)
	a := certify(t, keys, pubs, 1, []byte("a"), []int{0})
	b := certify(t, keys, pubs, 2, []byte("a"), []int{0})
	require.Len(t, a.Entropy(), crypto.HashSize)
	require.NotEqual(t, a.Entropy(), b.Entropy())
}

func testConfig() lib.ConsensusConfig {
	config := lib.DefaultConsensusConfig()
	config.StallRounds = 3
	return config
}

func newTestElders(t *testing.T, n int) (keys []crypto.PrivateKeyI, pubs [][]byte) {
	for i := 0; i < n; i++ {
		k, err := crypto.NewBLSPrivateKey()
		require.NoError(t, err)
		keys, pubs = append(keys, k), append(pubs, k.PublicKey().Bytes())
	}
	return
}

func newTestDrivers(network *MemNetwork, keys []crypto.PrivateKeyI, pubs [][]byte, config lib.ConsensusConfig) (drivers []*Driver) {
	for _, k := range keys {
		engine := network.Join(testGroup, 1, k, pubs)
		drivers = append(drivers, NewDriver(config, engine, testGroup, 1, pubs, nil, lib.NewNullLogger()))
	}
	return
}

// certify() builds a certificate signed by the elders at the signer positions
func certify(t *testing.T, keys []crypto.PrivateKeyI, pubs [][]byte, seq uint64, event []byte, signers []int) *Agreement {
	multiKey, err := crypto.NewMultiBLS(pubs, nil)
	require.NoError(t, err)
	for _, i := range signers {
		require.NoError(t, multiKey.AddSigner(keys[i].Sign(VoteSignBytes(testGroup, seq, event)), i))
	}
	signature, err := multiKey.AggregateSignatures()
	require.NoError(t, err)
	return &Agreement{Group: testGroup, Sequence: seq, Event: event, Signature: signature, Bitmap: multiKey.Bitmap()}
}

// testEngine replays a queue of agreements
type testEngine struct {
	queue    []*Agreement
	proposed [][]byte
	elders   [][]byte
	closed   bool
}

func (e *testEngine) Propose(event []byte) lib.ErrorI {
	e.proposed = append(e.proposed, event)
	return nil
}

func (e *testEngine) PollAgreed() (*Agreement, bool) {
	if len(e.queue) == 0 {
		return nil, false
	}
	a := e.queue[0]
	e.queue = e.queue[1:]
	return a, true
}

func (e *testEngine) UpdateElders(keys [][]byte) { e.elders = keys }
func (e *testEngine) Close()                     { e.closed = true }
