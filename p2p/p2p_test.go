package p2p

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/canopy-network/routing/lib"
	"github.com/stretchr/testify/require"
)

const testTimeout = 10 * time.Second

func testConfig() lib.P2PConfig {
	config := lib.DefaultP2PConfig()
	config.ListenAddress = "127.0.0.1:0"
	config.MaxFrameBytes = 1024 * 1024
	config.InboxSize = 10
	return config
}

func receive(t *testing.T, tr Transport) Inbound {
	t.Helper()
	select {
	case in := <-tr.Inbox():
		return in
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for frame")
	}
	return Inbound{}
}

func TestMemHubSend(t *testing.T) {
	hub := NewMemHub(testConfig())
	a, b := hub.Transport("a"), hub.Transport("b")
	require.Equal(t, 2, hub.Len())
	msg := []byte("hello")
	require.NoError(t, a.Send(context.Background(), "b", msg))
	// the receiver owns its copy
	msg[0] = 'j'
	in := receive(t, b)
	require.Equal(t, "a", in.From)
	require.Equal(t, []byte("hello"), in.Bytes)
}

func TestMemHubErrors(t *testing.T) {
	config := testConfig()
	config.MaxFrameBytes = 4
	hub := NewMemHub(config)
	a := hub.Transport("a")
	hub.Transport("b")
	tests := []struct {
		name     string
		detail   string
		endpoint string
		bz       []byte
		code     lib.ErrorCode
	}{
		{
			name:     "unknown peer",
			detail:   "the endpoint was never registered",
			endpoint: "c",
			bz:       []byte("hi"),
			code:     lib.CodeUnknownPeer,
		},
		{
			name:     "frame too large",
			detail:   "frames above the max are refused before delivery",
			endpoint: "b",
			bz:       []byte("hello"),
			code:     lib.CodeMaxFrameSize,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := a.Send(context.Background(), test.endpoint, test.bz)
			require.True(t, lib.Is(err, lib.P2PModule, test.code), err)
		})
	}
}

func TestMemHubClose(t *testing.T) {
	hub := NewMemHub(testConfig())
	a, b := hub.Transport("a"), hub.Transport("b")
	b.Close()
	b.Close()
	select {
	case endpoint := <-a.Lost():
		require.Equal(t, "b", endpoint)
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for lost notice")
	}
	err := a.Send(context.Background(), "b", []byte("hi"))
	require.True(t, lib.Is(err, lib.P2PModule, lib.CodeUnknownPeer))
	err = b.Send(context.Background(), "a", []byte("hi"))
	require.True(t, lib.Is(err, lib.P2PModule, lib.CodeTransportClose))
}

func TestMemHubBackPressure(t *testing.T) {
	config := testConfig()
	config.InboxSize = 1
	hub := NewMemHub(config)
	a := hub.Transport("a")
	hub.Transport("b")
	require.NoError(t, a.Send(context.Background(), "b", []byte("1")))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := a.Send(ctx, "b", []byte("2"))
	require.True(t, lib.Is(err, lib.P2PModule, lib.CodeSend))
}

func newTestQUIC(t *testing.T, config lib.P2PConfig) *QUIC {
	t.Helper()
	q, err := NewQUIC(config, nil, lib.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

func TestQUICLoopback(t *testing.T) {
	a, b := newTestQUIC(t, testConfig()), newTestQUIC(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	frames := [][]byte{[]byte("first"), bytes.Repeat([]byte{7}, 64*1024), []byte("last")}
	for _, f := range frames {
		require.NoError(t, a.Send(ctx, b.Endpoint(), f))
	}
	got := make(map[string]bool)
	for range frames {
		in := receive(t, b)
		require.Equal(t, a.Endpoint(), in.From)
		got[string(in.Bytes)] = true
	}
	for _, f := range frames {
		require.True(t, got[string(f)])
	}
	require.Equal(t, []string{b.Endpoint()}, a.Peers())
	// reply over b's own dialed connection
	require.NoError(t, b.Send(ctx, a.Endpoint(), []byte("reply")))
	in := receive(t, a)
	require.Equal(t, b.Endpoint(), in.From)
	require.Equal(t, []byte("reply"), in.Bytes)
}

func TestQUICMaxFrame(t *testing.T) {
	config := testConfig()
	config.MaxFrameBytes = 8
	a, b := newTestQUIC(t, config), newTestQUIC(t, config)
	err := a.Send(context.Background(), b.Endpoint(), []byte("too many bytes"))
	require.True(t, lib.Is(err, lib.P2PModule, lib.CodeMaxFrameSize))
}

func TestQUICLost(t *testing.T) {
	a, b := newTestQUIC(t, testConfig()), newTestQUIC(t, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, a.Send(ctx, b.Endpoint(), []byte("hi")))
	receive(t, b)
	endpoint := b.Endpoint()
	b.Close()
	select {
	case lost := <-a.Lost():
		require.Equal(t, endpoint, lost)
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for lost notice")
	}
	require.Empty(t, a.Peers())
}

func TestQUICClosed(t *testing.T) {
	a := newTestQUIC(t, testConfig())
	a.Close()
	err := a.Send(context.Background(), "127.0.0.1:1", []byte("hi"))
	require.True(t, lib.Is(err, lib.P2PModule, lib.CodeTransportClose))
}
