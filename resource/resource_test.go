package resource

import (
	"context"
	"testing"
	"time"

	"github.com/canopy-network/routing/lib"
	"github.com/stretchr/testify/require"
)

func TestDifficulty(t *testing.T) {
	tests := []struct {
		name        string
		detail      string
		sectionSize int
		joins       int
		expected    uint8
	}{
		{
			name:     "empty section",
			detail:   "no members and no joins gives the base difficulty",
			expected: 4,
		},
		{
			name:        "members",
			detail:      "every step of members adds one bit",
			sectionSize: 9,
			expected:    6,
		},
		{
			name:     "join rate",
			detail:   "every step of recent joins adds one bit",
			joins:    5,
			expected: 6,
		},
		{
			name:        "capped",
			detail:      "difficulty never exceeds the maximum",
			sectionSize: 1000,
			expected:    8,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g := newTestGate()
			now := time.Now()
			for i := 0; i < test.joins; i++ {
				g.joins = append(g.joins, now)
			}
			require.Equal(t, test.expected, g.Difficulty(test.sectionSize, now))
		})
	}
}

func TestDifficultyJoinWindow(t *testing.T) {
	g := newTestGate()
	now := time.Now()
	// joins outside the window no longer count
	g.joins = []time.Time{now.Add(-time.Hour), now.Add(-time.Hour), now}
	require.Equal(t, uint8(4), g.Difficulty(0, now))
	require.Len(t, g.joins, 1)
}

func TestSolveAndVerify(t *testing.T) {
	c := NewChallenge(lib.RandomXorName(), 6, 512, time.Now(), time.Minute)
	r, err := Solve(context.Background(), c)
	require.NoError(t, err)
	require.True(t, VerifyResponse(c, r))
	// the next failing counter is refused
	bad := *r
	for VerifyResponse(c, &bad) {
		bad.Counter++
	}
	require.False(t, VerifyResponse(c, &bad))
	require.False(t, VerifyResponse(nil, r))
}

func TestNoReplayAcrossChallenges(t *testing.T) {
	candidate := lib.RandomXorName()
	now := time.Now()
	a := NewChallenge(candidate, 4, 256, now, time.Minute)
	b := NewChallenge(candidate, 4, 256, now, time.Minute)
	r, err := Solve(context.Background(), a)
	require.NoError(t, err)
	require.True(t, VerifyResponse(a, r))
	// valid for A but presented against B
	require.False(t, VerifyResponse(b, r))
}

func TestSolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// an impossible difficulty only returns through cancellation
	_, err := Solve(ctx, NewChallenge(lib.RandomXorName(), 255, 16, time.Now(), time.Minute))
	require.True(t, lib.Is(err, lib.ResourceProofModule, lib.CodeSolveCancelled))
}

func TestGateAccept(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		prepare  func(g *Gate, candidate lib.XorName, now time.Time) *Response
		at       time.Duration
		code     lib.ErrorCode
		accepted bool
	}{
		{
			name:   "accepted",
			detail: "a solved pending challenge is accepted once",
			prepare: func(g *Gate, candidate lib.XorName, now time.Time) *Response {
				c, _ := g.IssueChallenge(candidate, 0, now)
				r, _ := Solve(context.Background(), c)
				return r
			},
			accepted: true,
		},
		{
			name:   "no challenge",
			detail: "a response without an outstanding challenge is refused",
			prepare: func(g *Gate, candidate lib.XorName, now time.Time) *Response {
				c := NewChallenge(candidate, 4, 256, now, time.Minute)
				r, _ := Solve(context.Background(), c)
				return r
			},
			code: lib.CodeNoChallenge,
		},
		{
			name:   "expired",
			detail: "a late response is refused and the challenge dropped",
			prepare: func(g *Gate, candidate lib.XorName, now time.Time) *Response {
				c, _ := g.IssueChallenge(candidate, 0, now)
				r, _ := Solve(context.Background(), c)
				return r
			},
			at:   2 * time.Minute,
			code: lib.CodeChallengeExpired,
		},
		{
			name:   "replayed",
			detail: "a response to an older challenge is refused after a new one was issued",
			prepare: func(g *Gate, candidate lib.XorName, now time.Time) *Response {
				old, _ := g.IssueChallenge(candidate, 0, now)
				r, _ := Solve(context.Background(), old)
				_, _ = g.IssueChallenge(candidate, 0, now)
				return r
			},
			code: lib.CodeChallengeMismatch,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g, candidate, now := newTestGate(), lib.RandomXorName(), time.Now()
			r := test.prepare(g, candidate, now)
			require.NotNil(t, r)
			err := g.Accept(r, now.Add(test.at))
			if test.accepted {
				require.NoError(t, err)
				_, pending := g.Pending(candidate)
				require.False(t, pending)
				// the same response cannot be used twice
				require.True(t, lib.Is(g.Accept(r, now), lib.ResourceProofModule, lib.CodeNoChallenge))
				return
			}
			require.True(t, lib.Is(err, lib.ResourceProofModule, test.code), err)
		})
	}
}

func TestGateBlacklist(t *testing.T) {
	g, candidate, now := newTestGate(), lib.RandomXorName(), time.Now()
	c, err := g.IssueChallenge(candidate, 0, now)
	require.NoError(t, err)
	bad := &Response{ChallengeID: []byte("wrong"), Candidate: candidate}
	for i := 0; i < g.config.MaxFailures; i++ {
		require.True(t, lib.Is(g.Accept(bad, now), lib.ResourceProofModule, lib.CodeChallengeMismatch))
	}
	require.True(t, g.IsBlacklisted(candidate))
	// even a valid response is refused while blacklisted
	r, err := Solve(context.Background(), c)
	require.NoError(t, err)
	require.True(t, lib.Is(g.Accept(r, now), lib.ResourceProofModule, lib.CodeBlacklisted))
	_, err = g.IssueChallenge(candidate, 0, now)
	require.True(t, lib.Is(err, lib.ResourceProofModule, lib.CodeBlacklisted))
}

func TestGateExpire(t *testing.T) {
	g, now := newTestGate(), time.Now()
	a, b := lib.RandomXorName(), lib.RandomXorName()
	_, err := g.IssueChallenge(a, 0, now)
	require.NoError(t, err)
	_, err = g.IssueChallenge(b, 0, now.Add(50*time.Second))
	require.NoError(t, err)
	expired := g.Expire(now.Add(90 * time.Second))
	require.Equal(t, []lib.XorName{a}, expired)
	_, ok := g.Pending(b)
	require.True(t, ok)
}

func TestChallengeBytes(t *testing.T) {
	c := NewChallenge(lib.RandomXorName(), 9, 1024, time.Now(), time.Minute)
	got, err := ChallengeFromBytes(c.Bytes())
	require.NoError(t, err)
	require.Equal(t, c.ID(), got.ID())
	r := &Response{ChallengeID: c.ID(), Candidate: c.Candidate, Counter: 77}
	gotR, err := ResponseFromBytes(r.Bytes())
	require.NoError(t, err)
	require.Equal(t, r.Bytes(), gotR.Bytes())
}

func newTestGate() *Gate {
	return NewGate(lib.ResourceProofConfig{
		BaseDifficulty:           4,
		MembersPerDifficultyStep: 4,
		JoinsPerDifficultyStep:   2,
		JoinRateWindowS:          60,
		MaxDifficulty:            8,
		DataSize:                 256,
		ChallengeValidityS:       60,
		MaxFailures:              3,
		BlacklistSize:            100,
		BlacklistTTLS:            60,
	}, nil, lib.NewNullLogger())
}
