package resource

import (
	"time"

	"github.com/canopy-network/routing/lib"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Gate is the admission side of the resource proof: it issues challenges, accepts responses and keeps a local blacklist
// of candidates that keep failing. It is owned by the node's event loop
type Gate struct {
	config    lib.ResourceProofConfig
	pending   map[lib.XorName]*Challenge            // one outstanding challenge per candidate
	failures  map[lib.XorName]int                   // failed responses per candidate
	joins     []time.Time                           // recent accepted joins, oldest first
	blacklist *expirable.LRU[lib.XorName, struct{}] // resource bounded, never agreed by consensus
	metrics   *lib.Metrics                          // telemetry
	log       lib.LoggerI                           // logging
}

// NewGate() creates a gate using the admission policy
func NewGate(config lib.ResourceProofConfig, metrics *lib.Metrics, log lib.LoggerI) *Gate {
	ttl := time.Duration(config.BlacklistTTLS) * time.Second
	return &Gate{
		config:    config,
		pending:   make(map[lib.XorName]*Challenge),
		failures:  make(map[lib.XorName]int),
		blacklist: expirable.NewLRU[lib.XorName, struct{}](config.BlacklistSize, nil, ttl),
		metrics:   metrics,
		log:       log,
	}
}

// Difficulty() scales the base difficulty with the section size and the recent join rate, capped at MaxDifficulty
func (g *Gate) Difficulty(sectionSize int, now time.Time) uint8 {
	d := int(g.config.BaseDifficulty)
	if g.config.MembersPerDifficultyStep > 0 {
		d += sectionSize / g.config.MembersPerDifficultyStep
	}
	if g.config.JoinsPerDifficultyStep > 0 {
		d += g.recentJoins(now) / g.config.JoinsPerDifficultyStep
	}
	if d > int(g.config.MaxDifficulty) {
		d = int(g.config.MaxDifficulty)
	}
	return uint8(d)
}

// IssueChallenge() creates a fresh challenge for the candidate, replacing any outstanding one
func (g *Gate) IssueChallenge(candidate lib.XorName, sectionSize int, now time.Time) (*Challenge, lib.ErrorI) {
	if g.IsBlacklisted(candidate) {
		return nil, ErrBlacklisted(candidate)
	}
	validity := time.Duration(g.config.ChallengeValidityS) * time.Second
	c := NewChallenge(candidate, g.Difficulty(sectionSize, now), g.config.DataSize, now, validity)
	g.pending[candidate] = c
	g.metrics.IncResourceProof(true, false, false)
	g.log.Debugf("Issued challenge to %s with difficulty %d", candidate, c.Difficulty)
	return c, nil
}

// Accept() checks a response against the candidate's outstanding challenge.
// A nil error is the only result that allows a NodeJoined proposal for the candidate
func (g *Gate) Accept(r *Response, now time.Time) lib.ErrorI {
	candidate := r.Candidate
	if g.IsBlacklisted(candidate) {
		return ErrBlacklisted(candidate)
	}
	c, ok := g.pending[candidate]
	if !ok {
		return ErrNoChallenge(candidate)
	}
	if c.Expired(now) {
		delete(g.pending, candidate)
		g.metrics.IncResourceProof(false, false, true)
		return ErrChallengeExpired(candidate)
	}
	if !VerifyResponse(c, r) {
		g.metrics.IncResourceProof(false, false, true)
		g.failures[candidate]++
		if g.config.MaxFailures > 0 && g.failures[candidate] >= g.config.MaxFailures {
			g.log.Warnf("Blacklisting %s after %d failed resource proofs", candidate, g.failures[candidate])
			g.blacklist.Add(candidate, struct{}{})
			delete(g.pending, candidate)
			delete(g.failures, candidate)
		}
		return ErrChallengeMismatch(candidate)
	}
	delete(g.pending, candidate)
	delete(g.failures, candidate)
	g.joins = append(g.joins, now)
	g.metrics.IncResourceProof(false, true, false)
	return nil
}

// Expire() drops every outstanding challenge past its validity window and returns the affected candidates
func (g *Gate) Expire(now time.Time) (expired []lib.XorName) {
	for candidate, c := range g.pending {
		if c.Expired(now) {
			delete(g.pending, candidate)
			expired = append(expired, candidate)
		}
	}
	g.recentJoins(now)
	return
}

// Pending() returns the outstanding challenge of a candidate
func (g *Gate) Pending(candidate lib.XorName) (*Challenge, bool) {
	c, ok := g.pending[candidate]
	return c, ok
}

// IsBlacklisted() returns true if the candidate is temporarily refused
func (g *Gate) IsBlacklisted(candidate lib.XorName) bool { return g.blacklist.Contains(candidate) }

// recentJoins() trims joins outside of the rate window and returns how many remain
func (g *Gate) recentJoins(now time.Time) int {
	cutoff := now.Add(-time.Duration(g.config.JoinRateWindowS) * time.Second)
	i := 0
	for i < len(g.joins) && g.joins[i].Before(cutoff) {
		i++
	}
	g.joins = g.joins[i:]
	return len(g.joins)
}
