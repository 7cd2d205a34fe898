package routing

import (
	"time"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"github.com/canopy-network/routing/message"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SignatureAccumulator collects the elders' signature shares of section messages and combines them into one section
// signature once enough distinct shares arrived. Incomplete entries expire
type SignatureAccumulator struct {
	entries *expirable.LRU[string, *accumulation]
	log     lib.LoggerI
}

// accumulation is the state of one section message
type accumulation struct {
	msg    *message.RoutingMessage // the first share received
	keySet *crypto.PublicKeySet
	shares map[int][]byte // share index -> signature share
	done   bool           // combined already, late shares are ignored
}

// NewSignatureAccumulator() creates an accumulator bounded by the router options
func NewSignatureAccumulator(config lib.RoutingConfig, log lib.LoggerI) *SignatureAccumulator {
	ttl := time.Duration(config.SignatureAccumulationS) * time.Second
	return &SignatureAccumulator{
		entries: expirable.NewLRU[string, *accumulation](config.SignatureAccumulatorSize, nil, ttl),
		log:     log,
	}
}

// Add() adds a verified share message. It returns the combined message exactly once, when the share completes the
// threshold, and nil before and after that
func (a *SignatureAccumulator) Add(m *message.RoutingMessage) (*message.RoutingMessage, lib.ErrorI) {
	index, ok := m.ShareIndex()
	if !ok || !m.Src.Section {
		return nil, ErrNotAShare()
	}
	// every share of the same content signs the same bytes
	key := crypto.HashString(m.SignBytes())
	acc, found := a.entries.Get(key)
	if !found {
		keySet, err := crypto.NewPublicKeySetFromBytes(m.KeySet)
		if err != nil {
			return nil, message.ErrInvalidMessageSignature(err.Error())
		}
		acc = &accumulation{msg: m.Copy(), keySet: keySet, shares: make(map[int][]byte)}
		a.entries.Add(key, acc)
	}
	if acc.done {
		return nil, nil
	}
	if _, dup := acc.shares[index]; dup {
		return nil, nil
	}
	acc.shares[index] = lib.Clone(m.Signature)
	if len(acc.shares) < acc.keySet.Threshold() {
		return nil, nil
	}
	signature, err := acc.keySet.Combine(acc.shares)
	if err != nil {
		return nil, lib.ErrThresholdSignature(err)
	}
	combined := acc.msg.Combined(signature)
	if e := combined.VerifySignature(); e != nil {
		// a bad share slipped in; start over with the shares still to come
		a.log.Warnf("Combined signature of %s failed: %s", m, e.Error())
		acc.shares = make(map[int][]byte)
		return nil, e
	}
	acc.done = true
	return combined, nil
}

// Len() returns the number of tracked messages
func (a *SignatureAccumulator) Len() int { return a.entries.Len() }
