package consensus

import (
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
)

/* This file implements the consensus driver: the routing layer's only door to the engine */

// Driver proposes local observations to the engine and hands the agreed ones back strictly in sequence order.
// Every agreement is checked against the elder set in force at its sequence before it is released.
// NOTE: the driver is owned by the node's event loop and is not safe for concurrent use
type Driver struct {
	config   lib.ConsensusConfig
	engine   Engine
	group    string                // the consensus group the engine agrees in
	next     uint64                // the next sequence to hand out
	elders   [][]byte              // ordered BLS keys of the current elders
	buffered map[uint64]*Agreement // agreements received ahead of next
	pending  map[string][]byte     // proposed and not yet agreed: event hash -> event
	idle     int                   // ticks without progress while proposals are pending
	progress bool                  // was anything delivered since the last tick?
	metrics  *lib.Metrics
	log      lib.LoggerI
}

// NewDriver() creates a driver over an engine that will next deliver sequence next
func NewDriver(config lib.ConsensusConfig, engine Engine, group string, next uint64, elders [][]byte, metrics *lib.Metrics, log lib.LoggerI) *Driver {
	d := &Driver{
		config:   config,
		engine:   engine,
		group:    group,
		next:     next,
		buffered: make(map[uint64]*Agreement),
		pending:  make(map[string][]byte),
		metrics:  metrics,
		log:      log,
	}
	d.SetElders(elders)
	return d
}

// Propose() submits an observation once; a proposal still pending is not submitted again
func (d *Driver) Propose(event []byte) (proposed bool, err lib.ErrorI) {
	if len(event) == 0 {
		return false, ErrEmptyAgreement()
	}
	key := crypto.HashString(event)
	if _, ok := d.pending[key]; ok {
		return false, nil
	}
	if err = d.engine.Propose(event); err != nil {
		return false, err
	}
	d.pending[key] = lib.Clone(event)
	d.metrics.IncConsensus(1, 0, false)
	return true, nil
}

// Next() returns the next agreement in sequence order, or nil if it has not arrived yet.
// Agreements for already delivered sequences are dropped; an agreement without a valid quorum certificate
// for the current elders is refused with the check error and never delivered.
// Callers apply the returned event and update the elders before asking for the next one
func (d *Driver) Next() (*Agreement, lib.ErrorI) {
	// only pull from the engine while the next sequence is missing
	for d.buffered[d.next] == nil {
		a, ok := d.engine.PollAgreed()
		if !ok {
			return nil, nil
		}
		if a.Group != d.group {
			d.log.Warnf("Ignoring agreement of foreign group %s", a.Group)
			continue
		}
		if a.Sequence < d.next {
			d.log.Debugf("Ignoring already delivered %s", a)
			delete(d.pending, crypto.HashString(a.Event))
			continue
		}
		if _, ok = d.buffered[a.Sequence]; !ok {
			d.buffered[a.Sequence] = a
		}
	}
	a := d.buffered[d.next]
	delete(d.buffered, d.next)
	if err := a.Check(d.elders); err != nil {
		d.log.Errorf("Refusing %s: %s", a, err.Error())
		return nil, err
	}
	delete(d.pending, crypto.HashString(a.Event))
	d.next++
	d.progress = true
	d.metrics.IncConsensus(0, 1, false)
	return a, nil
}

// Poll() drains every agreement deliverable without an elder change in between, then ticks.
// The first refusal stops the run and is returned with the agreements before it
func (d *Driver) Poll() (agreed []*Agreement, err lib.ErrorI) {
	for {
		a, e := d.Next()
		if e != nil {
			return agreed, e
		}
		if a == nil {
			break
		}
		agreed = append(agreed, a)
	}
	return agreed, d.Tick()
}

// Tick() accounts one poll round and reports ErrStalledConsensus once proposals saw no progress for StallRounds rounds
func (d *Driver) Tick() lib.ErrorI {
	progressed := d.progress
	d.progress = false
	if progressed || len(d.pending) == 0 {
		d.idle = 0
		return nil
	}
	if d.idle++; d.idle < d.config.StallRounds {
		return nil
	}
	rounds := d.idle
	d.idle = 0
	d.metrics.IncConsensus(0, 0, true)
	return ErrStalledConsensus(rounds, len(d.pending))
}

// Retry() submits every pending observation to the engine again and returns how many there were
func (d *Driver) Retry() int {
	for _, event := range d.pending {
		if err := d.engine.Propose(event); err != nil {
			d.log.Warnf("Re-proposal failed: %s", err.Error())
		}
	}
	return len(d.pending)
}

// SetElders() installs the ordered elder keys agreements are checked against
func (d *Driver) SetElders(keys [][]byte) {
	d.elders = make([][]byte, len(keys))
	for i, k := range keys {
		d.elders[i] = lib.Clone(k)
	}
	d.engine.UpdateElders(d.elders)
}

// Reset() moves the driver to a new consensus group, dropping everything bound to the old one
func (d *Driver) Reset(engine Engine, group string, next uint64, elders [][]byte) {
	d.engine.Close()
	d.engine, d.group, d.next = engine, group, next
	d.buffered = make(map[uint64]*Agreement)
	d.pending = make(map[string][]byte)
	d.idle, d.progress = 0, false
	d.SetElders(elders)
}

// Close() closes the engine
func (d *Driver) Close() { d.engine.Close() }

// Group() returns the current consensus group
func (d *Driver) Group() string { return d.group }

// NextSequence() returns the sequence the driver delivers next
func (d *Driver) NextSequence() uint64 { return d.next }

// Pending() returns the number of proposals not yet agreed
func (d *Driver) Pending() int { return len(d.pending) }
