package node

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/routing/chain"
	"github.com/canopy-network/routing/consensus"
	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"github.com/canopy-network/routing/message"
	"github.com/canopy-network/routing/p2p"
	"github.com/canopy-network/routing/resource"
	"github.com/canopy-network/routing/routing"
	"github.com/canopy-network/routing/section"
	"github.com/canopy-network/routing/store"
	"github.com/cenkalti/backoff/v4"
)

/*
	The Node is the actor wiring the routing components together.

	One goroutine owns every piece of mutable state: the section manager, the router, the resource proof gate, the
	consensus driver and the section key material. The other goroutines only move bytes: the verifier decodes inbound
	frames and checks their signatures in parallel, the senders write outbound frames to the transport and solvers
	grind the resource proofs of a joining node. Their results re-enter the loop through channels.
*/

const (
	outboxSize  = 4096             // encoded frames waiting for a sender
	eventsSize  = 1024             // notifications waiting for the application
	backlogSize = 1024             // routed messages a joining node keeps until it is approved
	senders     = 4                // goroutines writing to the transport
	maxBatch    = 64               // frames verified together
	sendTimeout = 10 * time.Second // per frame transport deadline
)

// EngineFactory creates this node's consensus engine for a group. Engines that exchange their own traffic hand it
// to broadcast, which is safe to call from any goroutine; the node delivers it to the current elders
type EngineFactory func(group string, next uint64, key crypto.PrivateKeyI, elders [][]byte, broadcast func([]byte)) consensus.Engine

// Receiver is implemented by engines that take engine traffic from other elders
type Receiver interface {
	Receive(from lib.XorName, payload []byte)
}

// MemEngines() returns a factory of engines sharing one in-process network
func MemEngines(network *consensus.MemNetwork) EngineFactory {
	return func(group string, next uint64, key crypto.PrivateKeyI, elders [][]byte, _ func([]byte)) consensus.Engine {
		return network.Join(group, next, key, elders)
	}
}

// NewGenesis() deals the key set of a new network: a single share, held by the first node
func NewGenesis() (*crypto.PublicKeySet, *crypto.SecretKeyShare, lib.ErrorI) {
	keySet, shares, err := crypto.DealKeySet(1, 1)
	if err != nil {
		return nil, nil, lib.ErrThresholdSignature(err)
	}
	return keySet, shares[0], nil
}

// inbound is a verified message and the endpoint it arrived from
type inbound struct {
	msg  *message.RoutingMessage
	from string
}

// outgoing is an encoded frame waiting for a sender
type outgoing struct {
	endpoint string
	bz       []byte
}

// Node is a participant of the overlay
type Node struct {
	config    lib.Config
	id        *lib.Identity
	genesis   []byte // the network genesis key every chain starts from
	transport p2p.Transport
	engines   EngineFactory
	db        *store.Store // nil disables persistence

	section *section.Manager
	router  *routing.Router
	shares  *routing.SignatureAccumulator
	gate    *resource.Gate
	driver  *consensus.Driver // nil while this node is not a member
	engine  consensus.Engine  // the engine of the driver
	group   string            // the consensus group of the driver

	keys       *keyState                       // section key material
	join       *joinState                      // admission of this node
	candidates map[lib.XorName]*section.Member // candidates we challenged, as they will be proposed
	retry      *backoff.ExponentialBackOff     // spacing of re-proposals after a stall
	retryAt    time.Time                       // when the pending proposals are submitted again
	heartbeat  time.Time                       // when this node last told its elders it is alive
	behind     time.Time                       // when a peer first showed section state newer than ours
	halted     bool

	local     []inbound     // messages this node sent to itself
	inbox     chan inbound  // verified inbound messages
	outbox    chan outgoing // frames for the senders
	calls     chan func()   // work submitted by other goroutines
	solved    chan solution // solved resource proofs
	engineOut chan []byte   // engine traffic for the elders
	events    chan Event    // notifications for the application
	running   atomic.Bool   // the loop is running
	stopOnce  sync.Once     // stop only once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	metrics *lib.Metrics
	baseLog lib.LoggerI
	log     lib.LoggerI
}

// New() creates a node with the given identity. Persisted section state is restored if the store holds any for
// this identity; otherwise the node starts as a candidate that only trusts the genesis key
func New(config lib.Config, id *lib.Identity, genesisKey []byte, transport p2p.Transport, engines EngineFactory,
	db *store.Store, metrics *lib.Metrics, log lib.LoggerI) (*Node, lib.ErrorI) {
	if len(genesisKey) == 0 {
		return nil, ErrGenesisKey("empty genesis key")
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		config:     config,
		id:         id,
		genesis:    lib.Clone(genesisKey),
		transport:  transport,
		engines:    engines,
		db:         db,
		keys:       newKeyState(),
		join:       newJoinState(),
		candidates: make(map[lib.XorName]*section.Member),
		inbox:      make(chan inbound, config.InboxSize),
		outbox:     make(chan outgoing, outboxSize),
		calls:      make(chan func()),
		solved:     make(chan solution),
		engineOut:  make(chan []byte, outboxSize),
		events:     make(chan Event, eventsSize),
		ctx:        ctx,
		cancel:     cancel,
		metrics:    metrics,
		baseLog:    log,
	}
	n.rename(id)
	if err := n.restore(); err != nil {
		cancel()
		return nil, err
	}
	n.router = routing.NewRouter(config.RoutingConfig, config.ElderSize, n.section, metrics, n.log)
	n.shares = routing.NewSignatureAccumulator(config.RoutingConfig, n.log)
	n.gate = resource.NewGate(config.ResourceProofConfig, metrics, n.log)
	return n, nil
}

// restore() loads the persisted section state of this identity, if any
func (n *Node) restore() lib.ErrorI {
	n.section = section.NewManager(n.config.SectionConfig, n.id.Name, n.genesis, n.log)
	if n.db == nil {
		return nil
	}
	snapshot, err := n.db.LoadSection()
	if err != nil || snapshot == nil {
		return err
	}
	if snapshot.Self != n.id.Name {
		n.log.Warnf("Ignoring persisted section state of %s", snapshot.Self)
		return nil
	}
	manager, err := section.Restore(n.config.SectionConfig, snapshot, n.log)
	if err != nil {
		return err
	}
	n.section = manager
	share, err := n.db.LoadKeyShare()
	if err != nil {
		return err
	}
	if share != nil {
		n.keys.adopt(manager.Chain().LastKey(), share)
	}
	if n.group, err = n.db.LoadGroup(); err != nil {
		return err
	}
	n.log.Infof("Restored %s state of section %s at sequence %d", manager.State(), manager.Prefix().Display(), manager.Sequence())
	return nil
}

// Genesis() starts a new network: this node becomes the sole elder of the first section and holds the only share of
// the genesis key. It must be called before Start()
func (n *Node) Genesis(keySet *crypto.PublicKeySet, share *crypto.SecretKeyShare) lib.ErrorI {
	if !bytes.Equal(keySet.PublicKey().Bytes(), n.genesis) {
		return ErrGenesisKey("key set does not match the genesis key")
	}
	if err := n.section.Genesis(n.selfMember(1), keySet); err != nil {
		return err
	}
	n.keys.adopt(n.genesis, share)
	n.keys.dealtFor(n.genesis, n.section.Elders())
	n.openDriver(consensus.GroupID(n.section.Prefix(), n.genesis), 1)
	n.persist(true)
	n.emit(Event{Kind: EventStateChanged, State: n.section.State()})
	return nil
}

// Start() runs the node. A node that is not a member yet starts joining through the bootstrap peers
func (n *Node) Start() {
	if n.isMember() && n.driver == nil && n.group != "" {
		n.openDriver(n.group, n.section.Sequence()+1)
	}
	if n.section.State() == section.StateJoining {
		n.startJoin(time.Now())
	}
	n.running.Store(true)
	n.wg.Add(2 + senders)
	go n.run()
	go n.verify()
	for i := 0; i < senders; i++ {
		go n.send()
	}
	n.log.Infof("Started as %s on %s", n.section.State(), n.transport.Endpoint())
}

// Stop() stops every goroutine of the node, leaves the consensus group and closes the transport
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.cancel()
		n.wg.Wait()
		n.running.Store(false)
		if n.driver != nil {
			n.driver.Close()
		}
		n.transport.Close()
		n.log.Infof("Stopped")
	})
}

// Events() returns the notifications of the node; they are dropped when nobody reads them
func (n *Node) Events() <-chan Event { return n.events }

// Name() returns the current name of the node, which changes when it is relocated
func (n *Node) Name() (name lib.XorName) {
	_ = n.call(func() { name = n.id.Name })
	return
}

// Send() signs the payload as this node and routes it to the destination
func (n *Node) Send(dst message.Destination, payload []byte) lib.ErrorI {
	var err lib.ErrorI
	if e := n.call(func() { err = n.sendUser(dst, payload) }); e != nil {
		return e
	}
	return err
}

func (n *Node) sendUser(dst message.Destination, payload []byte) lib.ErrorI {
	if n.halted {
		return ErrNodeHalted()
	}
	if !n.isMember() {
		return ErrNotJoined()
	}
	m, err := message.Wrap(message.VariantUser, payload, n.source(), dst, chain.Proof{}, n.id.PrivateKey)
	if err != nil {
		return err
	}
	n.local = append(n.local, inbound{msg: m, from: n.transport.Endpoint()})
	return nil
}

// run() is the event loop
func (n *Node) run() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.config.ConsensusConfig.Tick())
	defer ticker.Stop()
	for {
		n.drainLocal()
		select {
		case <-n.ctx.Done():
			return
		case in := <-n.inbox:
			n.handle(in)
		case endpoint := <-n.transport.Lost():
			n.connectionLost(endpoint, time.Now())
		case s := <-n.solved:
			n.respond(s)
		case payload := <-n.engineOut:
			n.sendConsensus(payload)
		case fn := <-n.calls:
			fn()
		case now := <-ticker.C:
			n.tick(now)
		}
	}
}

// drainLocal() handles the messages this node addressed to itself
func (n *Node) drainLocal() {
	for len(n.local) > 0 && !n.halted {
		in := n.local[0]
		n.local = n.local[1:]
		n.handle(in)
	}
}

// verify() decodes inbound frames and checks their signatures in batches before the loop sees them
func (n *Node) verify() {
	defer n.wg.Done()
	defer lib.CatchPanic(n.log)
	for {
		var frames []p2p.Inbound
		select {
		case <-n.ctx.Done():
			return
		case f := <-n.transport.Inbox():
			frames = append(frames, f)
		}
	drain:
		for len(frames) < maxBatch {
			select {
			case f := <-n.transport.Inbox():
				frames = append(frames, f)
			default:
				break drain
			}
		}
		batch := n.decode(frames)
		msgs := make([]*message.RoutingMessage, len(batch))
		for i, in := range batch {
			msgs[i] = in.msg
		}
		for i, err := range routing.VerifyBatch(n.ctx, msgs, n.config.VerifyWorkers) {
			if err != nil {
				n.log.Debugf("Dropping %s from %s: %s", msgs[i], batch[i].from, err.Error())
				continue
			}
			select {
			case n.inbox <- batch[i]:
			case <-n.ctx.Done():
				return
			}
		}
	}
}

// decode() parses frames into messages, dropping oversized and malformed ones
func (n *Node) decode(frames []p2p.Inbound) (batch []inbound) {
	for _, f := range frames {
		if max := n.config.MaxMessageBytes; max != 0 && uint64(len(f.Bytes)) > max {
			n.log.Warnf("Dropping frame from %s: %s", f.From, lib.ErrMaxMessageSize(len(f.Bytes), int(max)).Error())
			continue
		}
		m, err := message.FromBytes(f.Bytes)
		if err != nil {
			n.log.Debugf("Dropping frame from %s: %s", f.From, err.Error())
			continue
		}
		batch = append(batch, inbound{msg: m, from: f.From})
	}
	return
}

// send() writes queued frames to the transport
func (n *Node) send() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case out := <-n.outbox:
			ctx, cancel := context.WithTimeout(n.ctx, sendTimeout)
			if err := n.transport.Send(ctx, out.endpoint, out.bz); err != nil {
				n.log.Debugf("Sending to %s failed: %s", out.endpoint, err.Error())
			}
			cancel()
		}
	}
}

// sendTo() delivers the message to each member, through the local queue when the member is this node
func (n *Node) sendTo(m *message.RoutingMessage, targets []*section.Member) {
	var bz []byte
	for _, t := range targets {
		if t.Name == n.id.Name {
			n.local = append(n.local, inbound{msg: m, from: n.transport.Endpoint()})
			continue
		}
		if bz == nil {
			bz = m.Bytes()
		}
		n.enqueue(t.Endpoint, bz)
	}
}

// sendDirect() delivers the message to a single endpoint
func (n *Node) sendDirect(m *message.RoutingMessage, endpoint string) {
	if endpoint == n.transport.Endpoint() {
		n.local = append(n.local, inbound{msg: m, from: endpoint})
		return
	}
	n.enqueue(endpoint, m.Bytes())
}

func (n *Node) enqueue(endpoint string, bz []byte) {
	if endpoint == "" {
		return
	}
	select {
	case n.outbox <- outgoing{endpoint: endpoint, bz: bz}:
	default:
		n.log.Warn(ErrOutboxFull(endpoint).Error())
	}
}

// call() runs fn on the event loop and waits for it; before Start() it runs in place
func (n *Node) call(fn func()) lib.ErrorI {
	if n.ctx.Err() != nil {
		return ErrNodeStopped()
	}
	if !n.running.Load() {
		fn()
		return nil
	}
	done := make(chan struct{})
	select {
	case n.calls <- func() { fn(); close(done) }:
	case <-n.ctx.Done():
		return ErrNodeStopped()
	}
	select {
	case <-done:
		return nil
	case <-n.ctx.Done():
		return ErrNodeStopped()
	}
}

// emit() publishes a notification without ever blocking the loop
func (n *Node) emit(e Event) {
	select {
	case n.events <- e:
	default:
		n.log.Warnf("Event queue full, dropping %s", e.Kind)
	}
}

// openDriver() starts or moves the consensus driver to a group
func (n *Node) openDriver(group string, next uint64) {
	elders := section.BLSKeys(n.section.Elders())
	engine := n.engines(group, next, n.id.BLSKey, elders, n.broadcastConsensus)
	if n.driver == nil {
		n.driver = consensus.NewDriver(n.config.ConsensusConfig, engine, group, next, elders, n.metrics, n.log)
	} else {
		n.driver.Reset(engine, group, next, elders)
	}
	n.engine, n.group, n.retry, n.retryAt = engine, group, nil, time.Time{}
	n.log.Infof("Agreeing in group %s from sequence %d", group, next)
}

// closeDriver() leaves the consensus group
func (n *Node) closeDriver() {
	if n.driver == nil {
		return
	}
	n.driver.Close()
	n.driver, n.engine, n.group = nil, nil, ""
}

// persist() saves the section state, and the key share and group when they changed
func (n *Node) persist(keysChanged bool) {
	if n.db == nil {
		return
	}
	if err := n.db.SaveSection(n.section.Snapshot()); err != nil {
		n.log.Errorf("Saving the section failed: %s", err.Error())
	}
	if !keysChanged {
		return
	}
	if err := n.db.SaveKeyShare(n.keys.share); err != nil {
		n.log.Errorf("Saving the key share failed: %s", err.Error())
	}
	if err := n.db.SaveGroup(n.group); err != nil {
		n.log.Errorf("Saving the consensus group failed: %s", err.Error())
	}
}

// rename() installs a new identity
func (n *Node) rename(id *lib.Identity) {
	n.id = id
	n.log = lib.Named(n.baseLog, fmt.Sprintf("Node(%s)", id.Name))
}

// halt() stops routing for good after the section chain lost its integrity
func (n *Node) halt(err lib.ErrorI) {
	n.halted = true
	n.router.Halt()
	n.local = nil
	n.metrics.UpdateNodeMetrics(true, int(n.section.State()))
	n.log.Errorf("Halting: %s", err.Error())
	n.emit(Event{Kind: EventHalted, Err: err})
}

func (n *Node) isMember() bool {
	s := n.section.State()
	return s == section.StateAdult || s == section.StateElder
}

func (n *Node) isElder() bool { return n.section.State() == section.StateElder }

// selfMember() describes this node as a section member
func (n *Node) selfMember(age uint32) *section.Member {
	return &section.Member{
		Name:      n.id.Name,
		PublicKey: n.id.PublicKey(),
		BLSKey:    n.id.BLSPublicKey(),
		Endpoint:  n.transport.Endpoint(),
		Age:       age,
	}
}

// source() is the author of node signed messages
func (n *Node) source() message.Source {
	return message.Source{Name: n.id.Name, Prefix: n.section.Prefix()}
}

// sectionSource() is the author of section signed messages
func (n *Node) sectionSource() message.Source {
	return message.Source{Prefix: n.section.Prefix(), Section: true}
}

// wrap() signs a message as this node
func (n *Node) wrap(variant message.Variant, payload []byte, dst message.Destination) (*message.RoutingMessage, lib.ErrorI) {
	return message.Wrap(variant, payload, n.source(), dst, chain.Proof{}, n.id.PrivateKey)
}
