package lib

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

/* This file implements dev-ops telemetry for the node in the form of prometheus metrics */

const metricsPattern = "/metrics"

// Metrics represents a server that exposes Prometheus metrics
type Metrics struct {
	server   *http.Server         // the http prometheus server
	config   MetricsConfig        // the configuration
	registry *prometheus.Registry // the per-node registry, so several nodes may share a process
	log      LoggerI              // the logger

	NodeMetrics          // general telemetry about the node
	PeerMetrics          // transport telemetry
	SectionMetrics       // churn and topology telemetry
	ConsensusMetrics     // consensus driver telemetry
	RoutingMetrics       // message router telemetry
	ResourceProofMetrics // admission telemetry
}

// NodeMetrics represents general telemetry for the node's health
type NodeMetrics struct {
	NodeStatus prometheus.Gauge // is the node alive?
	Halted     prometheus.Gauge // has the node halted routing on a chain integrity failure?
	State      prometheus.Gauge // the node's own membership state (0: Joining, 1: Adult, 2: Elder, 3: Relocating)
}

// PeerMetrics represents the telemetry for the P2P module
type PeerMetrics struct {
	TotalPeers    prometheus.Gauge   // number of open connections
	BytesSent     prometheus.Counter // bytes handed to the transport
	BytesReceived prometheus.Counter // bytes received from the transport
}

// SectionMetrics represents the telemetry of the node's own section
type SectionMetrics struct {
	Members      prometheus.Gauge   // how many members does the section have?
	Elders       prometheus.Gauge   // how many elders does the section have?
	PrefixLength prometheus.Gauge   // how many bits long is the section prefix?
	ChainLength  prometheus.Gauge   // how many links does the section chain have?
	Neighbours   prometheus.Gauge   // how many neighbour sections are known?
	Splits       prometheus.Counter // how many splits were applied?
	Merges       prometheus.Counter // how many merges were applied?
	Relocations  prometheus.Counter // how many relocations were applied?
}

// ConsensusMetrics represents the telemetry of the consensus driver
type ConsensusMetrics struct {
	Proposed prometheus.Counter // how many observations were proposed?
	Agreed   prometheus.Counter // how many agreed events were applied?
	Stalled  prometheus.Counter // how many times did the engine stall?
}

// RoutingMetrics represents the telemetry of the message router
type RoutingMetrics struct {
	Decisions *prometheus.CounterVec // route() outcomes by action and reason
}

// ResourceProofMetrics represents the telemetry of the admission gate
type ResourceProofMetrics struct {
	ChallengesIssued prometheus.Counter // how many challenges were issued?
	ProofsAccepted   prometheus.Counter // how many responses were accepted?
	ProofsRejected   prometheus.Counter // how many responses were rejected?
}

// NewMetricsServer() creates a new telemetry server
func NewMetricsServer(config MetricsConfig, log LoggerI) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	mux := http.NewServeMux()
	mux.Handle(metricsPattern, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return &Metrics{
		server:   &http.Server{Addr: config.PrometheusAddress, Handler: mux},
		config:   config,
		registry: registry,
		log:      log,
		NodeMetrics: NodeMetrics{
			NodeStatus: factory.NewGauge(prometheus.GaugeOpts{
				Name: "routing_node_status",
				Help: "The node is alive and processing events",
			}),
			Halted: factory.NewGauge(prometheus.GaugeOpts{
				Name: "routing_node_halted",
				Help: "Routing halted on a chain integrity failure (1 for halted, 0 for running)",
			}),
			State: factory.NewGauge(prometheus.GaugeOpts{
				Name: "routing_node_state",
				Help: "Node membership state (0: Joining, 1: Adult, 2: Elder, 3: Relocating)",
			}),
		},
		PeerMetrics: PeerMetrics{
			TotalPeers: factory.NewGauge(prometheus.GaugeOpts{
				Name: "routing_peer_total",
				Help: "Total number of open transport connections",
			}),
			BytesSent: factory.NewCounter(prometheus.CounterOpts{
				Name: "routing_peer_bytes_sent",
				Help: "Bytes handed to the transport",
			}),
			BytesReceived: factory.NewCounter(prometheus.CounterOpts{
				Name: "routing_peer_bytes_received",
				Help: "Bytes received from the transport",
			}),
		},
		SectionMetrics: SectionMetrics{
			Members: factory.NewGauge(prometheus.GaugeOpts{
				Name: "routing_section_members",
				Help: "Number of members in the node's own section",
			}),
			Elders: factory.NewGauge(prometheus.GaugeOpts{
				Name: "routing_section_elders",
				Help: "Number of elders in the node's own section",
			}),
			PrefixLength: factory.NewGauge(prometheus.GaugeOpts{
				Name: "routing_section_prefix_length",
				Help: "Bit length of the node's own section prefix",
			}),
			ChainLength: factory.NewGauge(prometheus.GaugeOpts{
				Name: "routing_section_chain_length",
				Help: "Number of links in the section chain",
			}),
			Neighbours: factory.NewGauge(prometheus.GaugeOpts{
				Name: "routing_section_neighbours",
				Help: "Number of known neighbour sections",
			}),
			Splits: factory.NewCounter(prometheus.CounterOpts{
				Name: "routing_section_splits",
				Help: "Total number of applied section splits",
			}),
			Merges: factory.NewCounter(prometheus.CounterOpts{
				Name: "routing_section_merges",
				Help: "Total number of applied section merges",
			}),
			Relocations: factory.NewCounter(prometheus.CounterOpts{
				Name: "routing_section_relocations",
				Help: "Total number of applied relocations",
			}),
		},
		ConsensusMetrics: ConsensusMetrics{
			Proposed: factory.NewCounter(prometheus.CounterOpts{
				Name: "routing_consensus_proposed",
				Help: "Total number of proposed observations",
			}),
			Agreed: factory.NewCounter(prometheus.CounterOpts{
				Name: "routing_consensus_agreed",
				Help: "Total number of applied agreed events",
			}),
			Stalled: factory.NewCounter(prometheus.CounterOpts{
				Name: "routing_consensus_stalled",
				Help: "Total number of stalled consensus conditions",
			}),
		},
		RoutingMetrics: RoutingMetrics{
			Decisions: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "routing_decisions",
				Help: "Routing decisions by action and reason",
			}, []string{"action", "reason"}),
		},
		ResourceProofMetrics: ResourceProofMetrics{
			ChallengesIssued: factory.NewCounter(prometheus.CounterOpts{
				Name: "routing_resource_proof_challenges",
				Help: "Total number of issued resource proof challenges",
			}),
			ProofsAccepted: factory.NewCounter(prometheus.CounterOpts{
				Name: "routing_resource_proof_accepted",
				Help: "Total number of accepted resource proofs",
			}),
			ProofsRejected: factory.NewCounter(prometheus.CounterOpts{
				Name: "routing_resource_proof_rejected",
				Help: "Total number of rejected resource proofs",
			}),
		},
	}
}

// Start() starts the telemetry server
func (m *Metrics) Start() {
	// exit if empty
	if m == nil {
		return
	}
	// if the metrics server is enabled
	if m.config.Enabled {
		go func() {
			m.log.Infof("Starting metrics server on %s", m.config.PrometheusAddress)
			// run the server
			if err := m.server.ListenAndServe(); err != nil {
				if err != http.ErrServerClosed {
					m.log.Errorf("Metrics server failed with err: %s", err.Error())
				}
			}
		}()
	}
}

// Stop() gracefully stops the telemetry server
func (m *Metrics) Stop() {
	// exit if empty
	if m == nil {
		return
	}
	// if the metrics server isn't enabled
	if m.config.Enabled {
		// shutdown the server
		if err := m.server.Shutdown(context.Background()); err != nil {
			m.log.Error(err.Error())
		}
	}
}

// Registry() exposes the underlying registry (used by tests to gather values)
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// UpdateNodeMetrics() sets the liveness, halted flag and membership state of the node
func (m *Metrics) UpdateNodeMetrics(halted bool, state int) {
	// exit if empty
	if m == nil {
		return
	}
	// set node is active
	m.NodeStatus.Set(1)
	// update the halted status
	if halted {
		m.Halted.Set(1)
	} else {
		m.Halted.Set(0)
	}
	m.State.Set(float64(state))
}

// UpdatePeerMetrics() is a setter for the peer metrics
func (m *Metrics) UpdatePeerMetrics(total int) {
	// exit if empty
	if m == nil {
		return
	}
	m.TotalPeers.Set(float64(total))
}

// AddTraffic() accounts bytes sent and received through the transport
func (m *Metrics) AddTraffic(sent, received int) {
	// exit if empty
	if m == nil {
		return
	}
	m.BytesSent.Add(float64(sent))
	m.BytesReceived.Add(float64(received))
}

// UpdateSectionMetrics() is a setter for the section gauges
func (m *Metrics) UpdateSectionMetrics(members, elders, prefixLen, chainLen, neighbours int) {
	// exit if empty
	if m == nil {
		return
	}
	m.Members.Set(float64(members))
	m.Elders.Set(float64(elders))
	m.PrefixLength.Set(float64(prefixLen))
	m.ChainLength.Set(float64(chainLen))
	m.Neighbours.Set(float64(neighbours))
}

// IncChurn() counts an applied split, merge or relocation
func (m *Metrics) IncChurn(split, merge, relocation bool) {
	// exit if empty
	if m == nil {
		return
	}
	if split {
		m.Splits.Inc()
	}
	if merge {
		m.Merges.Inc()
	}
	if relocation {
		m.Relocations.Inc()
	}
}

// IncConsensus() counts proposals, agreements and stalls of the driver
func (m *Metrics) IncConsensus(proposed, agreed int, stalled bool) {
	// exit if empty
	if m == nil {
		return
	}
	m.Proposed.Add(float64(proposed))
	m.Agreed.Add(float64(agreed))
	if stalled {
		m.Stalled.Inc()
	}
}

// IncDecision() counts a routing decision
func (m *Metrics) IncDecision(action, reason string) {
	// exit if empty
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(action, reason).Inc()
}

// IncResourceProof() counts issued challenges and the outcome of responses
func (m *Metrics) IncResourceProof(issued, accepted, rejected bool) {
	// exit if empty
	if m == nil {
		return
	}
	if issued {
		m.ChallengesIssued.Inc()
	}
	if accepted {
		m.ProofsAccepted.Inc()
	}
	if rejected {
		m.ProofsRejected.Inc()
	}
}
