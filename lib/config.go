package lib

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/units"
)

/* This file implements logic for 'user controlled' global configurations of each module of the node */

const (
	// FILE NAMES in the 'data directory'
	ConfigFilePath = "config.json"   // the file path for the node configuration
	NodeKeyPath    = "node_key.json" // the file path for the node's private identity key
	GenesisKeyPath = "genesis.json"  // the file path for the network genesis section key
)

// Config is the structure of the user configuration options for a routing node
type Config struct {
	MainConfig          // main options spanning over all modules
	RPCConfig           // status rpc options
	StoreConfig         // persistence options
	P2PConfig           // peer-to-peer options
	ConsensusConfig     // consensus driver options
	SectionConfig       // churn and topology policy
	RoutingConfig       // message router options
	ResourceProofConfig // admission proof-of-work policy
	MetricsConfig       // telemetry options
}

// DefaultConfig() returns a Config with developer set options
func DefaultConfig() Config {
	return Config{
		MainConfig:          DefaultMainConfig(),
		RPCConfig:           DefaultRPCConfig(),
		StoreConfig:         DefaultStoreConfig(),
		P2PConfig:           DefaultP2PConfig(),
		ConsensusConfig:     DefaultConsensusConfig(),
		SectionConfig:       DefaultSectionConfig(),
		RoutingConfig:       DefaultRoutingConfig(),
		ResourceProofConfig: DefaultResourceProofConfig(),
		MetricsConfig:       DefaultMetricsConfig(),
	}
}

// MAIN CONFIG BELOW

type MainConfig struct {
	LogLevel  string `json:"logLevel"`  // any level includes the levels above it: debug < info < warning < error
	NetworkID uint64 `json:"networkID"` // the identifier of the overlay network
}

// DefaultMainConfig() sets log level to 'info'
func DefaultMainConfig() MainConfig {
	return MainConfig{
		LogLevel:  "info", // everything but debug is the default
		NetworkID: 1,      // the default network
	}
}

// GetLogLevel() parses the log string in the config file into a LogLevel Enum
func (m *MainConfig) GetLogLevel() int32 {
	switch {
	case strings.Contains(strings.ToLower(m.LogLevel), "deb"):
		return DebugLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "inf"):
		return InfoLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "war"):
		return WarnLevel
	case strings.Contains(strings.ToLower(m.LogLevel), "err"):
		return ErrorLevel
	default:
		return DebugLevel
	}
}

// RPC CONFIG BELOW

type RPCConfig struct {
	RPCPort  string `json:"rpcPort"`  // the port where the status rpc server is hosted
	RPCUrl   string `json:"rpcURL"`   // the url where the status rpc server is hosted
	TimeoutS int    `json:"timeoutS"` // the rpc request timeout in seconds
}

// DefaultRPCConfig() serves the status rpc on localhost:50002
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		RPCPort:  "50002",                  // the rpc is served on localhost:50002
		RPCUrl:   "http://localhost:50002", // use a local rpc by default
		TimeoutS: 3,                        // the rpc timeout is 3 seconds
	}
}

// CONSENSUS CONFIG BELOW

// ConsensusConfig defines how the consensus driver polls and recovers the pluggable engine
type ConsensusConfig struct {
	TickMS         int `json:"tickMS"`         // how often (in milliseconds) the event loop polls the engine and sweeps timers
	StallRounds    int `json:"stallRounds"`    // polls without progress (while proposals are pending) before StalledConsensus is surfaced
	RetryInitialMS int `json:"retryInitialMS"` // first backoff interval (in milliseconds) after a stall
	RetryMaxMS     int `json:"retryMaxMS"`     // cap of the backoff interval (in milliseconds)
}

// DefaultConsensusConfig() returns the developer recommended driver options
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		TickMS:         100,   // 1/10 of a second
		StallRounds:    50,    // 5 seconds at the default tick
		RetryInitialMS: 500,   // 1/2 second
		RetryMaxMS:     30000, // 30 seconds
	}
}

// Tick() returns the poll interval as a duration
func (c *ConsensusConfig) Tick() time.Duration { return time.Duration(c.TickMS) * time.Millisecond }

// SECTION CONFIG BELOW

// SectionConfig is the churn and topology policy of a section
// NOTES:
// - a split is only proposed if both halves would still reach MergeThreshold members
// - SplitThreshold must be at least twice the MergeThreshold to avoid split/merge oscillation
type SectionConfig struct {
	ElderSize                int `json:"elderSize"`                // number of members holding voting/signing authority
	SplitThreshold           int `json:"splitThreshold"`           // a section splits when its member count exceeds this bound
	MergeThreshold           int `json:"mergeThreshold"`           // a section merges with its sibling when its member count falls below this bound
	SuspicionTimeoutMS       int `json:"suspicionTimeoutMS"`       // silence (in milliseconds) before an elder proposes NodeLeft for a member
	RelocationIntervalEvents int `json:"relocationIntervalEvents"` // a relocation is proposed every N agreed churn events (0 disables)
	RelocationImbalance      int `json:"relocationImbalance"`      // relocate immediately when a neighbour is this many members smaller (0 disables)
	RelocationTimeoutMS      int `json:"relocationTimeoutMS"`      // validity window (in milliseconds) for a relocated node to rejoin at its destination
	JoinTimeoutMS            int `json:"joinTimeoutMS"`            // how long (in milliseconds) a joining node waits for approval before retrying
	ExtraSplitBits           int `json:"extraSplitBits"`           // extra prefix bits a relocated name is drawn within, so it stays valid across splits
}

// DefaultSectionConfig() returns the developer recommended churn policy
func DefaultSectionConfig() SectionConfig {
	return SectionConfig{
		ElderSize:                7,      // 7 elders tolerate 2 byzantine
		SplitThreshold:           8,      // split above 8 members
		MergeThreshold:           3,      // merge below 3 members
		SuspicionTimeoutMS:       30000,  // 30 seconds
		RelocationIntervalEvents: 16,     // relocate every 16 churn events
		RelocationImbalance:      4,      // relocate on a 4 member imbalance
		RelocationTimeoutMS:      120000, // 2 minutes
		JoinTimeoutMS:            20000,  // 20 seconds
		ExtraSplitBits:           3,      // relocated names are valid 3 splits deep
	}
}

// ROUTING CONFIG BELOW

// RoutingConfig are the message router options
type RoutingConfig struct {
	FanOut                   int    `json:"fanOut"`                   // number of next-hop peers a relayed message is sent to
	IncomingDedupExpiryS     int    `json:"incomingDedupExpiryS"`     // how long (in seconds) a seen message id is remembered
	OutgoingDedupExpiryS     int    `json:"outgoingDedupExpiryS"`     // how long (in seconds) a (message, peer) send is remembered
	DedupCacheSize           int    `json:"dedupCacheSize"`           // max entries of each dedup cache
	MaxMessageBytes          uint64 `json:"maxMessageBytes"`          // max size of a serialized routing message
	VerifyWorkers            int    `json:"verifyWorkers"`            // parallel signature verification workers
	SignatureAccumulationS   int    `json:"signatureAccumulationS"`   // how long (in seconds) signature shares of a section message are kept
	SignatureAccumulatorSize int    `json:"signatureAccumulatorSize"` // max pending section messages awaiting shares
}

// DefaultRoutingConfig() returns the developer recommended router options
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		FanOut:                   3,                     // relay to the 3 closest elders
		IncomingDedupExpiryS:     20 * 60,               // 20 minutes
		OutgoingDedupExpiryS:     10 * 60,               // 10 minutes
		DedupCacheSize:           100000,                // 100K entries
		MaxMessageBytes:          uint64(2 * units.MiB), // 2 MiB
		VerifyWorkers:            4,                     // 4 parallel verifiers
		SignatureAccumulationS:   30,                    // 30 seconds
		SignatureAccumulatorSize: 10000,                 // 10K pending
	}
}

// RESOURCE PROOF CONFIG BELOW

// ResourceProofConfig is the admission proof-of-work policy
type ResourceProofConfig struct {
	BaseDifficulty           uint8  `json:"baseDifficulty"`           // leading zero bits required of an empty section
	MembersPerDifficultyStep int    `json:"membersPerDifficultyStep"` // every N members raise the difficulty by one bit
	JoinsPerDifficultyStep   int    `json:"joinsPerDifficultyStep"`   // every N recent joins raise the difficulty by one bit
	JoinRateWindowS          int    `json:"joinRateWindowS"`          // window (in seconds) that counts as 'recent' for joins
	MaxDifficulty            uint8  `json:"maxDifficulty"`            // upper bound on the difficulty
	DataSize                 uint64 `json:"dataSize"`                 // bytes of seeded data the candidate must hash over
	ChallengeValidityS       int    `json:"challengeValidityS"`       // how long (in seconds) a challenge may be answered
	MaxFailures              int    `json:"maxFailures"`              // failed responses before a candidate is blacklisted
	BlacklistSize            int    `json:"blacklistSize"`            // max entries of the local blacklist
	BlacklistTTLS            int    `json:"blacklistTTLS"`            // how long (in seconds) a candidate stays blacklisted
}

// DefaultResourceProofConfig() returns the developer recommended admission policy
func DefaultResourceProofConfig() ResourceProofConfig {
	return ResourceProofConfig{
		BaseDifficulty:           12,                     // ~4K hashes
		MembersPerDifficultyStep: 8,                      // +1 bit per 8 members
		JoinsPerDifficultyStep:   4,                      // +1 bit per 4 recent joins
		JoinRateWindowS:          10 * 60,                // 10 minutes
		MaxDifficulty:            24,                     // ~16M hashes
		DataSize:                 uint64(64 * units.KiB), // 64 KiB
		ChallengeValidityS:       5 * 60,                 // 5 minutes
		MaxFailures:              3,                      // 3 strikes
		BlacklistSize:            10000,                  // 10K entries
		BlacklistTTLS:            60 * 60,                // 1 hour
	}
}

// P2P CONFIG BELOW

// P2PConfig defines the transport listen address and limits
type P2PConfig struct {
	ListenAddress   string   `json:"listenAddress"`   // listen for incoming connections
	ExternalAddress string   `json:"externalAddress"` // advertise for external dialing
	BootstrapPeers  []string `json:"bootstrapPeers"`  // endpoints contacted when joining the network
	MaxFrameBytes   uint64   `json:"maxFrameBytes"`   // max bytes of one transport frame
	SendRateBPS     int64    `json:"sendRateBPS"`     // per connection send limit in bytes per second
	RecvRateBPS     int64    `json:"recvRateBPS"`     // per connection receive limit in bytes per second
	DialTimeoutS    int      `json:"dialTimeoutS"`    // dial timeout in seconds
	InboxSize       int      `json:"inboxSize"`       // buffered inbound frames before back-pressure
}

// DefaultP2PConfig() returns the developer recommended transport options
func DefaultP2PConfig() P2PConfig {
	return P2PConfig{
		ListenAddress:   "0.0.0.0:9001",        // default udp address for quic
		ExternalAddress: "",                    // should be populated by the user
		MaxFrameBytes:   uint64(4 * units.MiB), // 4 MiB
		SendRateBPS:     int64(10 * units.MB),  // 10 MB/s
		RecvRateBPS:     int64(10 * units.MB),  // 10 MB/s
		DialTimeoutS:    5,                     // 5 seconds
		InboxSize:       1000,                  // 1K frames
	}
}

// STORE CONFIG BELOW

// StoreConfig is user configurations for the key value database
type StoreConfig struct {
	DataDirPath string `json:"dataDirPath"` // path of the designated folder where the application stores its data
	DBName      string `json:"dbName"`      // name of the database
	InMemory    bool   `json:"inMemory"`    // non-disk database, only for testing
}

// DefaultDataDirPath() is $USERHOME/.routing
func DefaultDataDirPath() string {
	// get the user home
	home, err := os.UserHomeDir()
	// if unable to get the user home
	if err != nil {
		// fatal error
		panic(err)
	}
	// exit with full default data directory path
	return filepath.Join(home, ".routing")
}

// DefaultStoreConfig() returns the developer recommended store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		DataDirPath: DefaultDataDirPath(), // use the default data dir path
		DBName:      "routing",            // 'routing' database name
		InMemory:    false,                // persist to disk, not memory
	}
}

// MetricsConfig represents the configuration for the metrics server
type MetricsConfig struct {
	Enabled           bool   `json:"enabled"`           // if the metrics are enabled
	PrometheusAddress string `json:"prometheusAddress"` // the address of the server
}

// DefaultMetricsConfig() returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:           true,           // enabled by default
		PrometheusAddress: "0.0.0.0:9090", // the default prometheus address
	}
}

// WriteToFile() saves the Config object to a JSON file
func (c Config) WriteToFile(filepath string) error {
	// convert the config to indented 'pretty' json bytes
	jsonBytes, err := json.MarshalIndent(c, "", "  ")
	// if an error occurred during the conversion
	if err != nil {
		// exit with error
		return err
	}
	// write the config.json file to the data directory
	return os.WriteFile(filepath, jsonBytes, os.ModePerm)
}

// NewConfigFromFile() populates a Config object from a JSON file
func NewConfigFromFile(filepath string) (Config, error) {
	// read the file into bytes using
	fileBytes, err := os.ReadFile(filepath)
	// if an error occurred
	if err != nil {
		// exit with error
		return Config{}, err
	}
	// define the default config to fill in any blanks in the file
	c := DefaultConfig()
	// populate the default config with the file bytes
	if err = json.Unmarshal(fileBytes, &c); err != nil {
		// exit with error
		return Config{}, err
	}
	// exit
	return c, nil
}
