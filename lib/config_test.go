package lib

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	// calculate expected
	expected := Config{
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
	// execute the function call
	got := DefaultConfig()
	// compare got vs expected
	require.Equal(t, expected, got)
	// split and merge bounds must not oscillate
	require.GreaterOrEqual(t, got.SplitThreshold, 2*got.MergeThreshold)
}

func TestFileConfig(t *testing.T) {
	filePath := "./test_config"
	// define a variable to test upon
	config := DefaultConfig()
	config.SplitThreshold = 12
	// write to file
	require.NoError(t, config.WriteToFile(filePath))
	defer os.RemoveAll(filePath)
	// read from file
	got, err := NewConfigFromFile(filePath)
	require.NoError(t, err)
	// compare got vs expected
	require.Equal(t, config, got)
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected int32
	}{
		{name: "debug", level: "debug", expected: DebugLevel},
		{name: "info", level: "INFO", expected: InfoLevel},
		{name: "warn", level: "warning", expected: WarnLevel},
		{name: "error", level: "error", expected: ErrorLevel},
		{name: "unknown", level: "?", expected: DebugLevel},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m := MainConfig{LogLevel: test.level}
			require.Equal(t, test.expected, m.GetLogLevel())
		})
	}
}
