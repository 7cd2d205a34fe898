package lib

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultLogger(t *testing.T) {
	// pre-define expected
	expected := NewLogger(LoggerConfig{
		Level: DebugLevel,
		Out:   os.Stdout,
	})
	// execute the function call
	got := NewDefaultLogger()
	// compare got vs expected
	require.Equal(t, got, expected)
}

func TestNewNullLogger(t *testing.T) {
	// pre-define expected
	expected := NewLogger(LoggerConfig{
		Level: DebugLevel,
		Out:   io.Discard,
	})
	// execute the function call
	got := NewNullLogger()
	// compare got vs expected
	require.Equal(t, got, expected)
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		level    int32
		log      func(l LoggerI)
		expected string
		empty    bool
	}{
		{
			name:     "info at info",
			detail:   "an info line is written when the level is info",
			level:    InfoLevel,
			log:      func(l LoggerI) { l.Info("hello") },
			expected: "INFO: hello",
		},
		{
			name:   "debug at info",
			detail: "a debug line is filtered when the level is info",
			level:  InfoLevel,
			log:    func(l LoggerI) { l.Debugf("hello %d", 1) },
			empty:  true,
		},
		{
			name:     "error at warn",
			detail:   "an error line is written when the level is warn",
			level:    WarnLevel,
			log:      func(l LoggerI) { l.Errorf("boom %s", "x") },
			expected: "ERROR: boom x",
		},
		{
			name:     "verbatim warn",
			detail:   "a plain warn line keeps its percent verbs unformatted",
			level:    WarnLevel,
			log:      func(l LoggerI) { l.Warn("outbox full for 10.0.0.1:%d") },
			expected: "WARN: outbox full for 10.0.0.1:%d",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			buf := bytes.NewBuffer(nil)
			test.log(NewLogger(LoggerConfig{Level: test.level, Out: buf}))
			if test.empty {
				require.Empty(t, buf.String())
				return
			}
			require.Contains(t, buf.String(), test.expected)
		})
	}
}

func TestNamedLogger(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	l := Named(NewLogger(LoggerConfig{Level: DebugLevel, Out: buf}), "Node(abcd..)")
	l.Infof("joined %s", "0")
	require.Contains(t, buf.String(), "INFO: Node(abcd..) joined 0")
	// renaming does not stack labels
	buf.Reset()
	Named(l, "Node(ef01..)").Warn("x")
	require.Contains(t, buf.String(), "WARN: Node(ef01..) x")
	require.NotContains(t, buf.String(), "abcd")
}
