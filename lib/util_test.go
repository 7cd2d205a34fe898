package lib

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeDuplicator(t *testing.T) {
	d := NewDeDuplicator[string]()
	require.False(t, d.Found("a"))
	require.True(t, d.Found("a"))
	require.False(t, d.Found("b"))
	require.Equal(t, 2, d.Len())
	d.Delete("a")
	require.False(t, d.Found("a"))
}

func TestHexBytesJSON(t *testing.T) {
	h := HexBytes{0xde, 0xad}
	bz, err := h.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"dead"`, string(bz))
	var got HexBytes
	require.NoError(t, got.UnmarshalJSON(bz))
	require.Equal(t, h, got)
}

func TestStringToBytes(t *testing.T) {
	tests := []struct {
		name     string
		detail   string
		input    string
		expected []byte
		err      bool
	}{
		{
			name:     "round trip",
			detail:   "a string produced by BytesToString decodes back to the same bytes",
			input:    BytesToString([]byte{0x01, 0xab}),
			expected: []byte{0x01, 0xab},
		},
		{
			name:   "not hex",
			detail: "a non hex string is refused with the main module code",
			input:  "zz",
			err:    true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := StringToBytes(test.input)
			if test.err {
				require.True(t, Is(err, MainModule, CodeStringToBytes))
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.expected, got)
		})
	}
}

func TestJSONFile(t *testing.T) {
	dir := t.TempDir()
	type obj struct {
		A int `json:"a"`
	}
	require.NoError(t, SaveJSONToFile(obj{A: 5}, dir, "o.json"))
	got := new(obj)
	require.NoError(t, NewJSONFromFile(got, dir, "o.json"))
	require.Equal(t, 5, got.A)
	require.Error(t, NewJSONFromFile(got, dir, "missing.json"))
	_, e := os.Stat(dir)
	require.NoError(t, e)
}

func TestIdentity(t *testing.T) {
	prefix := MustParsePrefix("101")
	id, err := NewIdentityWithin(prefix)
	require.NoError(t, err)
	require.True(t, prefix.Matches(id.Name))
	require.Equal(t, NameFromPublicKey(id.PublicKey()), id.Name)
	// json round trip re-derives the same name
	bz, e := id.MarshalJSON()
	require.NoError(t, e)
	got := new(Identity)
	require.NoError(t, got.UnmarshalJSON(bz))
	require.Equal(t, id.Name, got.Name)
	require.Equal(t, id.BLSPublicKey(), got.BLSPublicKey())
	require.Equal(t, id.Sign([]byte("m")), got.Sign([]byte("m")))
}

func TestCatchPanic(t *testing.T) {
	require.NotPanics(t, func() {
		defer CatchPanic(NewNullLogger())
		panic("boom")
	})
}
