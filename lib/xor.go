package lib

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/bits"
	"strings"
)

/*
	This file implements the XOR address space of the overlay.
	An XorName is a 256 bit coordinate, a Prefix is the high order bits shared by every name a section is responsible for.
	Two prefixes produced by splitting and merging are always either disjoint or one is an extension of the other.
*/

const (
	XorNameLen  = 32
	XorNameBits = XorNameLen * 8
)

// XorName is a coordinate in the XOR metric space (NodeIds are XorNames)
type XorName [XorNameLen]byte

// NewXorName() converts a byte slice into an XorName
func NewXorName(b []byte) (XorName, ErrorI) {
	var n XorName
	if len(b) != XorNameLen {
		return n, ErrInvalidName()
	}
	copy(n[:], b)
	return n, nil
}

// RandomXorName() generates a uniformly random name
func RandomXorName() XorName {
	var n XorName
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		panic(err)
	}
	return n
}

// Bit() returns the i-th bit counting from the most significant bit
func (n XorName) Bit(i int) bool {
	return n[i/8]&(0x80>>uint(i%8)) != 0
}

// WithBit() returns a copy of the name with the i-th bit set to the value
func (n XorName) WithBit(i int, value bool) XorName {
	if value {
		n[i/8] |= 0x80 >> uint(i%8)
	} else {
		n[i/8] &^= 0x80 >> uint(i%8)
	}
	return n
}

// FlipBit() returns a copy of the name with the i-th bit inverted
func (n XorName) FlipBit(i int) XorName { return n.WithBit(i, !n.Bit(i)) }

// Xor() returns the bitwise distance between two names
func (n XorName) Xor(o XorName) (d XorName) {
	for i := range n {
		d[i] = n[i] ^ o[i]
	}
	return
}

// CommonPrefixLen() returns the number of leading bits the two names share
func (n XorName) CommonPrefixLen(o XorName) int {
	for i := range n {
		if x := n[i] ^ o[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return XorNameBits
}

// CmpDistance() compares the distance of a and b to n: -1 if a is closer, 1 if b is closer, 0 if equal
func (n XorName) CmpDistance(a, b XorName) int {
	for i := range n {
		da, db := a[i]^n[i], b[i]^n[i]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Closer() returns true if a is strictly closer to n than b
func (n XorName) Closer(a, b XorName) bool { return n.CmpDistance(a, b) < 0 }

// Less() orders names numerically
func (n XorName) Less(o XorName) bool { return bytes.Compare(n[:], o[:]) < 0 }

// Bytes() returns a copy of the name as a byte slice
func (n XorName) Bytes() []byte { return append([]byte(nil), n[:]...) }

// IsZero() returns true if the name was never set
func (n XorName) IsZero() bool { return n == XorName{} }

// Hex() returns the full hex encoding of the name
func (n XorName) Hex() string { return hex.EncodeToString(n[:]) }

// String() returns an abbreviated form for logging
func (n XorName) String() string { return hex.EncodeToString(n[:3]) + ".." }

// MarshalJSON() encodes the name as hex
func (n XorName) MarshalJSON() ([]byte, error) { return json.Marshal(n.Hex()) }

// UnmarshalJSON() decodes a hex name
func (n *XorName) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	bz, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	name, e := NewXorName(bz)
	if e != nil {
		return e
	}
	*n = name
	return nil
}

// Prefix is the set of names whose first BitCount bits equal those of Name
type Prefix struct {
	BitCount int     // number of significant bits
	Name     XorName // bits beyond BitCount are always zero
}

// NewPrefix() returns the prefix of the first bitCount bits of name
func NewPrefix(name XorName, bitCount int) Prefix {
	if bitCount > XorNameBits {
		bitCount = XorNameBits
	}
	if bitCount < 0 {
		bitCount = 0
	}
	for i := bitCount; i < XorNameBits; i++ {
		name = name.WithBit(i, false)
	}
	return Prefix{BitCount: bitCount, Name: name}
}

// ParsePrefix() parses a string of '0' and '1' characters, e.g. "01"
func ParsePrefix(s string) (Prefix, ErrorI) {
	var name XorName
	if len(s) > XorNameBits {
		return Prefix{}, ErrInvalidPrefix(s)
	}
	for i, c := range s {
		switch c {
		case '0':
		case '1':
			name = name.WithBit(i, true)
		default:
			return Prefix{}, ErrInvalidPrefix(s)
		}
	}
	return Prefix{BitCount: len(s), Name: name}, nil
}

// MustParsePrefix() is ParsePrefix() for literals
func MustParsePrefix(s string) Prefix {
	p, err := ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Matches() returns true if the name lies within the prefix
func (p Prefix) Matches(name XorName) bool {
	return p.Name.CommonPrefixLen(name) >= p.BitCount
}

// IsCompatible() returns true if one prefix is equal to or an extension of the other (they overlap)
func (p Prefix) IsCompatible(o Prefix) bool {
	return p.Name.CommonPrefixLen(o.Name) >= min(p.BitCount, o.BitCount)
}

// IsExtensionOf() returns true if p is strictly longer than o and lies within it
func (p Prefix) IsExtensionOf(o Prefix) bool {
	return p.BitCount > o.BitCount && o.Matches(p.Name)
}

// Pushed() returns the prefix extended by one bit
func (p Prefix) Pushed(bit bool) Prefix {
	if p.BitCount >= XorNameBits {
		return p
	}
	return Prefix{BitCount: p.BitCount + 1, Name: p.Name.WithBit(p.BitCount, bit)}
}

// Popped() returns the prefix shortened by one bit
func (p Prefix) Popped() Prefix {
	if p.BitCount == 0 {
		return p
	}
	return NewPrefix(p.Name, p.BitCount-1)
}

// Sibling() returns the prefix differing from p only in its last bit
func (p Prefix) Sibling() Prefix {
	if p.BitCount == 0 {
		return p
	}
	return Prefix{BitCount: p.BitCount, Name: p.Name.FlipBit(p.BitCount - 1)}
}

// LastBit() returns the last significant bit of the prefix
func (p Prefix) LastBit() bool {
	if p.BitCount == 0 {
		return false
	}
	return p.Name.Bit(p.BitCount - 1)
}

// IsNeighbour() returns true if the two prefixes differ in exactly one bit within their common length
func (p Prefix) IsNeighbour(o Prefix) bool {
	i := p.Name.CommonPrefixLen(o.Name)
	m := min(p.BitCount, o.BitCount)
	if i >= m {
		return false
	}
	return p.Name.FlipBit(i).CommonPrefixLen(o.Name) >= m
}

// CommonPrefixLen() returns how many leading bits of the name match the prefix (capped at BitCount)
func (p Prefix) CommonPrefixLen(name XorName) int {
	return min(p.Name.CommonPrefixLen(name), p.BitCount)
}

// Lower() returns the lowest name in the prefix
func (p Prefix) Lower() XorName { return p.Name }

// RandomName() returns a uniformly random name within the prefix
func (p Prefix) RandomName() XorName { return p.Substituted(RandomXorName()) }

// Substituted() returns the name with its first BitCount bits replaced by those of the prefix
func (p Prefix) Substituted(name XorName) XorName {
	for i := 0; i < p.BitCount; i++ {
		name = name.WithBit(i, p.Name.Bit(i))
	}
	return name
}

// Equals() compares two prefixes
func (p Prefix) Equals(o Prefix) bool { return p.BitCount == o.BitCount && p.Name == o.Name }

// Less() orders prefixes by name then by length, giving a deterministic iteration order
func (p Prefix) Less(o Prefix) bool {
	if c := bytes.Compare(p.Name[:], o.Name[:]); c != 0 {
		return c < 0
	}
	return p.BitCount < o.BitCount
}

// String() returns the prefix as a bit string; the empty prefix is ""
func (p Prefix) String() string {
	var sb strings.Builder
	for i := 0; i < p.BitCount; i++ {
		if p.Name.Bit(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// Display() returns the prefix for logging, showing the empty prefix as "()"
func (p Prefix) Display() string { return "(" + p.String() + ")" }

// Bytes() encodes the prefix as a 2 byte bit count followed by the significant bytes of its name
func (p Prefix) Bytes() []byte {
	n := (p.BitCount + 7) / 8
	out := make([]byte, 2+n)
	binary.BigEndian.PutUint16(out, uint16(p.BitCount))
	copy(out[2:], p.Name[:n])
	return out
}

// PrefixFromBytes() decodes a prefix encoded by Bytes(), refusing non canonical encodings
func PrefixFromBytes(bz []byte) (Prefix, ErrorI) {
	if len(bz) < 2 {
		return Prefix{}, ErrInvalidPrefix(hex.EncodeToString(bz))
	}
	bitCount := int(binary.BigEndian.Uint16(bz))
	if bitCount > XorNameBits || len(bz) != 2+(bitCount+7)/8 {
		return Prefix{}, ErrInvalidPrefix(hex.EncodeToString(bz))
	}
	var name XorName
	copy(name[:], bz[2:])
	p := NewPrefix(name, bitCount)
	if p.Name != name {
		return Prefix{}, ErrInvalidPrefix(hex.EncodeToString(bz))
	}
	return p, nil
}

// MarshalJSON() encodes the prefix as its bit string
func (p Prefix) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// UnmarshalJSON() decodes a bit string prefix
func (p *Prefix) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParsePrefix(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
