package section

import (
	"sort"

	"github.com/canopy-network/routing/lib"
)

// State is this node's position in the membership state machine
type State uint8

const (
	StateJoining    State = iota // admission pending (resource proof and agreement)
	StateAdult                   // a member without voting authority
	StateElder                   // a member holding voting and signing authority
	StateRelocating              // ordered to rejoin in another section
)

// String() returns the state name
func (s State) String() string {
	switch s {
	case StateJoining:
		return "Joining"
	case StateAdult:
		return "Adult"
	case StateElder:
		return "Elder"
	case StateRelocating:
		return "Relocating"
	default:
		return "Unknown"
	}
}

// Member is a node of a section as recorded by agreed churn events
type Member struct {
	Name      lib.XorName  `json:"name"`      // NodeId, the hash of PublicKey
	PublicKey lib.HexBytes `json:"publicKey"` // ed25519 identity key
	BLSKey    lib.HexBytes `json:"blsKey"`    // key used for elder votes
	Endpoint  string       `json:"endpoint"`  // opaque transport endpoint
	Age       uint32       `json:"age"`       // grows by one with every relocation
	Joined    uint64       `json:"joined"`    // sequence number of the event that admitted the member
}

// Bytes() encodes the member deterministically
func (m *Member) Bytes() []byte { return m.encoder().Encoded() }

func (m *Member) encoder() *lib.Encoder {
	return lib.NewEncoder().
		Bytes(1, m.Name[:]).
		Bytes(2, m.PublicKey).
		Bytes(3, m.BLSKey).
		String(4, m.Endpoint).
		Uint64(5, uint64(m.Age)).
		Uint64(6, m.Joined)
}

// MemberFromBytes() decodes a member encoded by Bytes()
func MemberFromBytes(bz []byte) (*Member, lib.ErrorI) {
	m := new(Member)
	err := lib.DecodeFields(bz, func(f lib.Field) (e lib.ErrorI) {
		switch f.Num {
		case 1:
			m.Name, e = lib.NewXorName(f.Bytes)
		case 2:
			m.PublicKey = lib.Clone(f.Bytes)
		case 3:
			m.BLSKey = lib.Clone(f.Bytes)
		case 4:
			m.Endpoint = string(f.Bytes)
		case 5:
			m.Age = uint32(f.Value)
		case 6:
			m.Joined = f.Value
		}
		return
	})
	if err != nil {
		return nil, err
	}
	if lib.NameFromPublicKey(m.PublicKey) != m.Name {
		return nil, ErrInvalidEventData("member name does not match its public key")
	}
	return m, nil
}

// Copy() returns a deep copy of the member
func (m *Member) Copy() *Member {
	return &Member{
		Name:      m.Name,
		PublicKey: lib.Clone(m.PublicKey),
		BLSKey:    lib.Clone(m.BLSKey),
		Endpoint:  m.Endpoint,
		Age:       m.Age,
		Joined:    m.Joined,
	}
}

// seniorThan() orders members by age, then by admission order, then by name
func (m *Member) seniorThan(o *Member) bool {
	if m.Age != o.Age {
		return m.Age > o.Age
	}
	if m.Joined != o.Joined {
		return m.Joined < o.Joined
	}
	return m.Name.Less(o.Name)
}

// SelectElders() deterministically picks the elderSize most senior members
func SelectElders(members []*Member, elderSize int) []*Member {
	sorted := append([]*Member(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].seniorThan(sorted[j]) })
	if len(sorted) > elderSize {
		sorted = sorted[:elderSize]
	}
	// elders are indexed by name so key share indices agree on every node
	SortByName(sorted)
	return sorted
}

// SortByName() sorts members by name
func SortByName(members []*Member) {
	sort.Slice(members, func(i, j int) bool { return members[i].Name.Less(members[j].Name) })
}

// BLSKeys() returns the vote keys of the members in order
func BLSKeys(members []*Member) (keys [][]byte) {
	for _, m := range members {
		keys = append(keys, m.BLSKey)
	}
	return
}

// Names() returns the names of the members in order
func Names(members []*Member) (names []lib.XorName) {
	for _, m := range members {
		names = append(names, m.Name)
	}
	return
}

// SplitByBit() partitions members by the given bit of their name
func SplitByBit(members []*Member, bit int) (zero, one []*Member) {
	for _, m := range members {
		if m.Name.Bit(bit) {
			one = append(one, m)
		} else {
			zero = append(zero, m)
		}
	}
	return
}
