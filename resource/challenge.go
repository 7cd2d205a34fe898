package resource

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"math/bits"
	"time"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"golang.org/x/crypto/sha3"
)

/*
	A resource proof is a proof of work over a block of seeded data.

	The candidate must find a counter such that sha3-256(challenge id || data || counter) has at least Difficulty leading
	zero bits, where data is DataSize bytes squeezed from shake256(challenge id). Every parameter of the challenge feeds
	the id, so a solution to one challenge is meaningless for any other.
*/

const (
	nonceSize = 32
	// how many attempts the solver makes between context checks
	solveCheckInterval = 1024
)

// Challenge is the puzzle issued to a joining candidate
type Challenge struct {
	Candidate  lib.XorName  `json:"candidate"`
	Nonce      lib.HexBytes `json:"nonce"`
	Difficulty uint8        `json:"difficulty"`
	DataSize   uint64       `json:"dataSize"`
	IssuedAt   int64        `json:"issuedAt"` // unix milliseconds
	Expiry     int64        `json:"expiry"`   // unix milliseconds
}

// NewChallenge() creates a challenge with a random nonce valid for the validity window
func NewChallenge(candidate lib.XorName, difficulty uint8, dataSize uint64, now time.Time, validity time.Duration) *Challenge {
	nonce := make([]byte, nonceSize)
	_, _ = rand.Read(nonce)
	return &Challenge{
		Candidate:  candidate,
		Nonce:      nonce,
		Difficulty: difficulty,
		DataSize:   dataSize,
		IssuedAt:   now.UnixMilli(),
		Expiry:     now.Add(validity).UnixMilli(),
	}
}

// Bytes() encodes the challenge deterministically
func (c *Challenge) Bytes() []byte {
	return lib.NewEncoder().
		Bytes(1, c.Candidate[:]).
		Bytes(2, c.Nonce).
		Uint64(3, uint64(c.Difficulty)).
		Uint64(4, c.DataSize).
		Uint64(5, uint64(c.IssuedAt)).
		Uint64(6, uint64(c.Expiry)).
		Encoded()
}

// ChallengeFromBytes() decodes a challenge encoded by Bytes()
func ChallengeFromBytes(bz []byte) (*Challenge, lib.ErrorI) {
	c := new(Challenge)
	err := lib.DecodeFields(bz, func(f lib.Field) (e lib.ErrorI) {
		switch f.Num {
		case 1:
			c.Candidate, e = lib.NewXorName(f.Bytes)
		case 2:
			c.Nonce = lib.Clone(f.Bytes)
		case 3:
			if f.Value > 255 {
				return lib.ErrInvalidArgument()
			}
			c.Difficulty = uint8(f.Value)
		case 4:
			c.DataSize = f.Value
		case 5:
			c.IssuedAt = int64(f.Value)
		case 6:
			c.Expiry = int64(f.Value)
		}
		return
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ID() identifies the challenge by the hash of all of its parameters
func (c *Challenge) ID() []byte { return crypto.Hash(c.Bytes()) }

// Expired() returns true once the validity window has passed
func (c *Challenge) Expired(now time.Time) bool { return now.UnixMilli() > c.Expiry }

// Response is a candidate's answer to a challenge
type Response struct {
	ChallengeID lib.HexBytes `json:"challengeID"`
	Candidate   lib.XorName  `json:"candidate"`
	Counter     uint64       `json:"counter"`
}

// Bytes() encodes the response deterministically
func (r *Response) Bytes() []byte {
	return lib.NewEncoder().
		Bytes(1, r.ChallengeID).
		Bytes(2, r.Candidate[:]).
		Uint64(3, r.Counter).
		Encoded()
}

// ResponseFromBytes() decodes a response encoded by Bytes()
func ResponseFromBytes(bz []byte) (*Response, lib.ErrorI) {
	r := new(Response)
	err := lib.DecodeFields(bz, func(f lib.Field) (e lib.ErrorI) {
		switch f.Num {
		case 1:
			r.ChallengeID = lib.Clone(f.Bytes)
		case 2:
			r.Candidate, e = lib.NewXorName(f.Bytes)
		case 3:
			r.Counter = f.Value
		}
		return
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// VerifyResponse() checks a response against the exact challenge it claims to answer.
// It is pure and deterministic; a response computed for any other challenge is refused
func VerifyResponse(c *Challenge, r *Response) bool {
	if c == nil || r == nil {
		return false
	}
	id := c.ID()
	if !bytes.Equal(r.ChallengeID, id) || r.Candidate != c.Candidate {
		return false
	}
	return leadingZeroBits(proofHash(id, seededData(id, c.DataSize), r.Counter)) >= int(c.Difficulty)
}

// Solve() searches for a counter satisfying the challenge; it stops early when the context is cancelled
func Solve(ctx context.Context, c *Challenge) (*Response, lib.ErrorI) {
	id := c.ID()
	data := seededData(id, c.DataSize)
	for counter := uint64(0); ; counter++ {
		if counter%solveCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return nil, ErrSolveCancelled()
			default:
			}
		}
		if leadingZeroBits(proofHash(id, data, counter)) >= int(c.Difficulty) {
			return &Response{ChallengeID: id, Candidate: c.Candidate, Counter: counter}, nil
		}
	}
}

// seededData() expands the challenge id into size pseudorandom bytes
func seededData(id []byte, size uint64) []byte {
	data := make([]byte, size)
	shake := sha3.NewShake256()
	_, _ = shake.Write(id)
	_, _ = shake.Read(data)
	return data
}

func proofHash(id, data []byte, counter uint64) []byte {
	h := sha3.New256()
	_, _ = h.Write(id)
	_, _ = h.Write(data)
	var c [8]byte
	binary.BigEndian.PutUint64(c[:], counter)
	_, _ = h.Write(c[:])
	return h.Sum(nil)
}

func leadingZeroBits(h []byte) (n int) {
	for _, b := range h {
		if b != 0 {
			return n + bits.LeadingZeros8(b)
		}
		n += 8
	}
	return
}
