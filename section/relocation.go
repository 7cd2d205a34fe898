package section

import (
	"bytes"
	"crypto/sha256"
	"io"
	"time"

	"github.com/canopy-network/routing/lib"
	"github.com/canopy-network/routing/lib/crypto"
	"golang.org/x/crypto/hkdf"
)

// relocationInfo is the hkdf context of relocation destinations
var relocationInfo = []byte("section-relocation-destination")

// Relocation is this node's pending order to rejoin elsewhere
type Relocation struct {
	PreviousName lib.XorName `json:"previousName"`
	Destination  lib.XorName `json:"destination"`
	Age          uint32      `json:"age"`      // the age the node rejoins with
	Deadline     time.Time   `json:"deadline"` // the rejoin window ends here
}

// Expired() returns true once the rejoin window closed
func (r *Relocation) Expired(now time.Time) bool { return now.After(r.Deadline) }

// RelocationDestination() derives where a node is sent from agreed consensus entropy, so neither the node nor a
// single elder can choose the location
func RelocationDestination(entropy []byte, name lib.XorName) lib.XorName {
	var dst lib.XorName
	_, _ = io.ReadFull(hkdf.New(sha256.New, entropy, name[:], relocationInfo), dst[:])
	return dst
}

// relocationCandidate() picks the member whose name hashes lowest with the entropy, skipping elders
func relocationCandidate(entropy []byte, members []*Member, elders map[lib.XorName]bool) (candidate *Member) {
	var best []byte
	for _, m := range members {
		if elders[m.Name] {
			continue
		}
		h := crypto.HashAll(entropy, m.Name[:])
		if best == nil || bytes.Compare(h, best) < 0 {
			best, candidate = h, m
		}
	}
	return
}
