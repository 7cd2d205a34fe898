package routing

import (
	"time"

	"github.com/canopy-network/routing/lib"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Filter remembers recently handled messages: incoming by id, outgoing by id and peer.
// Entries expire and the caches are bounded, so a long lived node never grows them without limit
type Filter struct {
	incoming *expirable.LRU[string, struct{}]
	outgoing *expirable.LRU[string, struct{}]
}

// NewFilter() creates the dedup caches from the router options
func NewFilter(config lib.RoutingConfig) *Filter {
	return &Filter{
		incoming: expirable.NewLRU[string, struct{}](config.DedupCacheSize, nil, time.Duration(config.IncomingDedupExpiryS)*time.Second),
		outgoing: expirable.NewLRU[string, struct{}](config.DedupCacheSize, nil, time.Duration(config.OutgoingDedupExpiryS)*time.Second),
	}
}

// SeenIncoming() records the message id and returns true if it was already recorded
func (f *Filter) SeenIncoming(id string) bool {
	if f.incoming.Contains(id) {
		return true
	}
	f.incoming.Add(id, struct{}{})
	return false
}

// SeenOutgoing() records sending the message to the peer and returns true if it was already sent
func (f *Filter) SeenOutgoing(id string, peer lib.XorName) bool {
	key := id + "/" + peer.Hex()
	if f.outgoing.Contains(key) {
		return true
	}
	f.outgoing.Add(key, struct{}{})
	return false
}

// Len() returns the number of live incoming and outgoing entries
func (f *Filter) Len() (incoming, outgoing int) { return f.incoming.Len(), f.outgoing.Len() }
