package p2p

import (
	"context"

	"github.com/canopy-network/routing/lib"
)

/*
	The transport moves opaque frames between endpoints. It knows nothing about names, sections or signatures:
	authenticity is carried end to end by the message envelope, so a frame is only as trusted as its signature
*/

// Transport is the byte pipe the node sends and receives routing messages over
type Transport interface {
	// Send() delivers one frame to the endpoint, dialing if needed
	Send(ctx context.Context, endpoint string, bz []byte) lib.ErrorI
	// Inbox() streams received frames
	Inbox() <-chan Inbound
	// Lost() streams endpoints whose connection dropped
	Lost() <-chan string
	// Endpoint() is the address other nodes reach this transport at
	Endpoint() string
	// Close() stops the transport and closes all connections
	Close()
}

// Inbound is a frame received from a remote endpoint
type Inbound struct {
	From  string // the sender's listening endpoint
	Bytes []byte
}
