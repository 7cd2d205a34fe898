package p2p

import (
	"context"
	"sync"

	"github.com/canopy-network/routing/lib"
)

// MemHub connects in-process transports by endpoint name, used by simulations and tests
type MemHub struct {
	mu         sync.RWMutex
	transports map[string]*MemTransport
	config     lib.P2PConfig
}

// NewMemHub() creates an empty hub
func NewMemHub(config lib.P2PConfig) *MemHub {
	return &MemHub{transports: make(map[string]*MemTransport), config: config}
}

// Transport() registers and returns a transport reachable at endpoint
func (h *MemHub) Transport(endpoint string) *MemTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := &MemTransport{
		hub:      h,
		endpoint: endpoint,
		inbox:    make(chan Inbound, h.config.InboxSize),
		lost:     make(chan string, h.config.InboxSize),
		done:     make(chan struct{}),
	}
	h.transports[endpoint] = t
	return t
}

// Len() returns the number of registered transports
func (h *MemHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.transports)
}

func (h *MemHub) get(endpoint string) (*MemTransport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.transports[endpoint]
	return t, ok
}

// remove() unregisters the transport and tells everyone else its endpoint is lost
func (h *MemHub) remove(t *MemTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.transports[t.endpoint] != t {
		return
	}
	delete(h.transports, t.endpoint)
	for _, other := range h.transports {
		select {
		case other.lost <- t.endpoint:
		default:
		}
	}
}

var _ Transport = new(MemTransport)

// MemTransport is a Transport backed by channels
type MemTransport struct {
	hub      *MemHub
	endpoint string
	inbox    chan Inbound
	lost     chan string
	done     chan struct{}
	once     sync.Once
}

// Send() copies the frame into the destination inbox, waiting while it is full
func (t *MemTransport) Send(ctx context.Context, endpoint string, bz []byte) lib.ErrorI {
	if max := t.hub.config.MaxFrameBytes; max != 0 && uint64(len(bz)) > max {
		return ErrMaxFrameSize(uint64(len(bz)), max)
	}
	select {
	case <-t.done:
		return ErrTransportClosed()
	default:
	}
	dst, ok := t.hub.get(endpoint)
	if !ok {
		return ErrUnknownPeer(endpoint)
	}
	select {
	case dst.inbox <- Inbound{From: t.endpoint, Bytes: lib.Clone(bz)}:
		return nil
	case <-dst.done:
		return ErrUnknownPeer(endpoint)
	case <-ctx.Done():
		return ErrFailedSend(endpoint, ctx.Err())
	}
}

func (t *MemTransport) Inbox() <-chan Inbound { return t.inbox }
func (t *MemTransport) Lost() <-chan string   { return t.lost }
func (t *MemTransport) Endpoint() string      { return t.endpoint }

// Close() unregisters the transport; frames already queued stay readable
func (t *MemTransport) Close() {
	t.once.Do(func() {
		close(t.done)
		t.hub.remove(t)
	})
}
