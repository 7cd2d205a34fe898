package p2p

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/canopy-network/routing/lib"
	"github.com/cenkalti/backoff/v4"
	pool "github.com/libp2p/go-buffer-pool"
	limiter "github.com/mxk/go-flowrate/flowrate"
	quic "github.com/quic-go/quic-go"
)

const (
	maxEndpointLen   = 255
	maxDialRetries   = 3
	keepAlivePeriod  = 15 * time.Second
	maxIdleTimeout   = 60 * time.Second
	frameHeaderBytes = 4
)

/*
	Each frame travels on its own unidirectional QUIC stream:
	[4 byte endpoint length][sender listen endpoint][4 byte payload length][payload]
	Streams of one connection share a rate limiter per direction
*/

var _ Transport = new(QUIC)

// QUIC is a Transport over quic-go
type QUIC struct {
	config   lib.P2PConfig
	tls      *tls.Config
	listener *quic.Listener
	endpoint string

	mu    sync.Mutex
	conns map[string]*outbound // dialed connections by remote endpoint

	accepted map[*quic.Conn]struct{} // open inbound connections
	inbox    chan Inbound
	lost     chan string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *lib.Metrics
	log     lib.LoggerI
}

// outbound is a dialed connection and its send limiter
type outbound struct {
	conn    *quic.Conn
	monitor *limiter.Monitor
}

// NewQUIC() listens on the configured address and starts accepting connections
func NewQUIC(config lib.P2PConfig, metrics *lib.Metrics, log lib.LoggerI) (*QUIC, lib.ErrorI) {
	tlsConfig, e := newTLSConfig()
	if e != nil {
		return nil, e
	}
	ln, err := quic.ListenAddr(config.ListenAddress, tlsConfig, quicConfig())
	if err != nil {
		return nil, ErrFailedListen(err)
	}
	endpoint := config.ExternalAddress
	if endpoint == "" {
		endpoint = ln.Addr().String()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &QUIC{
		config:   config,
		tls:      tlsConfig,
		listener: ln,
		endpoint: endpoint,
		conns:    make(map[string]*outbound),
		accepted: make(map[*quic.Conn]struct{}),
		inbox:    make(chan Inbound, config.InboxSize),
		lost:     make(chan string, config.InboxSize),
		ctx:      ctx,
		cancel:   cancel,
		metrics:  metrics,
		log:      log,
	}
	q.wg.Add(1)
	go q.acceptLoop()
	log.Infof("Listening for QUIC connections on %s", endpoint)
	return q, nil
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  maxIdleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
	}
}

// Send() writes the frame on a new stream, dialing with exponential backoff if no connection is open
func (q *QUIC) Send(ctx context.Context, endpoint string, bz []byte) lib.ErrorI {
	if uint64(len(bz)) > q.config.MaxFrameBytes {
		return ErrMaxFrameSize(uint64(len(bz)), q.config.MaxFrameBytes)
	}
	if q.ctx.Err() != nil {
		return ErrTransportClosed()
	}
	var out *outbound
	dial := func() error {
		var e lib.ErrorI
		if out, e = q.connect(ctx, endpoint); e != nil {
			return e
		}
		return nil
	}
	retry := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxDialRetries), ctx)
	if err := backoff.Retry(dial, retry); err != nil {
		return ErrFailedDial(endpoint, err)
	}
	if err := q.write(ctx, out, bz); err != nil {
		// the connection is likely dead; drop it so the next send redials
		q.drop(endpoint, out)
		return ErrFailedSend(endpoint, err)
	}
	q.metrics.AddTraffic(len(bz), 0)
	return nil
}

// connect() returns the open connection to the endpoint or dials a new one
func (q *QUIC) connect(ctx context.Context, endpoint string) (*outbound, lib.ErrorI) {
	q.mu.Lock()
	out, ok := q.conns[endpoint]
	q.mu.Unlock()
	if ok {
		return out, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(q.config.DialTimeoutS)*time.Second)
	defer cancel()
	conn, err := quic.DialAddr(dialCtx, endpoint, q.tls, quicConfig())
	if err != nil {
		return nil, ErrFailedDial(endpoint, err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	// lost a dial race: keep the first connection
	if existing, ok := q.conns[endpoint]; ok {
		_ = conn.CloseWithError(0, "duplicate")
		return existing, nil
	}
	out = &outbound{conn: conn, monitor: limiter.New(0, 0)}
	q.conns[endpoint] = out
	q.updatePeers()
	q.wg.Add(1)
	go q.watch(endpoint, out)
	q.log.Debugf("Dialed %s", endpoint)
	return out, nil
}

// watch() reports the endpoint as lost once its connection closes
func (q *QUIC) watch(endpoint string, out *outbound) {
	defer q.wg.Done()
	select {
	case <-out.conn.Context().Done():
	case <-q.ctx.Done():
		return
	}
	if q.drop(endpoint, out) {
		select {
		case q.lost <- endpoint:
		default:
			q.log.Warnf("Lost queue full, dropping notice for %s", endpoint)
		}
	}
}

// drop() forgets the connection if it is still the current one for the endpoint
func (q *QUIC) drop(endpoint string, out *outbound) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conns[endpoint] != out {
		return false
	}
	delete(q.conns, endpoint)
	_ = out.conn.CloseWithError(0, "dropped")
	out.monitor.Done()
	q.updatePeers()
	return true
}

// write() sends one frame on a fresh stream
func (q *QUIC) write(ctx context.Context, out *outbound, bz []byte) error {
	stream, err := out.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return err
	}
	header := make([]byte, 0, 2*frameHeaderBytes+len(q.endpoint))
	header = binary.BigEndian.AppendUint32(header, uint32(len(q.endpoint)))
	header = append(header, q.endpoint...)
	header = binary.BigEndian.AppendUint32(header, uint32(len(bz)))
	if err = writeLimited(stream, out.monitor, q.config.SendRateBPS, header); err != nil {
		return err
	}
	if err = writeLimited(stream, out.monitor, q.config.SendRateBPS, bz); err != nil {
		return err
	}
	return stream.Close()
}

// acceptLoop() accepts inbound connections until the transport closes
func (q *QUIC) acceptLoop() {
	defer q.wg.Done()
	for {
		conn, err := q.listener.Accept(q.ctx)
		if err != nil {
			if q.ctx.Err() == nil {
				q.log.Errorf("Accept failed with err: %s", err.Error())
			}
			return
		}
		q.wg.Add(1)
		go q.serve(conn)
	}
}

// serve() reads every stream of an inbound connection
func (q *QUIC) serve(conn *quic.Conn) {
	defer q.wg.Done()
	q.mu.Lock()
	q.accepted[conn] = struct{}{}
	q.updatePeers()
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.accepted, conn)
		q.updatePeers()
		q.mu.Unlock()
	}()
	monitor := limiter.New(0, 0)
	defer monitor.Done()
	for {
		stream, err := conn.AcceptUniStream(q.ctx)
		if err != nil {
			return
		}
		in, err := q.read(stream, monitor)
		if err != nil {
			q.log.Warnf("Closing connection from %s: %s", conn.RemoteAddr(), err.Error())
			_ = conn.CloseWithError(1, "bad frame")
			return
		}
		q.metrics.AddTraffic(0, len(in.Bytes))
		select {
		case q.inbox <- in:
		case <-q.ctx.Done():
			return
		}
	}
}

// read() decodes one frame from a stream
func (q *QUIC) read(r io.Reader, monitor *limiter.Monitor) (in Inbound, err error) {
	var lenBuf [frameHeaderBytes]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxEndpointLen {
		return in, errors.New("invalid endpoint length")
	}
	from := make([]byte, n)
	if _, err = io.ReadFull(r, from); err != nil {
		return
	}
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return
	}
	size := uint64(binary.BigEndian.Uint32(lenBuf[:]))
	if size > q.config.MaxFrameBytes {
		return in, ErrMaxFrameSize(size, q.config.MaxFrameBytes)
	}
	buf := pool.Get(int(size))
	defer pool.Put(buf)
	if err = readLimited(r, monitor, q.config.RecvRateBPS, buf); err != nil {
		return
	}
	return Inbound{From: string(from), Bytes: lib.Clone(buf)}, nil
}

// writeLimited() writes bz in chunks the send rate allows
func writeLimited(w io.Writer, m *limiter.Monitor, rate int64, bz []byte) error {
	for len(bz) > 0 {
		n := m.Limit(len(bz), rate, true)
		if n == 0 {
			continue
		}
		written, err := w.Write(bz[:n])
		m.Update(written)
		if err != nil {
			return err
		}
		bz = bz[written:]
	}
	return nil
}

// readLimited() fills buf in chunks the receive rate allows
func readLimited(r io.Reader, m *limiter.Monitor, rate int64, buf []byte) error {
	for len(buf) > 0 {
		n := m.Limit(len(buf), rate, true)
		if n == 0 {
			continue
		}
		read, err := io.ReadFull(r, buf[:n])
		m.Update(read)
		if err != nil {
			return err
		}
		buf = buf[read:]
	}
	return nil
}

// updatePeers() publishes the open connection count; callers hold mu
func (q *QUIC) updatePeers() {
	q.metrics.UpdatePeerMetrics(len(q.conns) + len(q.accepted))
}

// Peers() returns the endpoints with an open dialed connection
func (q *QUIC) Peers() (endpoints []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for endpoint := range q.conns {
		endpoints = append(endpoints, endpoint)
	}
	return
}

func (q *QUIC) Inbox() <-chan Inbound { return q.inbox }
func (q *QUIC) Lost() <-chan string   { return q.lost }
func (q *QUIC) Endpoint() string      { return q.endpoint }

// Close() stops accepting, closes every connection and waits for the loops to exit
func (q *QUIC) Close() {
	if q.ctx.Err() != nil {
		return
	}
	q.cancel()
	// connections close before the listener, whose socket carries their CONNECTION_CLOSE
	q.mu.Lock()
	for endpoint, out := range q.conns {
		_ = out.conn.CloseWithError(0, "closing")
		out.monitor.Done()
		delete(q.conns, endpoint)
	}
	for conn := range q.accepted {
		_ = conn.CloseWithError(0, "closing")
	}
	q.mu.Unlock()
	if err := q.listener.Close(); err != nil {
		q.log.Warnf("Closing listener failed with err: %s", err.Error())
	}
	q.wg.Wait()
}
