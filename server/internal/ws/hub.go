package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/musink/musink/pkg/envelope"
	"github.com/musink/musink/server/internal/router"
)

var (
	// ErrClosed is returned by a peer's Send after its connection has ended.
	ErrClosed = errors.New("ws: connection closed")

	// ErrBufferFull is returned when a peer's outgoing buffer is full. The
	// peer is disconnected.
	ErrBufferFull = errors.New("ws: send buffer full")
)

// Handler receives connection lifecycle events. *router.Router implements it.
type Handler interface {
	Open(c *router.Conn) error
	Handle(ctx context.Context, c *router.Conn, data []byte) error
	Close(c *router.Conn)
}

// Options tunes the transport. Zero fields take the defaults below.
type Options struct {
	SendBuffer      int
	MaxMessageBytes int64
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteTimeout    time.Duration

	// RatePerSecond limits inbound messages per connection. Zero disables it.
	RatePerSecond float64
	RateBurst     int
}

const (
	defaultSendBuffer      = 64
	defaultMaxMessageBytes = 64 << 10
	defaultPongWait        = 60 * time.Second
	defaultWriteTimeout    = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = defaultMaxMessageBytes
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	// Must be less than PongWait.
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	return o
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins. Apply CORS at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub accepts WebSocket connections from clients and workers, assigns each a
// connection id and feeds its messages to the Handler in arrival order.
type Hub struct {
	handler Handler
	opts    Options
	nextID  atomic.Uint32

	mu    sync.RWMutex
	ctx   context.Context
	peers map[envelope.ConnID]*peer
}

// peer is one connected WebSocket. It implements the registry's Sender.
type peer struct {
	id   envelope.ConnID
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Hub that hands connection events to h.
func New(h Handler, opts Options) *Hub {
	return &Hub{
		handler: h,
		opts:    opts.withDefaults(),
		ctx:     context.Background(),
		peers:   make(map[envelope.ConnID]*peer),
	}
}

// Run blocks until ctx is cancelled, then closes every open connection.
// Messages received while Run is active are handled under ctx.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	p := &peer{
		id:   envelope.ConnID(h.nextID.Add(1)),
		conn: conn,
		send: make(chan []byte, h.opts.SendBuffer),
		done: make(chan struct{}),
	}
	c := router.NewConn(p.id, p)

	ctx := h.register(p)
	defer h.unregister(p)

	go p.writePump(h.opts)

	if err := h.handler.Open(c); err != nil {
		slog.Warn("ws: open failed", "conn", p.id, "err", err)
	}
	slog.Debug("ws: connection opened", "conn", p.id, "remote", r.RemoteAddr)

	h.readPump(ctx, p, c) // blocks until connection closes
	h.handler.Close(c)
	slog.Debug("ws: connection closed", "conn", p.id)
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(p *peer) context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p.id] = p
	return h.ctx
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	delete(h.peers, p.id)
	h.mu.Unlock()
	p.close()
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	targets := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	for _, p := range targets {
		p.close()
	}
}

// readPump reads messages until the connection fails or is closed, handing
// each to the Handler before reading the next.
func (h *Hub) readPump(ctx context.Context, p *peer, c *router.Conn) {
	defer p.conn.Close()

	var limiter *rate.Limiter
	if h.opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.opts.RatePerSecond), h.opts.RateBurst)
	}

	p.conn.SetReadLimit(h.opts.MaxMessageBytes)
	p.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait)) //nolint:errcheck
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws: read failed", "conn", p.id, "err", err)
			}
			return
		}
		if limiter != nil && !limiter.Allow() {
			slog.Warn("ws: message dropped by rate limit", "conn", p.id)
			continue
		}
		// Handle logs its own failures.
		_ = h.handler.Handle(ctx, c, data)
	}
}

// Send queues data for delivery without blocking. A peer whose buffer is
// full is disconnected.
func (p *peer) Send(data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.send <- data:
		return nil
	case <-p.done:
		return ErrClosed
	default:
		p.close()
		return ErrBufferFull
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// writePump drains the send channel onto the socket and sends periodic pings.
func (p *peer) writePump(opts Options) {
	ticker := time.NewTicker(opts.PingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout)) //nolint:errcheck
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.close()
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout)) //nolint:errcheck
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close()
				return
			}

		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout)) //nolint:errcheck
			p.conn.WriteMessage(websocket.CloseMessage, []byte{})      //nolint:errcheck
			return
		}
	}
}
