package hubconn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/musink/musink/pkg/envelope"
)

const (
	defaultBackoffInitial = 1 * time.Second
	defaultBackoffMax     = 60 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultMaxJobs        = 4
)

// JobFunc runs one MakeMutualPlaylist job. ctx is cancelled when the client
// stops.
type JobFunc func(ctx context.Context, accessTokens []string)

// Options tunes a Client. Zero fields take defaults.
type Options struct {
	// Dialer opens the WebSocket (default websocket.DefaultDialer).
	Dialer *websocket.Dialer

	WriteTimeout time.Duration

	// MaxJobs caps concurrently running jobs.
	MaxJobs int

	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.MaxJobs <= 0 {
		o.MaxJobs = defaultMaxJobs
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = defaultBackoffInitial
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = defaultBackoffMax
	}
	return o
}

// Client keeps one worker connection to the hub alive. It registers as a
// service of its category on every connect and hands each received job to
// its JobFunc.
type Client struct {
	url      string
	category string
	run      JobFunc
	opts     Options

	mu     sync.Mutex
	connID envelope.ConnID
	jobs   int
}

// New creates a Client that connects to url and registers under category.
func New(url, category string, run JobFunc, opts Options) *Client {
	return &Client{url: url, category: category, run: run, opts: opts.withDefaults()}
}

// ConnID returns the id the hub assigned on the most recent connect.
func (c *Client) ConnID() envelope.ConnID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Jobs returns the number of jobs accepted so far.
func (c *Client) Jobs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs
}

// Run connects to the hub and reconnects with exponential backoff when the
// connection is lost. It blocks until ctx is cancelled and every running job
// has returned.
func (c *Client) Run(ctx context.Context) {
	jobs, jobCtx := errgroup.WithContext(ctx)
	jobs.SetLimit(c.opts.MaxJobs)
	defer func() {
		jobs.Wait() //nolint:errcheck
		slog.Info("hubconn: stopped", "last_conn", c.ConnID(), "jobs", c.Jobs())
	}()

	bo := newBackoff(c.opts.BackoffInitial, c.opts.BackoffMax)
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := c.opts.Dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			wait := bo.next()
			slog.Error("hubconn: dial failed, will retry",
				"url", c.url,
				"err", err,
				"retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		slog.Info("hubconn: connected", "url", c.url, "category", c.category)
		bo.reset()

		err = c.session(ctx, jobCtx, conn, jobs)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("hubconn: connection lost, will reconnect",
			"url", c.url,
			"conn", c.ConnID(),
			"jobs", c.Jobs(),
			"err", err,
			"retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// session registers with the hub and reads messages until the connection
// fails or ctx is cancelled.
func (c *Client) session(ctx, jobCtx context.Context, conn *websocket.Conn, jobs *errgroup.Group) error {
	if err := c.write(conn, envelope.NewService(c.category)); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(c.opts.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteControl(websocket.CloseMessage, msg, deadline) //nolint:errcheck
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		env, err := envelope.Decode(data)
		if err != nil {
			slog.Warn("hubconn: dropping undecodable message", "err", err)
			continue
		}
		c.handle(jobCtx, env, jobs)
	}
}

func (c *Client) handle(ctx context.Context, env *envelope.Envelope, jobs *errgroup.Group) {
	switch env.Type {
	case envelope.TypeInitialise:
		if id, ok := env.IDValue(); ok {
			c.mu.Lock()
			c.connID = envelope.ConnID(id)
			c.mu.Unlock()
			slog.Info("hubconn: registered", "conn", id, "category", c.category)
		}

	case envelope.TypeAdvertisingClientGroups:
		// Group snapshots are for clients.

	case envelope.TypeMakeMutualPlaylist:
		tokens := append([]string(nil), env.Strings...)
		accepted := jobs.TryGo(func() error {
			c.run(ctx, tokens)
			return nil
		})
		if !accepted {
			slog.Warn("hubconn: at job capacity, dropping job", "max_jobs", c.opts.MaxJobs)
			return
		}
		c.mu.Lock()
		c.jobs++
		c.mu.Unlock()

	default:
		slog.Debug("hubconn: ignoring message", "type", env.Type)
	}
}

func (c *Client) write(conn *websocket.Conn, env *envelope.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)) //nolint:errcheck
	return conn.WriteMessage(websocket.TextMessage, data)
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
