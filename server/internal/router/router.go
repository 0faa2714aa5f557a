// Package router is the hub's per-connection protocol state machine.
//
// The transport hands every inbound text message to Router.Handle together
// with the connection's *Conn. Handle decodes the envelope, checks the
// connection's role and the envelope's required fields, and drives the
// registry, group manager, dispatcher and token manager. Every failure is
// returned to the caller and logged; none closes the connection.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/musink/musink/pkg/accounts"
	"github.com/musink/musink/pkg/envelope"
	"github.com/musink/musink/server/internal/dispatch"
	"github.com/musink/musink/server/internal/groups"
	"github.com/musink/musink/server/internal/registry"
	"github.com/musink/musink/server/internal/tokens"
)

var (
	// ErrProtocol is the base of every error caused by what the peer sent.
	ErrProtocol = errors.New("router: protocol error")

	ErrMissingField      = fmt.Errorf("%w: missing required field", ErrProtocol)
	ErrUnexpectedType    = fmt.Errorf("%w: message type not accepted by the hub", ErrProtocol)
	ErrAlreadyClassified = fmt.Errorf("%w: connection already classified", ErrProtocol)
	ErrNotClient         = fmt.Errorf("%w: connection is not a registered client", ErrProtocol)

	// ErrTooFewMembers is returned by MakeMutualPlaylist for a group with
	// fewer than two members.
	ErrTooFewMembers = errors.New("router: group has fewer than two members")
)

// Accounts is the part of the account service the hub calls directly.
type Accounts interface {
	Exchange(ctx context.Context, authCode string) (accounts.Token, error)
	Pause(ctx context.Context, accessToken string) error
	Play(ctx context.Context, accessToken string) error
}

// TokenKeeper refreshes a client's token when it has expired.
type TokenKeeper interface {
	EnsureFresh(ctx context.Context, id envelope.ConnID) error
}

// Recorder receives protocol events for metrics. Nil means no recording.
type Recorder interface {
	MessageReceived(msgType string)
	ProtocolError()
	ObserveDispatch(category string, err error)
	BroadcastSent()
	ObservePlayback(command string, err error)
}

// Deps are the shared services a Router drives.
type Deps struct {
	Registry   *registry.Registry
	Groups     *groups.Manager
	Dispatcher *dispatch.Dispatcher
	Tokens     TokenKeeper
	Accounts   Accounts
	Metrics    Recorder
}

// Router is safe for concurrent use by every connection's read loop.
type Router struct {
	reg      *registry.Registry
	groups   *groups.Manager
	dispatch *dispatch.Dispatcher
	tokens   TokenKeeper
	accounts Accounts
	metrics  Recorder

	now func() time.Time
}

// New creates a Router.
func New(d Deps) *Router {
	rec := d.Metrics
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Router{
		reg:      d.Registry,
		groups:   d.Groups,
		dispatch: d.Dispatcher,
		tokens:   d.Tokens,
		accounts: d.Accounts,
		metrics:  rec,
		now:      time.Now,
	}
}

// Open greets a newly connected peer with its connection id.
func (r *Router) Open(c *Conn) error {
	data, err := envelope.Initialise(c.ID).Encode()
	if err != nil {
		return err
	}
	if err := c.Send(data); err != nil {
		return fmt.Errorf("router: send initialise to conn %d: %w", c.ID, err)
	}
	return nil
}

// Handle processes one inbound message from c. Messages of one connection
// must be handled in order; the transport's read loop guarantees that.
func (r *Router) Handle(ctx context.Context, c *Conn, data []byte) error {
	env, err := envelope.Decode(data)
	if err != nil {
		r.metrics.ProtocolError()
		slog.Warn("router: dropped malformed message", "conn", c.ID, "err", err)
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	r.metrics.MessageReceived(string(env.Type))

	switch env.Type {
	case envelope.TypeNewClient:
		err = r.newClient(ctx, c, env)
	case envelope.TypeJoinGroup:
		err = r.joinGroup(c, env)
	case envelope.TypeNewService:
		err = r.newService(c, env)
	case envelope.TypeMakeMutualPlaylist:
		err = r.makeMutualPlaylist(ctx, c)
	case envelope.TypePause, envelope.TypePlay:
		err = r.playback(ctx, c, env.Type)
	case envelope.TypeAdvertisingClientGroups:
		slog.Debug("router: ignoring inbound group advertisement", "conn", c.ID)
	default:
		err = fmt.Errorf("%w: %s", ErrUnexpectedType, env.Type)
	}

	if err != nil {
		if errors.Is(err, ErrProtocol) {
			r.metrics.ProtocolError()
			slog.Warn("router: protocol error", "conn", c.ID, "type", env.Type, "err", err)
		} else {
			slog.Warn("router: request failed", "conn", c.ID, "type", env.Type, "err", err)
		}
	}
	return err
}

func (r *Router) newClient(ctx context.Context, c *Conn, env *envelope.Envelope) error {
	code, ok := env.FirstString()
	if !ok || code == "" {
		return fmt.Errorf("%w: authorization code", ErrMissingField)
	}
	if c.Role() != Unclassified {
		return fmt.Errorf("%w as %s", ErrAlreadyClassified, c.Role())
	}

	tok, err := r.accounts.Exchange(ctx, code)
	if err != nil {
		slog.Error("router: token exchange failed", "conn", c.ID, "err", err)
		return fmt.Errorf("router: exchange code: %w", err)
	}
	if !c.classify(Client) {
		return fmt.Errorf("%w as %s", ErrAlreadyClassified, c.Role())
	}

	err = r.reg.Register(registry.Client{
		ID:           c.ID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tokens.Expiry(r.now(), tok),
		Sender:       c,
	})
	if err != nil {
		return fmt.Errorf("router: register conn %d: %w", c.ID, err)
	}
	gid := r.groups.CreateSingleton(c.ID)
	r.setGroup(c.ID, gid)

	slog.Info("router: client registered", "conn", c.ID, "group", gid)
	r.BroadcastGroups()
	return nil
}

func (r *Router) joinGroup(c *Conn, env *envelope.Envelope) error {
	id, ok := env.IDValue()
	if !ok {
		return fmt.Errorf("%w: group id", ErrMissingField)
	}
	if c.Role() != Client {
		return ErrNotClient
	}

	target := envelope.GroupID(id)
	from, err := r.groups.Join(c.ID, target)
	if err != nil {
		return fmt.Errorf("router: join group %d: %w", target, err)
	}
	r.setGroup(c.ID, target)

	slog.Info("router: client joined group", "conn", c.ID, "from", from, "group", target)
	r.BroadcastGroups()
	return nil
}

func (r *Router) newService(c *Conn, env *envelope.Envelope) error {
	declared, _ := env.FirstString()
	cat := dispatch.ParseCategory(declared)

	if !c.classify(Worker) {
		return fmt.Errorf("%w as %s", ErrAlreadyClassified, c.Role())
	}
	if err := r.dispatch.Register(cat, c.ID, c); err != nil {
		return err
	}
	slog.Info("router: worker registered", "conn", c.ID, "category", cat, "declared", declared)
	return nil
}

func (r *Router) makeMutualPlaylist(ctx context.Context, c *Conn) error {
	if c.Role() != Client {
		return ErrNotClient
	}
	r.ensureFresh(ctx, c.ID)

	members, err := r.groupMembers(c.ID)
	if err != nil {
		return err
	}
	if len(members) < 2 {
		return fmt.Errorf("%w: have %d", ErrTooFewMembers, len(members))
	}

	accessTokens := make([]string, 0, len(members))
	for _, m := range members {
		if m != c.ID {
			r.ensureFresh(ctx, m)
		}
		rec, ok := r.reg.Get(m)
		if !ok {
			slog.Debug("router: member left during playlist request", "conn", m)
			continue
		}
		accessTokens = append(accessTokens, rec.AccessToken)
	}
	if len(accessTokens) < 2 {
		return fmt.Errorf("%w: have %d", ErrTooFewMembers, len(accessTokens))
	}

	data, err := envelope.MakeMutualPlaylist(accessTokens).Encode()
	if err != nil {
		return err
	}
	job := uuid.NewString()
	worker, err := r.dispatch.Dispatch(dispatch.MutualPlaylist, data)
	r.metrics.ObserveDispatch(string(dispatch.MutualPlaylist), err)
	if err != nil {
		slog.Error("router: dispatch failed", "conn", c.ID, "job", job, "err", err)
		return err
	}
	slog.Info("router: mutual playlist dispatched",
		"conn", c.ID, "job", job, "worker", worker, "members", len(accessTokens))
	return nil
}

// ensureFresh refreshes id's token. A failure is logged and the stale token
// stays usable.
func (r *Router) ensureFresh(ctx context.Context, id envelope.ConnID) {
	if err := r.tokens.EnsureFresh(ctx, id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			slog.Debug("router: token check for departed conn", "conn", id)
			return
		}
		slog.Error("router: token refresh failed", "conn", id, "err", err)
	}
}

func (r *Router) playback(ctx context.Context, c *Conn, cmd envelope.Type) error {
	if c.Role() != Client {
		return ErrNotClient
	}
	members, err := r.groupMembers(c.ID)
	if err != nil {
		return err
	}

	var errs []error
	for _, m := range members {
		if err := r.tokens.EnsureFresh(ctx, m); err != nil {
			if !errors.Is(err, registry.ErrNotFound) {
				slog.Error("router: token refresh failed", "conn", m, "command", cmd, "err", err)
				errs = append(errs, err)
			}
			continue
		}
		rec, ok := r.reg.Get(m)
		if !ok {
			continue
		}

		if cmd == envelope.TypePause {
			err = r.accounts.Pause(ctx, rec.AccessToken)
		} else {
			err = r.accounts.Play(ctx, rec.AccessToken)
		}
		r.metrics.ObservePlayback(string(cmd), err)
		if err != nil {
			slog.Error("router: playback command failed", "conn", m, "command", cmd, "err", err)
			errs = append(errs, fmt.Errorf("router: %s for conn %d: %w", cmd, m, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) groupMembers(id envelope.ConnID) ([]envelope.ConnID, error) {
	gid, ok := r.groups.GroupOf(id)
	if !ok {
		return nil, fmt.Errorf("router: conn %d: %w", id, groups.ErrNotMember)
	}
	members, ok := r.groups.Members(gid)
	if !ok {
		return nil, fmt.Errorf("router: group %d: %w", gid, groups.ErrGroupNotFound)
	}
	return members, nil
}

func (r *Router) setGroup(id envelope.ConnID, gid envelope.GroupID) {
	err := r.reg.Update(id, func(c *registry.Client) { c.GroupID = gid })
	if err != nil {
		slog.Debug("router: group update for departed conn", "conn", id, "err", err)
	}
}

// Close tears down whatever state c created. It is safe to call more than once.
func (r *Router) Close(c *Conn) {
	switch c.close() {
	case Client:
		if _, err := r.reg.Remove(c.ID); err != nil {
			slog.Debug("router: client record already gone", "conn", c.ID)
		}
		gid, err := r.groups.Leave(c.ID)
		if err != nil {
			slog.Debug("router: client had no group", "conn", c.ID)
		}
		slog.Info("router: client disconnected", "conn", c.ID, "group", gid)
		r.BroadcastGroups()
	case Worker:
		if cat, ok := r.dispatch.Unregister(c.ID); ok {
			slog.Info("router: worker disconnected", "conn", c.ID, "category", cat)
		}
	}
}

// BroadcastGroups sends the full group table to every registered client.
// Delivery is best effort: a failed send is logged and skipped.
func (r *Router) BroadcastGroups() {
	data, err := envelope.AdvertisingGroups(r.groups.Snapshot()).Encode()
	if err != nil {
		slog.Error("router: encode group snapshot", "err", err)
		return
	}
	for _, c := range r.reg.List() {
		if c.Sender == nil {
			continue
		}
		if err := c.Sender.Send(data); err != nil {
			slog.Warn("router: broadcast send failed", "conn", c.ID, "err", err)
		}
	}
	r.metrics.BroadcastSent()
}

type nopRecorder struct{}

func (nopRecorder) MessageReceived(string)        {}
func (nopRecorder) ProtocolError()                {}
func (nopRecorder) ObserveDispatch(string, error) {}
func (nopRecorder) BroadcastSent()                {}
func (nopRecorder) ObservePlayback(string, error) {}
