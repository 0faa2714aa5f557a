// Package tokens keeps client access tokens fresh.
//
// EnsureFresh is called synchronously right before any operation that needs
// a valid access token. It refreshes only when the stored expiry instant has
// passed. No lock on the registry is held during the external call.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/musink/musink/pkg/accounts"
	"github.com/musink/musink/pkg/envelope"
	"github.com/musink/musink/server/internal/registry"
)

// ErrRefreshFailed wraps any error from the account service refresh call.
var ErrRefreshFailed = errors.New("tokens: refresh failed")

// Refresher is the subset of accounts.Service the manager needs.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (accounts.Token, error)
}

// Recorder observes refresh outcomes. A nil Recorder is allowed.
type Recorder interface {
	ObserveRefresh(err error)
}

// Manager refreshes tokens stored in a registry.
type Manager struct {
	reg       *registry.Registry
	refresher Refresher
	recorder  Recorder
	group     singleflight.Group

	now func() time.Time // injectable for tests
}

// New creates a Manager.
func New(reg *registry.Registry, r Refresher, rec Recorder) *Manager {
	return &Manager{reg: reg, refresher: r, recorder: rec, now: time.Now}
}

// Expiry converts a token's lifetime into an absolute instant relative to now.
func Expiry(now time.Time, tok accounts.Token) time.Time {
	return now.Add(tok.ExpiresIn)
}

// EnsureFresh refreshes the access token of id if its expiry has passed.
// Concurrent calls for the same id share one refresh.
//
// On refresh failure the stale token stays in place and the returned error
// wraps ErrRefreshFailed. An unknown id yields registry.ErrNotFound.
func (m *Manager) EnsureFresh(ctx context.Context, id envelope.ConnID) error {
	c, ok := m.reg.Get(id)
	if !ok {
		return fmt.Errorf("tokens: conn %d: %w", id, registry.ErrNotFound)
	}
	if !m.now().After(c.ExpiresAt) {
		return nil
	}

	_, err, _ := m.group.Do(strconv.FormatUint(uint64(id), 10), func() (any, error) {
		return nil, m.refresh(ctx, id)
	})
	return err
}

func (m *Manager) refresh(ctx context.Context, id envelope.ConnID) error {
	// Re-read: a concurrent caller may have refreshed between our check and
	// entering the flight.
	c, ok := m.reg.Get(id)
	if !ok {
		return fmt.Errorf("tokens: conn %d: %w", id, registry.ErrNotFound)
	}
	if !m.now().After(c.ExpiresAt) {
		return nil
	}

	tok, err := m.refresher.Refresh(ctx, c.RefreshToken)
	if m.recorder != nil {
		m.recorder.ObserveRefresh(err)
	}
	if err != nil {
		return fmt.Errorf("%w: conn %d: %w", ErrRefreshFailed, id, err)
	}

	expires := Expiry(m.now(), tok)
	err = m.reg.Update(id, func(rec *registry.Client) {
		rec.AccessToken = tok.AccessToken
		if tok.RefreshToken != "" {
			rec.RefreshToken = tok.RefreshToken
		}
		rec.ExpiresAt = expires
	})
	if errors.Is(err, registry.ErrNotFound) {
		slog.Debug("tokens: refreshed token for departed conn dropped", "conn", id)
		return nil
	}
	if err == nil {
		slog.Debug("tokens: refreshed", "conn", id, "expires_at", expires)
	}
	return err
}
