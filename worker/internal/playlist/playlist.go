// Package playlist builds a mutual playlist from two accounts' listening
// history.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrTooFewAccounts is returned when a job carries fewer than two tokens.
	ErrTooFewAccounts = errors.New("playlist: at least two accounts are required")

	// ErrNoCommonTracks is returned when the accounts share no top tracks.
	// No playlist is created.
	ErrNoCommonTracks = errors.New("playlist: accounts have no tracks in common")
)

// Service is the part of the account service the builder calls.
type Service interface {
	TopTracks(ctx context.Context, accessToken string) ([]string, error)
	CreatePlaylist(ctx context.Context, accessToken string, trackIDs []string) (ownerID, playlistID string, err error)
	FollowPlaylist(ctx context.Context, accessToken, ownerID, playlistID string) error
}

// Result describes a created playlist.
type Result struct {
	OwnerID    string
	PlaylistID string
	Tracks     int
}

// Builder turns MakeMutualPlaylist jobs into playlists.
type Builder struct {
	svc        Service
	jobTimeout time.Duration
}

// New returns a Builder. A non-positive jobTimeout means no per-job limit.
func New(svc Service, jobTimeout time.Duration) *Builder {
	return &Builder{svc: svc, jobTimeout: jobTimeout}
}

// Build reads the top tracks of the first two accounts, keeps the tracks
// both share in the first account's order, creates a playlist of them on the
// first account and makes the second account follow it. Tokens beyond the
// second are ignored.
func (b *Builder) Build(ctx context.Context, accessTokens []string) (Result, error) {
	if len(accessTokens) < 2 {
		return Result{}, fmt.Errorf("%w: got %d", ErrTooFewAccounts, len(accessTokens))
	}
	owner, follower := accessTokens[0], accessTokens[1]

	var ownerTracks, followerTracks []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ownerTracks, err = b.svc.TopTracks(gctx, owner)
		if err != nil {
			return fmt.Errorf("playlist: top tracks of first account: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		followerTracks, err = b.svc.TopTracks(gctx, follower)
		if err != nil {
			return fmt.Errorf("playlist: top tracks of second account: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	common := Intersect(ownerTracks, followerTracks)
	if len(common) == 0 {
		return Result{}, ErrNoCommonTracks
	}

	ownerID, playlistID, err := b.svc.CreatePlaylist(ctx, owner, common)
	if err != nil {
		return Result{}, fmt.Errorf("playlist: create: %w", err)
	}
	res := Result{OwnerID: ownerID, PlaylistID: playlistID, Tracks: len(common)}

	if err := b.svc.FollowPlaylist(ctx, follower, ownerID, playlistID); err != nil {
		return res, fmt.Errorf("playlist: follow %s: %w", playlistID, err)
	}
	return res, nil
}

// Handle runs one job and logs its outcome. It has the signature of a
// hubconn.JobFunc and never fails the worker.
func (b *Builder) Handle(ctx context.Context, accessTokens []string) {
	if b.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.jobTimeout)
		defer cancel()
	}

	job := uuid.NewString()
	start := time.Now()
	slog.Info("playlist: job started", "job", job, "accounts", len(accessTokens))

	res, err := b.Build(ctx, accessTokens)
	if err != nil {
		slog.Error("playlist: job failed",
			"job", job,
			"err", err,
			"playlist", res.PlaylistID,
			"elapsed", time.Since(start))
		return
	}
	slog.Info("playlist: job done",
		"job", job,
		"owner", res.OwnerID,
		"playlist", res.PlaylistID,
		"tracks", res.Tracks,
		"elapsed", time.Since(start))
}

// Intersect returns the ids present in both a and b, in a's order, each at
// most once.
func Intersect(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(a))
	out := []string{}
	for _, id := range a {
		if _, ok := inB[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
