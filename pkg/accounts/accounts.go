// Package accounts is the narrow capability interface the hub and workers use
// to talk to the music-streaming account service: authorization-code
// exchange, token refresh, listening history, playlists and playback.
//
// Spotify is the production implementation. Tests substitute a fake Service.
package accounts

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyToken is returned when an access or refresh token argument is empty.
var ErrEmptyToken = errors.New("accounts: empty token")

// Token is the result of an exchange or refresh.
//
// RefreshToken is empty when a refresh did not rotate the refresh token; the
// caller keeps the one it already holds.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Service is the external account-service capability.
type Service interface {
	// Exchange trades an authorization code for an access/refresh token pair.
	Exchange(ctx context.Context, authCode string) (Token, error)

	// Refresh obtains a new access token using a refresh token.
	Refresh(ctx context.Context, refreshToken string) (Token, error)

	// TopTracks returns the track ids of the account's most played tracks.
	TopTracks(ctx context.Context, accessToken string) ([]string, error)

	// CreatePlaylist creates a playlist on the account holding accessToken and
	// fills it with trackIDs. It returns the owner and playlist ids.
	CreatePlaylist(ctx context.Context, accessToken string, trackIDs []string) (ownerID, playlistID string, err error)

	// FollowPlaylist makes the account holding accessToken follow a playlist.
	FollowPlaylist(ctx context.Context, accessToken, ownerID, playlistID string) error

	// Pause pauses playback on the account's active device.
	Pause(ctx context.Context, accessToken string) error

	// Play resumes playback on the account's active device.
	Play(ctx context.Context, accessToken string) error
}
