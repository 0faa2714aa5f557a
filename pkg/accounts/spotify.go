package accounts

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
	spotifyoauth "golang.org/x/oauth2/spotify"
)

// Defaults for Options fields left at their zero value.
const (
	DefaultTimeout             = 10 * time.Second
	DefaultBatchSize           = 20
	DefaultPlaylistName        = "MutualPlaylist"
	DefaultPlaylistDescription = "MutualPlaylist"
	topTracksLimit             = 50
)

// Scopes requested for every account: top tracks, playlist editing and playback control.
var Scopes = []string{
	"user-read-private",
	"user-top-read",
	"playlist-modify-private",
	"playlist-modify-public",
	"user-modify-playback-state",
}

// Options configures a Spotify client.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Timeout bounds every individual call to the account service.
	Timeout time.Duration

	// PlaylistName and PlaylistDescription are used by CreatePlaylist.
	PlaylistName        string
	PlaylistDescription string

	// BatchSize is how many tracks are added to a playlist per request.
	BatchSize int

	// TokenURL and APIBaseURL override the public endpoints. Tests point
	// them at an httptest server; leave empty in production.
	TokenURL   string
	APIBaseURL string

	// HTTPClient is the base client for all requests (default http.DefaultClient).
	HTTPClient *http.Client
}

// Spotify implements Service against the Spotify Web API.
type Spotify struct {
	oauth *oauth2.Config
	opts  Options
}

// NewSpotify returns a Spotify client with defaults applied to opts.
func NewSpotify(opts Options) *Spotify {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PlaylistName == "" {
		opts.PlaylistName = DefaultPlaylistName
	}
	if opts.PlaylistDescription == "" {
		opts.PlaylistDescription = DefaultPlaylistDescription
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	endpoint := spotifyoauth.Endpoint
	if opts.TokenURL != "" {
		endpoint = oauth2.Endpoint{TokenURL: opts.TokenURL, AuthStyle: oauth2.AuthStyleInHeader}
	}

	return &Spotify{
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       Scopes,
			Endpoint:     endpoint,
		},
		opts: opts,
	}
}

// Exchange implements Service.
func (s *Spotify) Exchange(ctx context.Context, authCode string) (Token, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	tok, err := s.oauth.Exchange(ctx, authCode)
	if err != nil {
		return Token{}, fmt.Errorf("accounts: exchange code: %w", err)
	}
	return toToken(tok), nil
}

// Refresh implements Service.
func (s *Spotify) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	if refreshToken == "" {
		return Token{}, ErrEmptyToken
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	// A token with no access token is never valid, so the source always refreshes.
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return Token{}, fmt.Errorf("accounts: refresh token: %w", err)
	}
	out := toToken(tok)
	if out.RefreshToken == refreshToken {
		out.RefreshToken = ""
	}
	return out, nil
}

// TopTracks implements Service. It merges the short, medium and long term
// rankings, in that order, and may contain duplicates.
func (s *Spotify) TopTracks(ctx context.Context, accessToken string) ([]string, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	client, err := s.apiClient(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, r := range []spotify.Range{spotify.ShortTermRange, spotify.MediumTermRange, spotify.LongTermRange} {
		page, err := client.CurrentUsersTopTracks(ctx, spotify.Limit(topTracksLimit), spotify.Timerange(r))
		if err != nil {
			return nil, fmt.Errorf("accounts: top tracks (%s): %w", r, err)
		}
		for _, tr := range page.Tracks {
			if tr.ID != "" {
				ids = append(ids, string(tr.ID))
			}
		}
	}
	return ids, nil
}

// CreatePlaylist implements Service. The playlist is private and
// collaborative so that followers can add to it.
func (s *Spotify) CreatePlaylist(ctx context.Context, accessToken string, trackIDs []string) (string, string, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	client, err := s.apiClient(ctx, accessToken)
	if err != nil {
		return "", "", err
	}

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return "", "", fmt.Errorf("accounts: current user: %w", err)
	}

	pl, err := client.CreatePlaylistForUser(ctx, user.ID, s.opts.PlaylistName, s.opts.PlaylistDescription, false, true)
	if err != nil {
		return "", "", fmt.Errorf("accounts: create playlist: %w", err)
	}

	for _, batch := range batches(trackIDs, s.opts.BatchSize) {
		ids := make([]spotify.ID, len(batch))
		for i, id := range batch {
			ids[i] = spotify.ID(id)
		}
		if _, err := client.AddTracksToPlaylist(ctx, pl.ID, ids...); err != nil {
			return "", "", fmt.Errorf("accounts: add tracks to %s: %w", pl.ID, err)
		}
	}
	return user.ID, string(pl.ID), nil
}

// FollowPlaylist implements Service. The Web API addresses playlists by id
// alone; ownerID is accepted for interface symmetry.
func (s *Spotify) FollowPlaylist(ctx context.Context, accessToken, _, playlistID string) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	client, err := s.apiClient(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := client.FollowPlaylist(ctx, spotify.ID(playlistID), false); err != nil {
		return fmt.Errorf("accounts: follow playlist %s: %w", playlistID, err)
	}
	return nil
}

// Pause implements Service.
func (s *Spotify) Pause(ctx context.Context, accessToken string) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	client, err := s.apiClient(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := client.Pause(ctx); err != nil {
		return fmt.Errorf("accounts: pause: %w", err)
	}
	return nil
}

// Play implements Service.
func (s *Spotify) Play(ctx context.Context, accessToken string) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	client, err := s.apiClient(ctx, accessToken)
	if err != nil {
		return err
	}
	if err := client.Play(ctx); err != nil {
		return fmt.Errorf("accounts: play: %w", err)
	}
	return nil
}

// --- internal ---------------------------------------------------------------

func (s *Spotify) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.opts.HTTPClient)
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// apiClient builds a Web API client authorised with a bare access token.
func (s *Spotify) apiClient(ctx context.Context, accessToken string) (*spotify.Client, error) {
	if accessToken == "" {
		return nil, ErrEmptyToken
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
	var opts []spotify.ClientOption
	if s.opts.APIBaseURL != "" {
		opts = append(opts, spotify.WithBaseURL(s.opts.APIBaseURL))
	}
	return spotify.New(httpClient, opts...), nil
}

func toToken(tok *oauth2.Token) Token {
	out := Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		out.ExpiresIn = time.Until(tok.Expiry).Round(time.Second)
	}
	return out
}

// batches splits ids into consecutive slices of at most size elements.
func batches(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
