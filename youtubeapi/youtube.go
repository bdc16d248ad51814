// Package youtubeapi wraps the Google OAuth2 client config and the YouTube
// Live Streaming API for creating, binding, and polling live broadcasts.
// Credentials are persisted through the oauth.CredentialStore so workers can
// refresh and reuse them.
package youtubeapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/edustream/liveclass/config"
	"github.com/edustream/liveclass/oauth"
)

// Service holds the OAuth2 client configuration and the credential store for
// the authorization-code flow (operator connects the broadcast account) and
// the refresh grant used by the token manager.
type Service struct {
	cfg   *config.Config
	store oauth.CredentialStore
	oauth *oauth2.Config
}

func New(cfg *config.Config, store oauth.CredentialStore) *Service {
	scopes := []string{"https://www.googleapis.com/auth/youtube"}
	if cfg.GoogleScopes != "" {
		// allow comma or space separated
		s := strings.ReplaceAll(cfg.GoogleScopes, ",", " ")
		if fields := strings.Fields(s); len(fields) > 0 {
			scopes = fields
		}
	}
	oc := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.GoogleRedirectURI,
		Scopes:       scopes,
	}
	return &Service{cfg: cfg, store: store, oauth: oc}
}

// AuthCodeURL builds the consent URL. Offline access and forced approval are
// required or Google won't return a refresh token on repeat grants.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and persists them under the
// configured broadcast account.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		return nil, errors.New("authorization response missing refresh token; remove the app's prior grant and retry")
	}
	scope := strings.Join(s.oauth.Scopes, " ")
	if err := s.store.UpsertCredential(ctx, s.cfg.BroadcastAccountID, tok.AccessToken, tok.RefreshToken, tok.Expiry, scope); err != nil {
		return nil, err
	}
	return tok, nil
}

// RefreshExchange performs a refresh grant and returns the new access token,
// the rotated refresh token when the provider sends one, and absolute expiry.
// Satisfies oauth.ExchangeFunc.
func (s *Service) RefreshExchange(ctx context.Context, refreshToken string) (string, string, time.Time, error) {
	ts := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return "", "", time.Time{}, err
	}
	return tok.AccessToken, tok.RefreshToken, tok.Expiry, nil
}
