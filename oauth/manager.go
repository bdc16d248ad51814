// Package oauth manages per-account OAuth credentials: on-demand access with
// single-flight refresh, and a background refresher that keeps tokens fresh
// ahead of expiry.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edustream/liveclass/telemetry"
)

// ErrReauthRequired is returned when the stored refresh token is missing or
// revoked. Terminal for the account: an operator must redo the authorization
// flow; nothing retries this automatically.
var ErrReauthRequired = errors.New("reauthorization required")

// ExchangeFunc performs the provider-specific refresh grant and returns the
// new access token, the (possibly rotated) refresh token, and absolute expiry.
type ExchangeFunc func(ctx context.Context, refreshToken string) (access, refresh string, expiry time.Time, err error)

// CredentialStore persists per-account credentials. The db package provides
// the Postgres implementation.
type CredentialStore interface {
	GetCredential(ctx context.Context, accountID string) (access, refresh string, expiry time.Time, reauth bool, err error)
	UpsertCredential(ctx context.Context, accountID, access, refresh string, expiry time.Time, scope string) error
	MarkReauthRequired(ctx context.Context, accountID string) error
}

// Manager hands out valid access tokens, refreshing lazily when the stored
// token is within Margin of expiry. Concurrent refreshes for the same account
// are coalesced: providers rate-limit (or invalidate) parallel refreshes of
// the same token, so at most one exchange is in flight per account.
type Manager struct {
	Store    CredentialStore
	Exchange ExchangeFunc
	Margin   time.Duration

	group singleflight.Group
}

// AccessToken returns a token valid for at least Margin. It refreshes through
// the single-flight group when the stored token is expired or close to it.
func (m *Manager) AccessToken(ctx context.Context, accountID string) (string, error) {
	access, _, expiry, reauth, err := m.Store.GetCredential(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if reauth {
		return "", ErrReauthRequired
	}
	margin := m.Margin
	if margin <= 0 {
		margin = 2 * time.Minute
	}
	if access != "" && time.Until(expiry) > margin {
		return access, nil
	}
	return m.refresh(ctx, accountID)
}

// ForceRefresh refreshes the account's token regardless of remaining
// lifetime, still coalesced per account. Used after the provider rejects a
// call with an auth-expiry signal, and by the background refresher.
func (m *Manager) ForceRefresh(ctx context.Context, accountID string) (string, error) {
	return m.refresh(ctx, accountID)
}

func (m *Manager) refresh(ctx context.Context, accountID string) (string, error) {
	v, err, _ := m.group.Do(accountID, func() (any, error) {
		access, refreshTok, expiry, reauth, err := m.Store.GetCredential(ctx, accountID)
		if err != nil {
			return "", fmt.Errorf("load credential: %w", err)
		}
		if reauth {
			return "", ErrReauthRequired
		}
		// Another caller may have completed the refresh while we queued.
		margin := m.Margin
		if margin <= 0 {
			margin = 2 * time.Minute
		}
		if access != "" && time.Until(expiry) > margin {
			return access, nil
		}
		if refreshTok == "" {
			return "", ErrReauthRequired
		}
		newAccess, newRefresh, newExpiry, err := m.Exchange(ctx, refreshTok)
		if err != nil {
			if telemetry.TokenRefreshFails != nil {
				telemetry.TokenRefreshFails.Inc()
			}
			if IsRevokedGrant(err) {
				if markErr := m.Store.MarkReauthRequired(ctx, accountID); markErr != nil {
					return "", fmt.Errorf("mark reauth after revoked grant: %w", markErr)
				}
				return "", fmt.Errorf("%w: %v", ErrReauthRequired, err)
			}
			return "", fmt.Errorf("refresh exchange: %w", err)
		}
		if newRefresh == "" {
			newRefresh = refreshTok
		}
		if err := m.Store.UpsertCredential(ctx, accountID, newAccess, newRefresh, newExpiry, ""); err != nil {
			return "", fmt.Errorf("persist refreshed credential: %w", err)
		}
		if telemetry.TokenRefreshes != nil {
			telemetry.TokenRefreshes.Inc()
		}
		return newAccess, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// IsRevokedGrant reports whether a refresh failure means the refresh token
// itself is invalid (revoked or expired), as opposed to a transient failure.
func IsRevokedGrant(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "invalid_rapt")
}
