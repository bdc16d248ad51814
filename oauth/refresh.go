package oauth

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/edustream/liveclass/db"
)

// StartRefresher launches a goroutine that periodically walks all stored
// credentials and refreshes any whose remaining lifetime falls within window.
// Jittered so multiple instances don't stampede the identity provider; the
// per-account single flight in Manager is the real guard.
func StartRefresher(ctx context.Context, dbc *sql.DB, m *Manager, interval, window time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if window <= 0 {
		window = 20 * time.Minute
	}
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			accounts, err := db.ListCredentialAccounts(ctx, dbc)
			if err != nil {
				slog.Warn("credential list failed", slog.Any("err", err))
				continue
			}
			for _, account := range accounts {
				_, _, expiry, reauth, err := m.Store.GetCredential(ctx, account)
				if err != nil || reauth {
					continue
				}
				if time.Until(expiry) > window {
					continue
				}
				rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
				_, err = m.ForceRefresh(rctx, account)
				cancel()
				switch {
				case err == nil:
					slog.Info("token refreshed", slog.String("account", account))
				case errors.Is(err, ErrReauthRequired):
					slog.Error("refresh token revoked; operator reauthorization required", slog.String("account", account))
				default:
					slog.Warn("token refresh failed", slog.String("account", account), slog.Any("err", err))
				}
			}
		}
	}()
}
