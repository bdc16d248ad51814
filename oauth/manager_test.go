package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeStore is an in-memory CredentialStore.
type fakeStore struct {
	mu      sync.Mutex
	access  string
	refresh string
	expiry  time.Time
	reauth  bool

	upserts int
	marks   int
}

func (f *fakeStore) GetCredential(_ context.Context, _ string) (string, string, time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access, f.refresh, f.expiry, f.reauth, nil
}

func (f *fakeStore) UpsertCredential(_ context.Context, _, access, refresh string, expiry time.Time, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.access, f.refresh, f.expiry = access, refresh, expiry
	f.reauth = false
	f.upserts++
	return nil
}

func (f *fakeStore) MarkReauthRequired(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reauth = true
	f.marks++
	return nil
}

func TestAccessTokenReturnsStoredWhenFresh(t *testing.T) {
	store := &fakeStore{access: "tok", refresh: "ref", expiry: time.Now().Add(time.Hour)}
	m := &Manager{Store: store, Margin: 2 * time.Minute, Exchange: func(context.Context, string) (string, string, time.Time, error) {
		t.Fatal("exchange should not be called for a fresh token")
		return "", "", time.Time{}, nil
	}}
	got, err := m.AccessToken(context.Background(), "default")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got != "tok" {
		t.Fatalf("got %q, want stored token", got)
	}
}

func TestAccessTokenRefreshesWithinMargin(t *testing.T) {
	store := &fakeStore{access: "old", refresh: "ref", expiry: time.Now().Add(30 * time.Second)}
	m := &Manager{Store: store, Margin: 2 * time.Minute, Exchange: func(_ context.Context, refresh string) (string, string, time.Time, error) {
		if refresh != "ref" {
			t.Errorf("exchange got refresh %q", refresh)
		}
		return "new", "", time.Now().Add(time.Hour), nil
	}}
	got, err := m.AccessToken(context.Background(), "default")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got != "new" {
		t.Fatalf("got %q, want refreshed token", got)
	}
	if store.access != "new" {
		t.Fatalf("refreshed token not persisted, store has %q", store.access)
	}
	// Provider omitted a rotated refresh token; the old one must survive.
	if store.refresh != "ref" {
		t.Fatalf("refresh token not preserved, store has %q", store.refresh)
	}
}

func TestRefreshTokenRotationPersisted(t *testing.T) {
	store := &fakeStore{access: "old", refresh: "ref1", expiry: time.Now().Add(-time.Minute)}
	m := &Manager{Store: store, Exchange: func(context.Context, string) (string, string, time.Time, error) {
		return "new", "ref2", time.Now().Add(time.Hour), nil
	}}
	if _, err := m.AccessToken(context.Background(), "default"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if store.refresh != "ref2" {
		t.Fatalf("rotated refresh token not persisted, store has %q", store.refresh)
	}
}

func TestConcurrentRefreshCoalesced(t *testing.T) {
	store := &fakeStore{access: "old", refresh: "ref", expiry: time.Now().Add(-time.Minute)}
	var calls atomic.Int64
	release := make(chan struct{})
	m := &Manager{Store: store, Exchange: func(context.Context, string) (string, string, time.Time, error) {
		calls.Add(1)
		<-release
		return "new", "", time.Now().Add(time.Hour), nil
	}}

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.AccessToken(context.Background(), "default")
		}(i)
	}
	// Give the goroutines time to pile into the flight, then release it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("exchange called %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != "new" {
			t.Fatalf("caller %d got %q", i, results[i])
		}
	}
}

func TestMissingRefreshTokenIsReauth(t *testing.T) {
	store := &fakeStore{access: "old", refresh: "", expiry: time.Now().Add(-time.Minute)}
	m := &Manager{Store: store, Exchange: func(context.Context, string) (string, string, time.Time, error) {
		t.Fatal("exchange should not run without a refresh token")
		return "", "", time.Time{}, nil
	}}
	_, err := m.AccessToken(context.Background(), "default")
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("err = %v, want ErrReauthRequired", err)
	}
}

func TestRevokedGrantMarksReauth(t *testing.T) {
	store := &fakeStore{access: "old", refresh: "ref", expiry: time.Now().Add(-time.Minute)}
	m := &Manager{Store: store, Exchange: func(context.Context, string) (string, string, time.Time, error) {
		return "", "", time.Time{}, fmt.Errorf("oauth2: %q", "invalid_grant")
	}}
	_, err := m.AccessToken(context.Background(), "default")
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("err = %v, want ErrReauthRequired", err)
	}
	if store.marks != 1 {
		t.Fatalf("MarkReauthRequired called %d times, want 1", store.marks)
	}
	// Subsequent calls short-circuit on the stored flag without exchanging.
	m.Exchange = func(context.Context, string) (string, string, time.Time, error) {
		t.Fatal("exchange should not run for a reauth-flagged account")
		return "", "", time.Time{}, nil
	}
	if _, err := m.AccessToken(context.Background(), "default"); !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("err = %v, want ErrReauthRequired", err)
	}
}

func TestTransientRefreshFailureNotReauth(t *testing.T) {
	store := &fakeStore{access: "old", refresh: "ref", expiry: time.Now().Add(-time.Minute)}
	m := &Manager{Store: store, Exchange: func(context.Context, string) (string, string, time.Time, error) {
		return "", "", time.Time{}, errors.New("connection reset by peer")
	}}
	_, err := m.AccessToken(context.Background(), "default")
	if err == nil {
		t.Fatal("want error")
	}
	if errors.Is(err, ErrReauthRequired) {
		t.Fatal("transient failure must not flag reauth")
	}
	if store.marks != 0 {
		t.Fatalf("MarkReauthRequired called %d times, want 0", store.marks)
	}
}

func TestIsRevokedGrant(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("oauth2: \"invalid_grant\" \"Token has been expired or revoked.\""), true},
		{errors.New("invalid_rapt"), true},
		{errors.New("timeout awaiting response"), false},
	}
	for _, c := range cases {
		if got := IsRevokedGrant(c.err); got != c.want {
			t.Errorf("IsRevokedGrant(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
