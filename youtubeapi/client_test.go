package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/edustream/liveclass/oauth"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	store := &memStore{access: "tok", refresh: "ref", expiry: time.Now().Add(time.Hour)}
	m := &oauth.Manager{Store: store, Exchange: func(context.Context, string) (string, string, time.Time, error) {
		t.Fatal("refresh should not run with a fresh token")
		return "", "", time.Time{}, nil
	}}
	c := &Client{Tokens: m, Opts: []option.ClientOption{option.WithEndpoint(ts.URL)}}
	return c, ts
}

func TestCreateBroadcast(t *testing.T) {
	var gotStreamInsert, gotBroadcastInsert, gotBind bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/youtube/v3/liveStreams":
			gotStreamInsert = true
			fmt.Fprint(w, `{"id":"stream-1","cdn":{"ingestionInfo":{"streamName":"key-abc","ingestionAddress":"rtmp://a.rtmp.youtube.com/live2"}}}`)
		case "/youtube/v3/liveBroadcasts":
			gotBroadcastInsert = true
			fmt.Fprint(w, `{"id":"bcast-1"}`)
		case "/youtube/v3/liveBroadcasts/bind":
			gotBind = true
			if got := r.URL.Query().Get("streamId"); got != "stream-1" {
				t.Errorf("bind streamId = %q, want stream-1", got)
			}
			fmt.Fprint(w, `{"id":"bcast-1"}`)
		default:
			t.Errorf("unexpected request path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	})
	c, _ := newTestClient(t, handler)

	info, err := c.CreateBroadcast(context.Background(), "default", "Day 3: Goroutines", "desc", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("CreateBroadcast: %v", err)
	}
	if !gotStreamInsert || !gotBroadcastInsert || !gotBind {
		t.Fatalf("call sequence incomplete: stream=%v broadcast=%v bind=%v", gotStreamInsert, gotBroadcastInsert, gotBind)
	}
	if info.BroadcastID != "bcast-1" {
		t.Errorf("BroadcastID = %q", info.BroadcastID)
	}
	if info.StreamKey != "key-abc" {
		t.Errorf("StreamKey = %q", info.StreamKey)
	}
	if info.IngestURL != "rtmp://a.rtmp.youtube.com/live2" {
		t.Errorf("IngestURL = %q", info.IngestURL)
	}
}

func TestGetBroadcastState(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/youtube/v3/liveBroadcasts":
			fmt.Fprint(w, `{"items":[{"id":"bcast-1","status":{"lifeCycleStatus":"live"},"snippet":{"thumbnails":{"high":{"url":"http://thumb/high.jpg"}}}}]}`)
		case "/youtube/v3/videos":
			fmt.Fprint(w, `{"items":[{"id":"bcast-1","liveStreamingDetails":{"concurrentViewers":"42"}}]}`)
		default:
			http.NotFound(w, r)
		}
	})
	c, _ := newTestClient(t, handler)

	state, err := c.GetBroadcastState(context.Background(), "default", "bcast-1")
	if err != nil {
		t.Fatalf("GetBroadcastState: %v", err)
	}
	if state.LifeCycleStatus != "live" {
		t.Errorf("LifeCycleStatus = %q", state.LifeCycleStatus)
	}
	if state.ViewerCount != 42 {
		t.Errorf("ViewerCount = %d", state.ViewerCount)
	}
	if state.ThumbnailURL != "http://thumb/high.jpg" {
		t.Errorf("ThumbnailURL = %q", state.ThumbnailURL)
	}
}

func TestGetBroadcastStateNotFound(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[]}`)
	})
	c, _ := newTestClient(t, handler)

	_, err := c.GetBroadcastState(context.Background(), "default", "gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetVideoProcessingState(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/youtube/v3/videos" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"items":[{"id":"bcast-1","status":{"uploadStatus":"processed"},"contentDetails":{"duration":"PT1H2M3S"},"snippet":{"thumbnails":{"medium":{"url":"http://thumb/med.jpg"}}},"fileDetails":{"fileSize":"12345678"}}]}`)
	})
	c, _ := newTestClient(t, handler)

	state, err := c.GetVideoProcessingState(context.Background(), "default", "bcast-1")
	if err != nil {
		t.Fatalf("GetVideoProcessingState: %v", err)
	}
	if state.UploadStatus != "processed" {
		t.Errorf("UploadStatus = %q", state.UploadStatus)
	}
	if state.DurationSeconds != 3723 {
		t.Errorf("DurationSeconds = %d", state.DurationSeconds)
	}
	if state.PlaybackURL != "https://www.youtube.com/watch?v=bcast-1" {
		t.Errorf("PlaybackURL = %q", state.PlaybackURL)
	}
	if state.FileSizeBytes != 12345678 {
		t.Errorf("FileSizeBytes = %d", state.FileSizeBytes)
	}
}

func TestFindBroadcast(t *testing.T) {
	scheduled := time.Date(2026, 3, 9, 17, 0, 0, 0, time.UTC)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/youtube/v3/liveBroadcasts":
			fmt.Fprint(w, `{"items":[
				{"id":"old","snippet":{"title":"Day 3: Goroutines","scheduledStartTime":"2026-03-08T17:00:00Z"},"status":{"lifeCycleStatus":"complete"}},
				{"id":"bcast-2","snippet":{"title":"Day 3: Goroutines","scheduledStartTime":"2026-03-09T17:01:00Z"},"status":{"lifeCycleStatus":"ready"},"contentDetails":{"boundStreamId":"stream-2"}}
			]}`)
		case "/youtube/v3/liveStreams":
			fmt.Fprint(w, `{"items":[{"id":"stream-2","cdn":{"ingestionInfo":{"streamName":"key-2","ingestionAddress":"rtmp://ingest"}}}]}`)
		default:
			http.NotFound(w, r)
		}
	})
	c, _ := newTestClient(t, handler)

	info, err := c.FindBroadcast(context.Background(), "default", "Day 3: Goroutines", scheduled, 5*time.Minute)
	if err != nil {
		t.Fatalf("FindBroadcast: %v", err)
	}
	if info.BroadcastID != "bcast-2" {
		t.Errorf("BroadcastID = %q, want bcast-2 (complete broadcast must be skipped)", info.BroadcastID)
	}
	if info.StreamKey != "key-2" {
		t.Errorf("StreamKey = %q", info.StreamKey)
	}
}

func TestFindBroadcastNoMatch(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[]}`)
	})
	c, _ := newTestClient(t, handler)

	_, err := c.FindBroadcast(context.Background(), "default", "anything", time.Now(), 5*time.Minute)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestIsAuthError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"401", &googleapi.Error{Code: 401}, true},
		{"wrapped 401", fmt.Errorf("poll: %w", &googleapi.Error{Code: 401}), true},
		{"403 authError", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "authError"}}}, true},
		{"403 quota", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, false},
		{"500", &googleapi.Error{Code: 500}, false},
		{"reauth sentinel", oauth.ErrReauthRequired, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsAuthError(c.err); got != c.want {
				t.Errorf("IsAuthError = %v, want %v", got, c.want)
			}
		})
	}
}
