package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/edustream/liveclass/oauth"
)

// ErrNotFound is returned when the provider has no broadcast or video with the
// requested id.
var ErrNotFound = errors.New("not found on provider")

// BroadcastInfo is the result of creating (or adopting) a broadcast: the ids
// and ingest parameters the instructor's encoder needs.
type BroadcastInfo struct {
	BroadcastID string
	StreamKey   string
	IngestURL   string
}

// BroadcastState is a point-in-time snapshot of a broadcast used by the
// reconciler. LifeCycleStatus is the authoritative field for transitions.
type BroadcastState struct {
	LifeCycleStatus string
	ThumbnailURL    string
	ViewerCount     int
}

// VideoState reports post-broadcast processing of the recording.
type VideoState struct {
	UploadStatus    string
	PlaybackURL     string
	ThumbnailURL    string
	DurationSeconds int
	FileSizeBytes   int64
}

// Client issues YouTube Live API calls using per-account tokens from the
// manager. Extra options (custom endpoint, HTTP client) support tests.
type Client struct {
	Tokens *oauth.Manager
	Opts   []option.ClientOption
}

func (c *Client) service(ctx context.Context, accountID string) (*yt.Service, error) {
	tok, err := c.Tokens.AccessToken(ctx, accountID)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok}))}
	opts = append(opts, c.Opts...)
	return yt.NewService(ctx, opts...)
}

// CreateBroadcast provisions a live broadcast: inserts a liveStream (ingest
// endpoint), inserts a liveBroadcast scheduled at start, and binds the two.
// The broadcast auto-starts when the encoder begins sending and auto-stops
// when it stops.
func (c *Client) CreateBroadcast(ctx context.Context, accountID, title, description string, start time.Time) (BroadcastInfo, error) {
	svc, err := c.service(ctx, accountID)
	if err != nil {
		return BroadcastInfo{}, err
	}

	stream, err := svc.LiveStreams.Insert([]string{"snippet", "cdn"}, &yt.LiveStream{
		Snippet: &yt.LiveStreamSnippet{Title: title},
		Cdn: &yt.CdnSettings{
			IngestionType: "rtmp",
			FrameRate:     "variable",
			Resolution:    "variable",
		},
	}).Context(ctx).Do()
	if err != nil {
		return BroadcastInfo{}, fmt.Errorf("insert live stream: %w", err)
	}

	broadcast, err := svc.LiveBroadcasts.Insert([]string{"snippet", "status", "contentDetails"}, &yt.LiveBroadcast{
		Snippet: &yt.LiveBroadcastSnippet{
			Title:              title,
			Description:        description,
			ScheduledStartTime: start.UTC().Format(time.RFC3339),
		},
		Status: &yt.LiveBroadcastStatus{PrivacyStatus: "unlisted"},
		ContentDetails: &yt.LiveBroadcastContentDetails{
			EnableAutoStart: true,
			EnableAutoStop:  true,
		},
	}).Context(ctx).Do()
	if err != nil {
		return BroadcastInfo{}, fmt.Errorf("insert live broadcast: %w", err)
	}

	if _, err := svc.LiveBroadcasts.Bind(broadcast.Id, []string{"id", "contentDetails"}).StreamId(stream.Id).Context(ctx).Do(); err != nil {
		return BroadcastInfo{}, fmt.Errorf("bind broadcast %s to stream %s: %w", broadcast.Id, stream.Id, err)
	}

	info := BroadcastInfo{BroadcastID: broadcast.Id}
	if stream.Cdn != nil && stream.Cdn.IngestionInfo != nil {
		info.StreamKey = stream.Cdn.IngestionInfo.StreamName
		info.IngestURL = stream.Cdn.IngestionInfo.IngestionAddress
	}
	return info, nil
}

// GetBroadcastState fetches the broadcast lifecycle status plus best-effort
// viewer count and thumbnail. Returns ErrNotFound when the broadcast id no
// longer resolves (deleted by the operator in the provider console).
func (c *Client) GetBroadcastState(ctx context.Context, accountID, broadcastID string) (BroadcastState, error) {
	svc, err := c.service(ctx, accountID)
	if err != nil {
		return BroadcastState{}, err
	}
	resp, err := svc.LiveBroadcasts.List([]string{"id", "status", "snippet"}).Id(broadcastID).Context(ctx).Do()
	if err != nil {
		return BroadcastState{}, fmt.Errorf("list broadcast %s: %w", broadcastID, err)
	}
	if len(resp.Items) == 0 {
		return BroadcastState{}, fmt.Errorf("broadcast %s: %w", broadcastID, ErrNotFound)
	}
	b := resp.Items[0]
	state := BroadcastState{}
	if b.Status != nil {
		state.LifeCycleStatus = b.Status.LifeCycleStatus
	}
	state.ThumbnailURL = bestThumbnail(b.Snippet)

	// Viewer count lives on the video resource; the broadcast id doubles as
	// the video id. Failure here shouldn't fail the whole poll.
	if vresp, verr := svc.Videos.List([]string{"liveStreamingDetails"}).Id(broadcastID).Context(ctx).Do(); verr == nil && len(vresp.Items) > 0 {
		if d := vresp.Items[0].LiveStreamingDetails; d != nil {
			state.ViewerCount = int(d.ConcurrentViewers)
		}
	}
	return state, nil
}

// GetVideoProcessingState reports the recording's processing status. The
// recording is usable only once UploadStatus is "processed".
func (c *Client) GetVideoProcessingState(ctx context.Context, accountID, videoID string) (VideoState, error) {
	svc, err := c.service(ctx, accountID)
	if err != nil {
		return VideoState{}, err
	}
	resp, err := svc.Videos.List([]string{"status", "contentDetails", "snippet", "fileDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return VideoState{}, fmt.Errorf("list video %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 {
		return VideoState{}, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	v := resp.Items[0]
	state := VideoState{PlaybackURL: "https://www.youtube.com/watch?v=" + videoID}
	if v.Status != nil {
		state.UploadStatus = v.Status.UploadStatus
	}
	if v.ContentDetails != nil {
		state.DurationSeconds = parseISODurationSeconds(v.ContentDetails.Duration)
	}
	if v.Snippet != nil {
		state.ThumbnailURL = bestThumbnail(&yt.LiveBroadcastSnippet{Thumbnails: v.Snippet.Thumbnails})
	}
	if v.FileDetails != nil {
		state.FileSizeBytes = int64(v.FileDetails.FileSize)
	}
	return state, nil
}

// FindBroadcast looks for an existing upcoming or active broadcast matching
// title and scheduled start (within tolerance). Used to adopt a broadcast
// created by a crashed predecessor instead of provisioning a duplicate.
// Returns ErrNotFound when no candidate matches.
func (c *Client) FindBroadcast(ctx context.Context, accountID, title string, scheduledStart time.Time, tolerance time.Duration) (BroadcastInfo, error) {
	svc, err := c.service(ctx, accountID)
	if err != nil {
		return BroadcastInfo{}, err
	}
	resp, err := svc.LiveBroadcasts.List([]string{"id", "snippet", "status", "contentDetails"}).
		Mine(true).MaxResults(50).Context(ctx).Do()
	if err != nil {
		return BroadcastInfo{}, fmt.Errorf("list own broadcasts: %w", err)
	}
	for _, b := range resp.Items {
		if b.Snippet == nil || b.Snippet.Title != title {
			continue
		}
		if b.Status != nil {
			switch b.Status.LifeCycleStatus {
			case "complete", "revoked":
				continue
			}
		}
		start, perr := time.Parse(time.RFC3339, b.Snippet.ScheduledStartTime)
		if perr != nil {
			continue
		}
		if d := start.Sub(scheduledStart); d < -tolerance || d > tolerance {
			continue
		}
		info := BroadcastInfo{BroadcastID: b.Id}
		if b.ContentDetails != nil && b.ContentDetails.BoundStreamId != "" {
			if sresp, serr := svc.LiveStreams.List([]string{"cdn"}).Id(b.ContentDetails.BoundStreamId).Context(ctx).Do(); serr == nil && len(sresp.Items) > 0 {
				if cdn := sresp.Items[0].Cdn; cdn != nil && cdn.IngestionInfo != nil {
					info.StreamKey = cdn.IngestionInfo.StreamName
					info.IngestURL = cdn.IngestionInfo.IngestionAddress
				}
			}
		}
		return info, nil
	}
	return BroadcastInfo{}, ErrNotFound
}

// IsAuthError reports whether a provider error means the access token was
// rejected, i.e. the caller should force a refresh and retry once.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, oauth.ErrReauthRequired) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 401 {
			return true
		}
		if gerr.Code == 403 {
			for _, e := range gerr.Errors {
				if e.Reason == "authError" {
					return true
				}
			}
		}
	}
	return false
}

func bestThumbnail(sn *yt.LiveBroadcastSnippet) string {
	if sn == nil || sn.Thumbnails == nil {
		return ""
	}
	t := sn.Thumbnails
	for _, cand := range []*yt.Thumbnail{t.Maxres, t.High, t.Medium, t.Default} {
		if cand != nil && cand.Url != "" {
			return cand.Url
		}
	}
	return ""
}

// parseISODurationSeconds converts the API's ISO 8601 duration ("PT1H2M3S")
// to seconds. Returns 0 on anything it can't parse.
func parseISODurationSeconds(s string) int {
	s = strings.TrimPrefix(s, "PT")
	if s == "" {
		return 0
	}
	total := 0
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
		case r == 'H' || r == 'M' || r == 'S':
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0
			}
			switch r {
			case 'H':
				total += n * 3600
			case 'M':
				total += n * 60
			case 'S':
				total += n
			}
			num = ""
		default:
			return 0
		}
	}
	return total
}
