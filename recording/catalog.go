package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/edustream/liveclass/youtubeapi"
)

// WebhookCatalog delivers finished recordings to the course content service
// as a JSON POST. The response must include the catalog entry id.
type WebhookCatalog struct {
	URL        string
	HTTPClient *http.Client
}

func (c *WebhookCatalog) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *WebhookCatalog) IngestRecording(ctx context.Context, sessionID string, v youtubeapi.VideoState) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"session_id":       sessionID,
		"playback_url":     v.PlaybackURL,
		"thumbnail_url":    v.ThumbnailURL,
		"duration_seconds": v.DurationSeconds,
		"file_size_bytes":  v.FileSizeBytes,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("catalog ingest failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode catalog response: %w", err)
	}
	return body.ID, nil
}
