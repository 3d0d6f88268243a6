package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"freightdesk/pkg/channel"
	"freightdesk/pkg/fault"
)

type mediaMetadata struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	FileSize int64  `json:"file_size"`
}

var mediaExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// FetchMedia resolves the media id to a signed URL, downloads the bytes and
// stages them under images/<media id>.<ext>. Any failure is a media_fetch fault.
func (c *Client) FetchMedia(ctx context.Context, image channel.Image) (channel.Media, error) {
	if c.staging == nil {
		return channel.Media{}, fault.Wrap(fault.MediaFetch, "stage media", errNoStaging)
	}

	mediaID := strings.TrimSpace(image.MediaID)
	if !validMediaID(mediaID) {
		return channel.Media{}, fault.Newf(fault.MediaFetch, "invalid media id %q", image.MediaID)
	}

	start := time.Now()
	c.log.Debug("Media fetch started", "media_id", mediaID)

	meta, err := c.lookupMedia(ctx, mediaID)
	if err != nil {
		c.log.Error("Media fetch failed", "media_id", mediaID, "stage", "metadata", "error", err)
		return channel.Media{}, err
	}

	data, contentType, err := c.download(ctx, meta.URL)
	if err != nil {
		c.log.Error("Media fetch failed", "media_id", mediaID, "stage", "download", "error", err)
		return channel.Media{}, err
	}

	mimeType := firstNonEmpty(meta.MimeType, image.MimeType, contentType)
	relPath := path.Join(c.mediaDir, mediaID+extensionFor(mimeType))

	written, err := c.staging.WriteFile(ctx, relPath, data)
	if err != nil {
		c.log.Error("Media fetch failed", "media_id", mediaID, "stage", "write", "error", err)
		return channel.Media{}, fault.Wrap(fault.MediaFetch, "stage "+relPath, err)
	}

	c.log.Info("Media fetch completed",
		"media_id", mediaID,
		"path", written.RelPath,
		"bytes", written.BytesWritten,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return channel.Media{
		MediaID:  mediaID,
		Path:     written.Path,
		Caption:  image.Caption,
		MimeType: mimeType,
		Data:     data,
	}, nil
}

func (c *Client) lookupMedia(ctx context.Context, mediaID string) (mediaMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.graphURL(mediaID), nil)
	if err != nil {
		return mediaMetadata{}, fault.Wrap(fault.MediaFetch, "build metadata request", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return mediaMetadata{}, fault.Wrap(fault.MediaFetch, "request media metadata", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return mediaMetadata{}, fault.Wrap(fault.MediaFetch, "read media metadata", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mediaMetadata{}, fault.Newf(fault.MediaFetch, "media metadata status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var meta mediaMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return mediaMetadata{}, fault.Wrap(fault.MediaFetch, "decode media metadata", err)
	}
	if strings.TrimSpace(meta.URL) == "" {
		return mediaMetadata{}, fault.New(fault.MediaFetch, "media metadata has no url")
	}

	return meta, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fault.Wrap(fault.MediaFetch, "build download request", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fault.Wrap(fault.MediaFetch, "download media", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fault.Newf(fault.MediaFetch, "media download status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, "", fault.Wrap(fault.MediaFetch, "read media bytes", err)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fault.Newf(fault.MediaFetch, "media exceeds %d bytes", maxMediaBytes)
	}
	if len(data) == 0 {
		return nil, "", fault.New(fault.MediaFetch, "media download was empty")
	}

	return data, resp.Header.Get("Content-Type"), nil
}

func validMediaID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}

	return !strings.ContainsAny(id, `/\`)
}

func extensionFor(mimeType string) string {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	if ext, ok := mediaExtensions[base]; ok {
		return ext
	}

	return ".jpg"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}

	return ""
}
