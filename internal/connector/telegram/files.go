package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/helpdesk/internal/attachment"
)

var downloadClient = &http.Client{Timeout: 60 * time.Second}

// documentFile turns a Telegram document into a pending attachment. Files
// above the download cap are not fetched; they keep their reported size so
// the upload policy rejects them with a proper reason.
func (c *Connector) documentFile(ctx context.Context, doc *tgbotapi.Document) (attachment.File, error) {
	name := doc.FileName
	if name == "" {
		name = doc.FileUniqueID
	}
	if c.maxDownload() < int64(doc.FileSize) {
		return attachment.File{
			Name:     name,
			MimeType: doc.MimeType,
			Size:     int64(doc.FileSize),
			Open: func() (io.ReadCloser, error) {
				return nil, fmt.Errorf("telegram: %s was not downloaded: too large", name)
			},
		}, nil
	}

	data, err := c.fetch(ctx, doc.FileID)
	if err != nil {
		return attachment.File{}, err
	}
	return attachment.FromBytes(name, doc.MimeType, data), nil
}

// photoItem fetches the largest rendition of a photo. Telegram re-encodes
// photos as JPEG.
func (c *Connector) photoItem(ctx context.Context, sizes []tgbotapi.PhotoSize) (attachment.ClipboardItem, error) {
	if len(sizes) == 0 {
		return attachment.ClipboardItem{}, fmt.Errorf("telegram: photo without sizes")
	}
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height {
			best = s
		}
	}
	data, err := c.fetch(ctx, best.FileID)
	if err != nil {
		return attachment.ClipboardItem{}, err
	}
	return attachment.ClipboardItem{MimeType: "image/jpeg", Data: data}, nil
}

func (c *Connector) fetch(ctx context.Context, fileID string) ([]byte, error) {
	url, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("telegram: get file URL: %w", err)
	}
	data, err := downloadFile(ctx, url, c.maxDownload())
	if err != nil {
		return nil, fmt.Errorf("telegram: download: %w", err)
	}
	return data, nil
}

func (c *Connector) maxDownload() int64 {
	if c.config.MaxFileSize > 0 {
		return c.config.MaxFileSize
	}
	return attachment.DefaultMaxSize
}

// downloadFile reads at most limit bytes; a longer body is an error.
func downloadFile(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, fmt.Errorf("file exceeds %d bytes", limit)
	}
	return buf.Bytes(), nil
}
