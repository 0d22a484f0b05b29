package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDownloadTimeout is the default timeout for image downloads
	DefaultDownloadTimeout = 30 * time.Second
	// DefaultMaxImageSize is the default maximum image size (20MB, Telegram's bot download cap)
	DefaultMaxImageSize = 20 * 1024 * 1024
)

var (
	// ErrDownloadFailed wraps every other download failure.
	ErrDownloadFailed = errors.New("image download failed")
	// ErrDownloadTooLarge is returned when a file exceeds the download limit.
	ErrDownloadTooLarge = errors.New("image exceeds download limit")
)

// ImageDownloader downloads images with a timeout and a size limit.
type ImageDownloader struct {
	client  *resty.Client
	maxSize int64
}

// NewImageDownloader creates a new ImageDownloader with default settings.
func NewImageDownloader() *ImageDownloader {
	return &ImageDownloader{
		client:  resty.New().SetDebug(false).SetTimeout(DefaultDownloadTimeout),
		maxSize: DefaultMaxImageSize,
	}
}

// WithTimeout sets a custom timeout for downloads.
func (d *ImageDownloader) WithTimeout(timeout time.Duration) *ImageDownloader {
	d.client.SetTimeout(timeout)
	return d
}

// WithMaxSize sets a custom maximum file size.
func (d *ImageDownloader) WithMaxSize(maxSize int64) *ImageDownloader {
	d.maxSize = maxSize
	return d
}

// MaxSize returns the download limit in bytes.
func (d *ImageDownloader) MaxSize() int64 {
	return d.maxSize
}

// DownloadFromURL downloads image data from a URL.
// It respects context cancellation and enforces size limits.
func (d *ImageDownloader) DownloadFromURL(ctx context.Context, imageURL string) ([]byte, error) {
	res, err := d.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(imageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	body := res.RawBody()
	defer body.Close()

	if res.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, res.StatusCode())
	}

	// Telegram serves files as application/octet-stream, so only reject
	// content types that are clearly something else.
	contentType := res.Header().Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") && contentType != "application/octet-stream" {
		return nil, fmt.Errorf("%w: expected image/*, got %s", ErrDownloadFailed, contentType)
	}

	if res.RawResponse.ContentLength > d.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", ErrDownloadTooLarge, res.RawResponse.ContentLength, d.maxSize)
	}

	// Use LimitReader to enforce size limit even if Content-Length is missing or wrong
	data, err := io.ReadAll(io.LimitReader(body, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
	}
	if int64(len(data)) > d.maxSize {
		return nil, fmt.Errorf("%w: exceeds limit of %d bytes", ErrDownloadTooLarge, d.maxSize)
	}

	return data, nil
}

// DownloadFromTelegramFileID downloads an image from Telegram using a file ID.
// It uses the provided function to resolve the file ID to a direct URL.
func (d *ImageDownloader) DownloadFromTelegramFileID(
	ctx context.Context,
	getFileDirectURL func(fileID string) (string, error),
	fileID string,
) ([]byte, error) {
	log.Info().Str("fileID", fileID).Msg("downloading telegram file")

	url, err := getFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get file URL: %w", ErrDownloadFailed, err)
	}

	return d.DownloadFromURL(ctx, url)
}
