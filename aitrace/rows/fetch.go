package rows

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	fetchTimeout  = 10 * time.Second
	maxImageBytes = 10 * 1024 * 1024
	userAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HttpFetcher downloads http(s) urls.
type HttpFetcher struct {
	client *http.Client
}

func NewHttpFetcher() *HttpFetcher {
	return &HttpFetcher{client: &http.Client{Timeout: fetchTimeout}}
}

func isRemoteUrl(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func (f *HttpFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if !isRemoteUrl(url) {
		return nil, fmt.Errorf("unsupported image url '%v'", url)
	}

	start := time.Now()
	defer func() {
		imageFetchSeconds.Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image url: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")

	res, err := f.client.Do(req)
	if err != nil {
		slog.Warn("error downloading image", "url", url, "error", err)
		return nil, fmt.Errorf("error downloading image: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("image download returned status %d", res.StatusCode)
	}

	if res.ContentLength > maxImageBytes {
		return nil, fmt.Errorf("image too large: %.2fMB (max 10MB)", float64(res.ContentLength)/(1024*1024))
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("error reading image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image too large (max 10MB)")
	}

	return data, nil
}
