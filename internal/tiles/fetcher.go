package tiles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxTileBytes  = 4 << 20
	maxErrorBytes = 512
)

// Fetcher loads and decodes one tile image. Implementations must honour ctx cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Image, error)
}

// HTTPFetcher fetches tiles with plain HTTP GETs.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	logger    zerolog.Logger
}

// NewHTTPFetcher creates a fetcher. Tile servers such as OSM reject requests without a
// descriptive User-Agent, so one is always sent.
func NewHTTPFetcher(timeout time.Duration, userAgent string, logger zerolog.Logger) *HTTPFetcher {
	if userAgent == "" {
		userAgent = "nav-core"
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "image/webp,image/png,image/jpeg,*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return nil, &HTTPStatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(b)),
		}
	}

	img, err := DecodeImage(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, err
	}

	f.logger.Debug().
		Str("url", url).
		Str("format", img.Format()).
		Dur("took", time.Since(start)).
		Msg("Tile fetched")
	return img, nil
}
