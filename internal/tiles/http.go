package tiles

import (
	"context"
	"errors"
	"image"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/geo-report/internal/crs"
	"github.com/sells-group/geo-report/internal/fetcher"
	"github.com/sells-group/geo-report/internal/store"
)

// storeNamespace is the store.Cache namespace for tiles.
const storeNamespace = "tiles"

// HTTPOptions configures an HTTPSource.
type HTTPOptions struct {
	// URL is either a template containing {z}, {x} and {y} or a base URL to
	// which /{z}/{x}/{y}.{Format} is appended.
	URL            string
	Format         string
	Name           string
	UserAgent      string
	RatePerSec     float64
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	Attribution    string

	Memory   *TileCache
	Store    store.Cache
	StoreTTL time.Duration
	Client   *http.Client
}

// HTTPSource fetches tiles from a slippy-map server. Requests are paced by
// a rate limiter, transient failures are retried and tiles are cached in
// memory and, when configured, in a persistent store.
type HTTPSource struct {
	opts     HTTPOptions
	template string
	fetch    *fetcher.HTTPFetcher
}

var (
	_ Source    = (*HTTPSource)(nil)
	_ RawSource = (*HTTPSource)(nil)
)

// NewHTTPSource validates opts and builds the source.
func NewHTTPSource(opts HTTPOptions) (*HTTPSource, error) {
	if opts.URL == "" {
		return nil, eris.New("tiles: url is required")
	}
	if opts.Format == "" {
		opts.Format = "png"
	}
	template := opts.URL
	if !strings.Contains(template, "{z}") {
		template = strings.TrimRight(template, "/") + "/{z}/{x}/{y}." + opts.Format
	}
	u, err := url.Parse(strings.NewReplacer("{z}", "0", "{x}", "0", "{y}", "0").Replace(template))
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("tiles: invalid url template %q", opts.URL)
	}
	if opts.Name == "" {
		opts.Name = u.Host
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	if opts.StoreTTL <= 0 {
		opts.StoreTTL = 24 * time.Hour
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:      opts.UserAgent,
		Timeout:        opts.Timeout,
		MaxAttempts:    opts.MaxAttempts,
		InitialBackoff: opts.InitialBackoff,
		Client:         opts.Client,
		RateLimiters: map[string]*rate.Limiter{
			u.Host: rate.NewLimiter(rate.Limit(opts.RatePerSec), max(1, int(opts.RatePerSec))),
		},
	})

	return &HTTPSource{opts: opts, template: template, fetch: f}, nil
}

// CRS implements Source.
func (s *HTTPSource) CRS() int { return crs.EPSGWebMercator }

// TileSize implements Source.
func (s *HTTPSource) TileSize() int { return DefaultTileSize }

// ContentType implements RawSource.
func (s *HTTPSource) ContentType() string { return contentType(s.opts.Format) }

// Attribution is the credit line required by the tile provider.
func (s *HTTPSource) Attribution() string { return s.opts.Attribution }

// URL returns the request URL for a tile.
func (s *HTTPSource) URL(z, x, y int) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(s.template)
}

// Fetch implements RawSource: memory cache, then store, then upstream.
func (s *HTTPSource) Fetch(ctx context.Context, z, x, y int) ([]byte, error) {
	if err := checkCoord(z, x, y); err != nil {
		return nil, err
	}
	key := TileKey(s.opts.Name, z, x, y)

	if s.opts.Memory != nil {
		if data := s.opts.Memory.Get(key); data != nil {
			return data, nil
		}
	}
	if s.opts.Store != nil {
		data, ok, err := s.opts.Store.Get(ctx, storeNamespace, key)
		if err != nil {
			zap.L().Warn("tiles: store read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			s.remember(key, data)
			return data, nil
		}
	}

	tileURL := s.URL(z, x, y)
	body, err := s.fetch.Download(ctx, tileURL)
	if err != nil {
		var se *fetcher.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, eris.Wrapf(ErrTileNotFound, "tiles: %s", tileURL)
		}
		return nil, eris.Wrapf(err, "tiles: fetch %s", tileURL)
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrapf(err, "tiles: read %s", tileURL)
	}

	s.remember(key, data)
	if s.opts.Store != nil {
		if err := s.opts.Store.Set(ctx, storeNamespace, key, data, s.opts.StoreTTL); err != nil {
			zap.L().Warn("tiles: store write failed", zap.String("key", key), zap.Error(err))
		}
	}

	zap.L().Debug("tiles: fetched tile", zap.String("url", tileURL), zap.Int("bytes", len(data)))
	return data, nil
}

// Tile implements Source.
func (s *HTTPSource) Tile(ctx context.Context, z, x, y int) (image.Image, error) {
	data, err := s.Fetch(ctx, z, x, y)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (s *HTTPSource) remember(key string, data []byte) {
	if s.opts.Memory != nil {
		s.opts.Memory.Put(key, data)
	}
}
