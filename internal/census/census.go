// Package census fetches American Community Survey estimates from the Census
// Data API and joins them to cartographic boundary geometry.
package census

import (
	"fmt"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"golang.org/x/time/rate"

	"github.com/sells-group/geo-report/internal/fetcher"
	"github.com/sells-group/geo-report/internal/store"
)

// Error taxonomy. APIError unwraps to one of these.
var (
	ErrInvalidKey       = eris.New("census: invalid api key")
	ErrUnknownVariable  = eris.New("census: unknown variable")
	ErrUnknownGeography = eris.New("census: unknown geography")
	ErrUnavailable      = eris.New("census: service unavailable")
	ErrNoData           = eris.New("census: no data for query")
	ErrBadRequest       = eris.New("census: request rejected")
)

// APIError is a classified error response from the Census API.
type APIError struct {
	StatusCode int
	Message    string
	Kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v (status %d): %s", e.Kind, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Kind }

// Config configures a Client. Key is sent with every data request and never
// written to the response cache.
type Config struct {
	Key             string
	BaseURL         string
	BoundaryBaseURL string
	UserAgent       string
	Timeout         time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	TempDir         string
	Cache           store.Cache
	CacheTTL        time.Duration
}

const (
	defaultBaseURL         = "https://api.census.gov/data"
	defaultBoundaryBaseURL = "https://www2.census.gov/geo/tiger"
	cacheNamespace         = "census"
)

// Client talks to the Census Data API.
type Client struct {
	cfg      Config
	http     *fetcher.HTTPFetcher
	download *fetcher.Router
}

// NewClient builds a Client. Transport and 5xx failures are retried
// MaxAttempts times; 4xx responses never are.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.BoundaryBaseURL == "" {
		cfg.BoundaryBaseURL = defaultBoundaryBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "geo-report/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}

	httpOpts := fetcher.HTTPOptions{
		UserAgent:      cfg.UserAgent,
		Timeout:        cfg.Timeout,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		RateLimiters:   censusLimiters(cfg),
	}
	return &Client{
		cfg:      cfg,
		http:     fetcher.NewHTTPFetcher(httpOpts),
		download: fetcher.NewRouter(httpOpts, fetcher.FTPOptions{}),
	}
}

// censusLimiters paces the configured hosts with the Census defaults.
func censusLimiters(cfg Config) map[string]*rate.Limiter {
	limiters := fetcher.DefaultRateLimiters()
	if h := hostOf(cfg.BaseURL); h != "" {
		if _, ok := limiters[h]; !ok {
			limiters[h] = rate.NewLimiter(5, 5)
		}
	}
	if h := hostOf(cfg.BoundaryBaseURL); h != "" {
		if _, ok := limiters[h]; !ok {
			limiters[h] = rate.NewLimiter(2, 2)
		}
	}
	return limiters
}

// Level is a census geography summary level.
type Level string

// Supported geography levels.
const (
	LevelTract  Level = "tract"
	LevelCounty Level = "county"
)

// Geography scopes a query. State accepts a USPS abbreviation or FIPS code;
// County is a three-digit FIPS code and only applies to tract queries.
type Geography struct {
	Level  Level
	State  string
	County string
}

// Variable is a labelled ACS table cell, e.g. {Name: "white", Code: "B03002_003"}.
type Variable struct {
	Name string
	Code string
}

// Query selects ACS estimates.
type Query struct {
	Year       int
	Dataset    string
	Geography  Geography
	Variables  []Variable
	SummaryVar string
	Geometry   bool
}

// Record is one geography unit's estimate for one variable.
type Record struct {
	GEOID      string
	Name       string
	Variable   string
	Code       string
	Estimate   float64
	MOE        float64
	Summary    float64
	SummaryMOE float64
	Geometry   geom.T
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
