package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/census"
	"github.com/sells-group/geo-report/internal/render"
	"github.com/sells-group/geo-report/internal/server"
	"github.com/sells-group/geo-report/internal/store"
	"github.com/sells-group/geo-report/internal/tiles"
)

const defaultStorePath = "geo-report.db"

// initStore opens and migrates the SQLite store used for response caching
// and run history.
func initStore(ctx context.Context) (*store.SQLiteStore, error) {
	path := cfg.Cache.Path
	if path == "" {
		path = defaultStorePath
	}
	st, err := store.NewSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initBasemap builds the tile source from config: a local directory when
// tiles.dir is set, otherwise the HTTP tile server. cache may be nil.
func initBasemap(cache store.Cache) (server.Basemap, error) {
	if cfg.Tiles.Dir != "" {
		src := tiles.NewDirSource(cfg.Tiles.Dir)
		if cfg.Tiles.Format != "" {
			src.Ext = cfg.Tiles.Format
		}
		zap.L().Debug("using tile directory", zap.String("dir", cfg.Tiles.Dir))
		return src, nil
	}

	src, err := tiles.NewHTTPSource(tiles.HTTPOptions{
		URL:         cfg.Tiles.URL,
		Format:      cfg.Tiles.Format,
		UserAgent:   cfg.Tiles.UserAgent,
		RatePerSec:  cfg.Tiles.RatePerSec,
		Timeout:     time.Duration(cfg.Tiles.TimeoutSecs) * time.Second,
		MaxAttempts: cfg.Tiles.MaxAttempts,
		Attribution: cfg.Tiles.Attribution,
		Memory:      tiles.NewTileCache(cfg.Tiles.CacheSize, cfg.Tiles.CacheTTL),
		Store:       cache,
		StoreTTL:    cfg.Cache.TTL,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init basemap")
	}
	return src, nil
}

// initCensus builds the Census API client. cache may be nil.
func initCensus(cache store.Cache) *census.Client {
	return census.NewClient(census.Config{
		Key:             cfg.Census.Key,
		BaseURL:         cfg.Census.BaseURL,
		BoundaryBaseURL: cfg.Census.BoundaryBaseURL,
		Timeout:         time.Duration(cfg.Census.TimeoutSecs) * time.Second,
		MaxAttempts:     cfg.Census.MaxAttempts,
		TempDir:         cfg.Census.TempDir,
		Cache:           cache,
		CacheTTL:        cfg.Cache.TTL,
	})
}

func renderOptions(attribution string) render.Options {
	return render.Options{
		Width:       cfg.Render.Width,
		Height:      cfg.Render.Height,
		Padding:     cfg.Render.Padding,
		Concurrency: cfg.Tiles.Concurrency,
		Attribution: attribution,
	}
}

func facetOptions(title string) render.FacetOptions {
	return render.FacetOptions{Columns: cfg.Render.Columns, Title: title}
}
