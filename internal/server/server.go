// Package server exposes the dataset, basemap tiles and rendered overlays
// over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/crs"
	"github.com/sells-group/geo-report/internal/export"
	"github.com/sells-group/geo-report/internal/layer"
	"github.com/sells-group/geo-report/internal/render"
	"github.com/sells-group/geo-report/internal/reproject"
	"github.com/sells-group/geo-report/internal/store"
	"github.com/sells-group/geo-report/internal/tiles"
)

// Basemap is a tile source that can be both drawn under overlays and
// proxied to clients.
type Basemap interface {
	tiles.Source
	tiles.RawSource
}

// RunLister lists recorded report runs. *store.SQLiteStore satisfies it.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
}

// Options configures a Server.
type Options struct {
	Dataset     string
	Tiles       Basemap
	Runs        RunLister
	Styles      map[string]render.Style
	Render      render.Options
	CORSOrigins []string
	// TileMaxAge is the Cache-Control max-age for proxied tiles.
	TileMaxAge int
}

// Server holds the HTTP handlers.
type Server struct {
	opts Options
}

// New returns a Server for opts.
func New(opts Options) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.TileMaxAge == 0 {
		opts.TileMaxAge = 86400
	}
	return &Server{opts: opts}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/layers", s.handleLayers)
	r.Get("/layers/{name}.geojson", s.handleLayerGeoJSON)
	r.Get("/overlay.png", s.handleOverlay)
	if s.opts.Runs != nil {
		r.Get("/runs", s.handleRuns)
	}
	if s.opts.Tiles != nil {
		r.Handle("/tiles/*", http.StripPrefix("/tiles", tiles.NewProxy(s.opts.Tiles, s.opts.TileMaxAge)))
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("server: listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) handleLayers(w http.ResponseWriter, _ *http.Request) {
	ds, err := s.openDataset()
	if err != nil {
		writeError(w, err)
		return
	}
	defer ds.Close() //nolint:errcheck

	layers, err := ds.Layers()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]layer.Summary, 0, len(layers))
	for _, l := range layers {
		out = append(out, layer.Summarize(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLayerGeoJSON(w http.ResponseWriter, r *http.Request) {
	ds, err := s.openDataset()
	if err != nil {
		writeError(w, err)
		return
	}
	defer ds.Close() //nolint:errcheck

	l, err := ds.Layer(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	if to := r.URL.Query().Get("to"); to != "" {
		target, err := lookupCRS(to)
		if err != nil {
			writeError(w, err)
			return
		}
		if l, err = reproject.Layer(l, target); err != nil {
			writeError(w, err)
			return
		}
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if err := export.LayerGeoJSON(w, l); err != nil {
		zap.L().Error("server: write geojson", zap.Error(err))
	}
}

// handleOverlay renders ?layer=NAME[:style]... over the basemap. Layers are
// reprojected to ?to (default 3857 when tiles are drawn).
func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	flags := q["layer"]
	if len(flags) == 0 {
		writeError(w, badRequest("at least one layer parameter is required"))
		return
	}

	var base tiles.Source
	if s.opts.Tiles != nil && q.Get("tiles") != "false" {
		base = s.opts.Tiles
	}
	var target *crs.CRS
	switch to := q.Get("to"); {
	case to != "":
		c, err := lookupCRS(to)
		if err != nil {
			writeError(w, err)
			return
		}
		target = c
	case base != nil:
		target = crs.MustLookup(base.CRS())
	}

	opts := s.opts.Render
	if v := q.Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 4096 {
			writeError(w, badRequest("width must be between 1 and 4096"))
			return
		}
		opts.Width = n
	}
	if v := q.Get("height"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 4096 {
			writeError(w, badRequest("height must be between 1 and 4096"))
			return
		}
		opts.Height = n
	}

	ds, err := s.openDataset()
	if err != nil {
		writeError(w, err)
		return
	}
	defer ds.Close() //nolint:errcheck

	specs := make([]render.LayerSpec, 0, len(flags))
	for _, flag := range flags {
		name, style, err := render.ParseLayerFlag(flag)
		if err != nil {
			writeError(w, badRequest(err.Error()))
			return
		}
		if preset, ok := s.opts.Styles[name]; ok && style == (render.Style{}) {
			style = preset
		}
		l, err := ds.Layer(name)
		if err != nil {
			writeError(w, err)
			return
		}
		if target != nil {
			if l, err = reproject.Layer(l, target); err != nil {
				writeError(w, err)
				return
			}
		}
		specs = append(specs, render.LayerSpec{Layer: l, Style: style})
	}

	plot, err := render.Overlay(r.Context(), base, specs, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := plot.WritePNG(w); err != nil {
		zap.L().Error("server: write png", zap.Error(err))
	}
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, badRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}
	runs, err := s.opts.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) openDataset() (*layer.Dataset, error) {
	if s.opts.Dataset == "" {
		return nil, errNoDataset
	}
	return layer.Open(s.opts.Dataset)
}

func lookupCRS(v string) (*crs.CRS, error) {
	code, err := strconv.Atoi(v)
	if err != nil {
		return nil, badRequest(fmt.Sprintf("to must be an EPSG code, got %q", v))
	}
	c, err := crs.Lookup(code)
	if err != nil {
		return nil, badRequest(err.Error())
	}
	return c, nil
}
