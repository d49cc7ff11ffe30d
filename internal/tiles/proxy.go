package tiles

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Proxy re-serves tiles from a RawSource over HTTP.
// Expected path format: /{z}/{x}/{y}.{ext}
type Proxy struct {
	src    RawSource
	maxAge int
}

// NewProxy wraps src. maxAge is the Cache-Control max-age in seconds.
func NewProxy(src RawSource, maxAge int) *Proxy {
	return &Proxy{src: src, maxAge: maxAge}
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var z, x, y int
	var ext string
	if _, err := fmt.Sscanf(r.URL.Path, "/%d/%d/%d.%s", &z, &x, &y, &ext); err != nil {
		http.Error(w, "invalid tile path", http.StatusBadRequest)
		return
	}

	data, err := p.src.Fetch(r.Context(), z, x, y)
	switch {
	case errors.Is(err, ErrTileRange):
		http.Error(w, "tile out of range", http.StatusBadRequest)
		return
	case errors.Is(err, ErrTileNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		zap.L().Error("tiles: proxy fetch failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", p.src.ContentType())
	if p.maxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", p.maxAge))
	}
	_, _ = w.Write(data)
}
