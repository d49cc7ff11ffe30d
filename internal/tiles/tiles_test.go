package tiles

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func pngTile(t testing.TB, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, DefaultTileSize, DefaultTileSize))
	for y := 0; y < DefaultTileSize; y++ {
		for x := 0; x < DefaultTileSize; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// --- tile math ---

func TestLonLatToTile(t *testing.T) {
	tests := []struct {
		name     string
		lon, lat float64
		z        int
		x, y     int
	}{
		{name: "origin z0", lon: 0, lat: 0, z: 0, x: 0, y: 0},
		{name: "origin z1", lon: 0.0001, lat: -0.0001, z: 1, x: 1, y: 1},
		{name: "north west corner", lon: -180, lat: 85, z: 1, x: 0, y: 0},
		{name: "broad street pump", lon: -0.1366678, lat: 51.5133411, z: 15, x: 16371, y: 10895},
		{name: "clamped pole", lon: 179.9999, lat: 89.9, z: 2, x: 3, y: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := LonLatToTile(tt.lon, tt.lat, tt.z)
			assert.Equal(t, tt.x, x)
			assert.Equal(t, tt.y, y)
		})
	}
}

func TestMercatorToPixel(t *testing.T) {
	px, py := MercatorToPixel(0, 0, 0, 256)
	assert.InDelta(t, 128, px, 1e-9)
	assert.InDelta(t, 128, py, 1e-9)

	px, py = MercatorToPixel(-OriginShift, OriginShift, 3, 256)
	assert.InDelta(t, 0, px, 1e-9)
	assert.InDelta(t, 0, py, 1e-9)

	px, py = MercatorToPixel(-15213.793, 6712605.119, 15, 256)
	assert.InDelta(t, 16371.56019*256, px, 0.01)
	assert.InDelta(t, 10895.32744*256, py, 0.01)
}

func TestTileBounds(t *testing.T) {
	b := TileBounds(Coord{Z: 0})
	assert.InDelta(t, -OriginShift, b.Min(0), 1e-6)
	assert.InDelta(t, OriginShift, b.Max(1), 1e-6)

	b = TileBounds(Coord{Z: 1, X: 1, Y: 0})
	assert.InDelta(t, 0, b.Min(0), 1e-6)
	assert.InDelta(t, 0, b.Min(1), 1e-6)
	assert.InDelta(t, OriginShift, b.Max(0), 1e-6)
}

func TestCovering(t *testing.T) {
	world := geom.NewBounds(geom.XY).Set(-OriginShift, -OriginShift, OriginShift, OriginShift)
	assert.Equal(t, []Coord{
		{Z: 1, X: 0, Y: 0}, {Z: 1, X: 1, Y: 0},
		{Z: 1, X: 0, Y: 1}, {Z: 1, X: 1, Y: 1},
	}, Covering(world, 1))
	assert.Len(t, Covering(world, 2), 16)

	pump := geom.NewBounds(geom.XY).Set(-15300, 6712500, -15100, 6712700)
	got := Covering(pump, 15)
	require.NotEmpty(t, got)
	assert.Equal(t, Coord{Z: 15, X: 16371, Y: 10895}, got[0])
	for _, c := range got {
		assert.True(t, c.Valid())
	}

	assert.Nil(t, Covering(geom.NewBounds(geom.XY), 3))
}

func TestFitZoom(t *testing.T) {
	world := geom.NewBounds(geom.XY).Set(-OriginShift, -OriginShift, OriginShift, OriginShift)
	assert.Equal(t, 0, FitZoom(world, 256, 256, 256))
	assert.Equal(t, 1, FitZoom(world, 512, 512, 256))
	assert.Equal(t, 0, FitZoom(world, 100, 100, 256))

	tiny := geom.NewBounds(geom.XY).Set(0, 0, 1, 1)
	assert.Equal(t, MaxZoom, FitZoom(tiny, 1024, 1024, 256))
	assert.Equal(t, 0, FitZoom(nil, 1024, 1024, 256))
}

func TestCoordValid(t *testing.T) {
	assert.True(t, Coord{Z: 2, X: 3, Y: 3}.Valid())
	assert.False(t, Coord{Z: 2, X: 4, Y: 0}.Valid())
	assert.False(t, Coord{Z: -1}.Valid())
	assert.False(t, Coord{Z: MaxZoom + 1}.Valid())
}

// --- cache ---

func TestTileCache_LRU(t *testing.T) {
	c := NewTileCache(2, time.Hour)
	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	assert.NotNil(t, c.Get("a")) // a is now most recent
	c.Put("c", []byte("3"))      // evicts b

	assert.Nil(t, c.Get("b"))
	assert.Equal(t, []byte("1"), c.Get("a"))
	assert.Equal(t, []byte("3"), c.Get("c"))

	stats := c.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.75, stats.HitRate, 1e-9)
}

func TestTileCache_TTL(t *testing.T) {
	c := NewTileCache(10, time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Put("a", []byte("1"))

	c.now = func() time.Time { return base.Add(30 * time.Second) }
	assert.NotNil(t, c.Get("a"))

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Nil(t, c.Get("a"))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestTileCache_UpdateAndInvalidate(t *testing.T) {
	c := NewTileCache(10, time.Hour)
	c.Put(TileKey("osm", 1, 0, 0), []byte("old"))
	c.Put(TileKey("osm", 1, 0, 0), []byte("new"))
	c.Put(TileKey("local", 1, 0, 0), []byte("keep"))
	assert.Equal(t, []byte("new"), c.Get("osm/1/0/0"))

	c.Invalidate("osm")
	assert.Nil(t, c.Get("osm/1/0/0"))
	assert.Equal(t, []byte("keep"), c.Get("local/1/0/0"))
}

// --- HTTP source ---

type memStore struct {
	data map[string][]byte
	sets atomic.Int32
}

func (m *memStore) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	d, ok := m.data[ns+"|"+key]
	return d, ok, nil
}

func (m *memStore) Set(_ context.Context, ns, key string, data []byte, _ time.Duration) error {
	m.sets.Add(1)
	m.data[ns+"|"+key] = data
	return nil
}

func newTestHTTPSource(t *testing.T, url string, mem *TileCache, st *memStore) *HTTPSource {
	t.Helper()
	opts := HTTPOptions{
		URL:            url,
		Format:         "png",
		Name:           "test",
		UserAgent:      "geo-report-test",
		RatePerSec:     100,
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		Memory:         mem,
	}
	if st != nil {
		opts.Store = st
	}
	src, err := NewHTTPSource(opts)
	require.NoError(t, err)
	return src
}

func TestHTTPSource_FetchAndCache(t *testing.T) {
	tile := pngTile(t, color.RGBA{R: 200, A: 255})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/15/16371/10895.png", r.URL.Path)
		assert.Equal(t, "geo-report-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(tile)
	}))
	defer srv.Close()

	src := newTestHTTPSource(t, srv.URL, NewTileCache(10, time.Hour), nil)
	assert.Equal(t, 3857, src.CRS())
	assert.Equal(t, 256, src.TileSize())

	img, err := src.Tile(context.Background(), 15, 16371, 10895)
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	r, _, _, _ := img.At(10, 10).RGBA()
	assert.Equal(t, uint32(200*257), r)

	_, err = src.Tile(context.Background(), 15, 16371, 10895)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second read served from memory")
}

func TestHTTPSource_Template(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tiles/2/1/3", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		_, _ = w.Write(pngTile(t, color.White))
	}))
	defer srv.Close()

	src := newTestHTTPSource(t, srv.URL+"/tiles/{z}/{x}/{y}?key=k", nil, nil)
	_, err := src.Fetch(context.Background(), 2, 1, 3)
	require.NoError(t, err)
}

func TestHTTPSource_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(pngTile(t, color.Black))
	}))
	defer srv.Close()

	src := newTestHTTPSource(t, srv.URL, nil, nil)
	_, err := src.Tile(context.Background(), 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSource_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	src := newTestHTTPSource(t, srv.URL, nil, nil)
	_, err := src.Tile(context.Background(), 1, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTileNotFound))
}

func TestHTTPSource_OutOfRange(t *testing.T) {
	src := newTestHTTPSource(t, "https://tiles.example.com", nil, nil)
	_, err := src.Fetch(context.Background(), 1, 2, 0)
	assert.True(t, errors.Is(err, ErrTileRange))
}

func TestHTTPSource_PersistentStore(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write(pngTile(t, color.White))
	}))
	defer srv.Close()

	st := &memStore{data: map[string][]byte{}}
	first := newTestHTTPSource(t, srv.URL, nil, st)
	_, err := first.Fetch(context.Background(), 3, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), st.sets.Load())

	// A fresh source with an empty memory cache reads from the store.
	second := newTestHTTPSource(t, srv.URL, NewTileCache(4, time.Hour), st)
	_, err = second.Fetch(context.Background(), 3, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewHTTPSource_Invalid(t *testing.T) {
	_, err := NewHTTPSource(HTTPOptions{})
	assert.Error(t, err)
	_, err = NewHTTPSource(HTTPOptions{URL: "not a url"})
	assert.Error(t, err)

	src, err := NewHTTPSource(HTTPOptions{URL: "https://tile.openstreetmap.org/"})
	require.NoError(t, err)
	assert.Equal(t, "https://tile.openstreetmap.org/4/8/5.png", src.URL(4, 8, 5))
	assert.Equal(t, "image/png", src.ContentType())
}

// --- dir source + proxy ---

func writeDirTile(t *testing.T, dir string, z, x, y int, data []byte) {
	t.Helper()
	d := NewDirSource(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(d.Path(z, x, y)), 0o755))
	require.NoError(t, os.WriteFile(d.Path(z, x, y), data, 0o644))
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	writeDirTile(t, dir, 2, 1, 3, pngTile(t, color.White))

	src := NewDirSource(dir)
	img, err := src.Tile(context.Background(), 2, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dy())

	_, err = src.Tile(context.Background(), 2, 0, 0)
	assert.True(t, errors.Is(err, ErrTileNotFound))
}

func TestProxy(t *testing.T) {
	dir := t.TempDir()
	tile := pngTile(t, color.White)
	writeDirTile(t, dir, 2, 1, 3, tile)
	proxy := NewProxy(NewDirSource(dir), 3600)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "hit", path: "/2/1/3.png", status: http.StatusOK},
		{name: "missing", path: "/2/0/0.png", status: http.StatusNotFound},
		{name: "out of range", path: "/2/9/9.png", status: http.StatusBadRequest},
		{name: "garbage", path: "/abc", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
				assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
				assert.Equal(t, tile, rec.Body.Bytes())
			}
		})
	}
}

func TestProxy_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := newTestHTTPSource(t, srv.URL, nil, nil)
	rec := httptest.NewRecorder()
	NewProxy(src, 0).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/1/0/0.png", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
