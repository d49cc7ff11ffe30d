package render

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{in: "#ff0000", want: color.NRGBA{R: 255, A: 255}},
		{in: "#0f0", want: color.NRGBA{G: 255, A: 255}},
		{in: "#00000080", want: color.NRGBA{A: 128}},
		{in: "1e50dc", want: color.NRGBA{R: 30, G: 80, B: 220, A: 255}},
		{in: "Blue", want: color.NRGBA{R: 30, G: 80, B: 220, A: 255}},
		{in: "#12345", wantErr: true},
		{in: "#gggggg", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStyleRGBA(t *testing.T) {
	c, err := Style{Color: "red", Alpha: 0.6}.RGBA()
	require.NoError(t, err)
	assert.Equal(t, uint8(153), c.A)

	c, err = Style{}.RGBA()
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 0x33, G: 0x33, B: 0x33, A: 255}, c)
}

func TestStyleDefaults(t *testing.T) {
	s := Style{SizeBy: "Count"}.withDefaults()
	assert.Equal(t, DefaultSizeRange, s.SizeRange)
	assert.InDelta(t, DefaultSize, s.Size, 1e-9)
	assert.InDelta(t, DefaultStrokeWidth, s.StrokeWidth, 1e-9)

	s = Style{SizeRange: [2]float64{0, 20}}.withDefaults()
	assert.Equal(t, [2]float64{3, 20}, s.SizeRange)

	s = Style{SizeRange: [2]float64{15, 0}}.withDefaults()
	assert.Equal(t, [2]float64{15, 15}, s.SizeRange)
}

func TestParseLayerFlag(t *testing.T) {
	name, s, err := ParseLayerFlag("Cholera_Deaths:sizeby=Count,color=#d62728,alpha=0.6,min=2,max=10,label=Id")
	require.NoError(t, err)
	assert.Equal(t, "Cholera_Deaths", name)
	assert.Equal(t, Style{Color: "#d62728", Alpha: 0.6, SizeBy: "Count", SizeRange: [2]float64{2, 10}, Label: "Id"}, s)

	name, s, err = ParseLayerFlag("Pumps")
	require.NoError(t, err)
	assert.Equal(t, "Pumps", name)
	assert.Equal(t, Style{}, s)

	for _, bad := range []string{"", ":color=red", "Pumps:color", "Pumps:size=big", "Pumps:shape=square", "Pumps:color=#zz"} {
		_, _, err := ParseLayerFlag(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadStyles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "style.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
Cholera_Deaths:
  color: "#d62728"
  alpha: 0.6
  size_by: Count
  size_range: [2, 10]
Pumps:
  color: blue
  size: 6
`), 0o644))

	styles, err := LoadStyles(path)
	require.NoError(t, err)
	require.Len(t, styles, 2)
	assert.Equal(t, "Count", styles["Cholera_Deaths"].SizeBy)
	assert.Equal(t, [2]float64{2, 10}, styles["Cholera_Deaths"].SizeRange)
	assert.InDelta(t, 6, styles["Pumps"].Size, 1e-9)

	require.NoError(t, os.WriteFile(path, []byte("Pumps:\n  color: nope\n"), 0o644))
	_, err = LoadStyles(path)
	assert.Error(t, err)

	_, err = LoadStyles(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
