package render

import (
	"image/color"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Style maps a layer's attributes to visual channels.
type Style struct {
	// Color is a hex colour (#rgb, #rrggbb or #rrggbbaa).
	Color string `yaml:"color"`
	// Alpha in [0,1] multiplies the colour's opacity. Zero means opaque.
	Alpha float64 `yaml:"alpha"`
	// Size is the fixed point radius in pixels.
	Size float64 `yaml:"size"`
	// SizeBy names a numeric field scaled linearly into SizeRange.
	SizeBy    string     `yaml:"size_by"`
	SizeRange [2]float64 `yaml:"size_range"`
	// StrokeWidth is the line width for lines and polygon outlines.
	StrokeWidth float64 `yaml:"stroke_width"`
	// Label names a field drawn next to each point.
	Label string `yaml:"label"`
}

// Style defaults.
const (
	DefaultColor       = "#333333"
	DefaultSize        = 4.0
	DefaultStrokeWidth = 1.5
)

// DefaultSizeRange is used when SizeBy is set without a range.
var DefaultSizeRange = [2]float64{3, 12}

func (s Style) withDefaults() Style {
	if s.Color == "" {
		s.Color = DefaultColor
	}
	if s.Alpha <= 0 || s.Alpha > 1 {
		s.Alpha = 1
	}
	if s.Size <= 0 {
		s.Size = DefaultSize
	}
	if s.SizeRange[1] <= 0 {
		s.SizeRange[1] = max(DefaultSizeRange[1], s.SizeRange[0])
	}
	if s.SizeRange[0] <= 0 {
		s.SizeRange[0] = min(DefaultSizeRange[0], s.SizeRange[1])
	}
	if s.StrokeWidth <= 0 {
		s.StrokeWidth = DefaultStrokeWidth
	}
	return s
}

// RGBA resolves the style's colour with Alpha applied.
func (s Style) RGBA() (color.NRGBA, error) {
	s = s.withDefaults()
	c, err := ParseColor(s.Color)
	if err != nil {
		return color.NRGBA{}, err
	}
	c.A = uint8(float64(c.A)*s.Alpha + 0.5)
	return c, nil
}

// ParseColor parses #rgb, #rrggbb or #rrggbbaa, or one of a few names.
func ParseColor(s string) (color.NRGBA, error) {
	if c, ok := namedColors[strings.ToLower(s)]; ok {
		return c, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, eris.Errorf("render: invalid colour %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, eris.Wrapf(err, "render: invalid colour %q", s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

var namedColors = map[string]color.NRGBA{
	"black": {A: 255},
	"white": {R: 255, G: 255, B: 255, A: 255},
	"red":   {R: 220, G: 30, B: 30, A: 255},
	"blue":  {R: 30, G: 80, B: 220, A: 255},
	"green": {R: 30, G: 160, B: 60, A: 255},
}

// LoadStyles reads a YAML file mapping layer names to styles.
func LoadStyles(path string) (map[string]Style, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "render: read styles %s", path)
	}
	styles := make(map[string]Style)
	if err := yaml.Unmarshal(data, &styles); err != nil {
		return nil, eris.Wrapf(err, "render: parse styles %s", path)
	}
	for name, s := range styles {
		if _, err := s.RGBA(); err != nil {
			return nil, eris.Wrapf(err, "render: style %s", name)
		}
	}
	return styles, nil
}

// ParseLayerFlag parses NAME[:key=value,...] as given on the command line.
// Keys: color, alpha, size, sizeby, min, max, label, stroke.
func ParseLayerFlag(flag string) (string, Style, error) {
	name, opts, _ := strings.Cut(flag, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", Style{}, eris.Errorf("render: empty layer name in %q", flag)
	}

	var s Style
	if opts == "" {
		return name, s, nil
	}
	for _, kv := range strings.Split(opts, ",") {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return "", Style{}, eris.Errorf("render: expected key=value, got %q", kv)
		}
		key, val = strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(val)

		var err error
		switch key {
		case "color", "colour":
			s.Color = val
			_, err = ParseColor(val)
		case "alpha":
			s.Alpha, err = strconv.ParseFloat(val, 64)
		case "size":
			s.Size, err = strconv.ParseFloat(val, 64)
		case "sizeby", "size_by":
			s.SizeBy = val
		case "min":
			s.SizeRange[0], err = strconv.ParseFloat(val, 64)
		case "max":
			s.SizeRange[1], err = strconv.ParseFloat(val, 64)
		case "stroke":
			s.StrokeWidth, err = strconv.ParseFloat(val, 64)
		case "label":
			s.Label = val
		default:
			return "", Style{}, eris.Errorf("render: unknown style key %q", key)
		}
		if err != nil {
			return "", Style{}, eris.Wrapf(err, "render: style %s=%s", key, val)
		}
	}
	return name, s, nil
}
