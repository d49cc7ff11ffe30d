package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/crs"
	"github.com/sells-group/geo-report/internal/layer"
	"github.com/sells-group/geo-report/internal/render"
	"github.com/sells-group/geo-report/internal/reproject"
	"github.com/sells-group/geo-report/internal/tiles"
)

var overlayCmd = &cobra.Command{
	Use:   "overlay <dataset>",
	Short: "Draw layers over basemap tiles",
	Long: `Draws one or more layers, in order, over basemap tiles and writes a PNG.

Layers are given as --layer NAME[:key=value,...] with keys color, alpha, size,
sizeby, min, max, stroke and label. A --style YAML file supplies styles for
layers given without options. Layers are reprojected to --to first; with
tiles that must be 3857.`,
	Example: `  geo-report overlay data/snow --layer Cholera_Deaths:color=red,alpha=0.6,sizeby=Count --layer Pumps:color=blue,size=6`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		flags, _ := cmd.Flags().GetStringArray("layer")
		stylePath, _ := cmd.Flags().GetString("style")
		noTiles, _ := cmd.Flags().GetBool("no-tiles")
		to, _ := cmd.Flags().GetInt("to")
		zoom, _ := cmd.Flags().GetInt("zoom")
		out, _ := cmd.Flags().GetString("output")

		specs, err := parseLayerSpecs(flags, stylePath)
		if err != nil {
			return err
		}

		var base tiles.Source
		opts := renderOptions("")
		opts.Zoom = zoom
		if !noTiles {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			src, err := initBasemap(st)
			if err != nil {
				return err
			}
			base = src
			opts.Attribution = cfg.Tiles.Attribution
		}

		plot, err := runOverlay(ctx, args[0], specs, base, to, opts)
		if err != nil {
			return err
		}
		if dir := filepath.Dir(out); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return eris.Wrap(err, "create output dir")
			}
		}
		if err := plot.SavePNG(out); err != nil {
			return err
		}
		zap.L().Info("overlay written",
			zap.String("output", out),
			zap.Int("marks", len(plot.Marks)),
			zap.Int("zoom", plot.Zoom),
			zap.Int("tiles", plot.Tiles),
		)
		return nil
	},
}

// layerFlag is one parsed --layer value.
type layerFlag struct {
	name  string
	style render.Style
}

func parseLayerSpecs(flags []string, stylePath string) ([]layerFlag, error) {
	if len(flags) == 0 {
		return nil, eris.New("at least one --layer is required")
	}
	var presets map[string]render.Style
	if stylePath != "" {
		var err error
		if presets, err = render.LoadStyles(stylePath); err != nil {
			return nil, err
		}
	}
	out := make([]layerFlag, 0, len(flags))
	for _, f := range flags {
		name, style, err := render.ParseLayerFlag(f)
		if err != nil {
			return nil, err
		}
		if preset, ok := presets[name]; ok && style == (render.Style{}) {
			style = preset
		}
		out = append(out, layerFlag{name: name, style: style})
	}
	return out, nil
}

// runOverlay loads each layer, reprojects it to the target EPSG code (0
// keeps native coordinates) and composes the plot.
func runOverlay(ctx context.Context, dataset string, flags []layerFlag, base tiles.Source, to int, opts render.Options) (*render.Plot, error) {
	var target *crs.CRS
	if to != 0 {
		c, err := crs.Lookup(to)
		if err != nil {
			return nil, err
		}
		target = c
	}

	ds, err := layer.Open(dataset)
	if err != nil {
		return nil, err
	}
	defer ds.Close() //nolint:errcheck

	specs := make([]render.LayerSpec, 0, len(flags))
	for _, f := range flags {
		l, err := ds.Layer(f.name)
		if err != nil {
			return nil, err
		}
		if target != nil {
			if l, err = reproject.Layer(l, target); err != nil {
				return nil, eris.Wrapf(err, "reproject %s", f.name)
			}
		}
		specs = append(specs, render.LayerSpec{Layer: l, Style: f.style})
	}
	return render.Overlay(ctx, base, specs, opts)
}

func init() {
	overlayCmd.Flags().StringArray("layer", nil, "layer to draw as NAME[:key=value,...] (repeatable, drawn in order)")
	overlayCmd.Flags().String("style", "", "YAML file mapping layer names to styles")
	overlayCmd.Flags().Bool("no-tiles", false, "draw on a blank canvas without basemap tiles")
	overlayCmd.Flags().Int("to", crs.EPSGWebMercator, "EPSG code to reproject layers to (0 keeps native coordinates)")
	overlayCmd.Flags().Int("zoom", 0, "fixed basemap zoom (0 fits the extent)")
	overlayCmd.Flags().StringP("output", "o", "overlay.png", "PNG output path")
	rootCmd.AddCommand(overlayCmd)
}
