package main

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/crs"
	"github.com/sells-group/geo-report/internal/export"
	"github.com/sells-group/geo-report/internal/layer"
	"github.com/sells-group/geo-report/internal/reproject"
)

var reprojectCmd = &cobra.Command{
	Use:   "reproject <dataset> <layer>",
	Short: "Reproject a layer and write it as GeoJSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, _ := cmd.Flags().GetInt("to")
		out, _ := cmd.Flags().GetString("output")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")

		_, err := runReproject(args[0], args[1], to, out, xlsxPath)
		return err
	},
}

// runReproject reprojects one layer of dataset to EPSG:to and writes it to
// out as GeoJSON (and xlsxPath when set).
func runReproject(dataset, name string, to int, out, xlsxPath string) (*layer.Layer, error) {
	target, err := crs.Lookup(to)
	if err != nil {
		return nil, err
	}
	if export.NonWGS84(target) {
		zap.L().Warn("reproject: GeoJSON target is not WGS 84; coordinates carry a named crs member",
			zap.String("to", target.String()),
			zap.String("output", out),
		)
	}

	ds, err := layer.Open(dataset)
	if err != nil {
		return nil, err
	}
	defer ds.Close() //nolint:errcheck

	src, err := ds.Layer(name)
	if err != nil {
		return nil, err
	}
	dst, err := reproject.Layer(src, target)
	if err != nil {
		return nil, eris.Wrapf(err, "reproject %s", name)
	}

	if err := export.WriteFile(out, func(w io.Writer) error {
		return export.LayerGeoJSON(w, dst)
	}); err != nil {
		return nil, err
	}
	if xlsxPath != "" {
		if err := export.LayerXLSX(xlsxPath, dst); err != nil {
			return nil, err
		}
	}

	zap.L().Info("layer reprojected",
		zap.String("layer", dst.Name),
		zap.String("from", src.CRS.String()),
		zap.String("to", dst.CRS.String()),
		zap.Int("features", dst.Len()),
		zap.String("output", out),
	)
	return dst, nil
}

func init() {
	reprojectCmd.Flags().Int("to", crs.EPSGWGS84, "target EPSG code")
	reprojectCmd.Flags().StringP("output", "o", "out.geojson", "GeoJSON output path")
	reprojectCmd.Flags().String("xlsx", "", "also write the attribute table to this .xlsx path")
	rootCmd.AddCommand(reprojectCmd)
}
