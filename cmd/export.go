package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/layer"
	"github.com/sells-group/geo-report/internal/postgis"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export layers to external stores",
}

var exportPostGISCmd = &cobra.Command{
	Use:   "postgis <dataset> <layer>",
	Short: "Copy a layer into a PostGIS table",
	Long:  "Creates the table if needed (text columns plus a geometry column in the layer's SRID), bulk-copies every feature and adds a GiST index. Connects to postgis.database_url.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		table, _ := cmd.Flags().GetString("table")
		replace, _ := cmd.Flags().GetBool("replace")
		if table == "" {
			table = args[1]
		}

		target, err := postgis.ParseTarget(table, cfg.PostGIS.Schema)
		if err != nil {
			return err
		}
		target.BatchSize = cfg.PostGIS.BatchSize
		target.Replace = replace

		ds, err := layer.Open(args[0])
		if err != nil {
			return err
		}
		defer ds.Close() //nolint:errcheck

		l, err := ds.Layer(args[1])
		if err != nil {
			return err
		}

		pool, err := postgis.Connect(ctx, cfg.PostGIS.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		n, err := postgis.CopyLayer(ctx, pool, l, target)
		if err != nil {
			return err
		}
		zap.L().Info("layer exported",
			zap.String("layer", l.Name),
			zap.String("table", target.Schema+"."+target.Table),
			zap.Int64("rows", n),
		)
		return nil
	},
}

func init() {
	exportPostGISCmd.Flags().String("table", "", "destination table as [schema.]name (default: layer name)")
	exportPostGISCmd.Flags().Bool("replace", false, "drop an existing table first")
	exportCmd.AddCommand(exportPostGISCmd)
	rootCmd.AddCommand(exportCmd)
}
