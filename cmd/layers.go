package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/geo-report/internal/layer"
)

var layersCmd = &cobra.Command{
	Use:   "layers <dataset>",
	Short: "List the layers of a dataset",
	Long:  "Lists each layer in a shapefile directory, .shp file or .zip archive with its geometry kind, CRS, feature count and extent.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ds, err := layer.Open(args[0])
		if err != nil {
			return err
		}
		defer ds.Close() //nolint:errcheck

		layers, err := ds.Layers()
		if err != nil {
			return err
		}
		summaries := make([]layer.Summary, 0, len(layers))
		for _, l := range layers {
			summaries = append(summaries, layer.Summarize(l))
		}
		formatLayers(os.Stdout, summaries)
		return nil
	},
}

func formatLayers(w io.Writer, layers []layer.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tCRS\tFEATURES\tEXTENT")
	for _, l := range layers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.3f %.3f %.3f %.3f\n",
			l.Name, l.Kind, l.CRS, l.Count, l.Bounds[0], l.Bounds[1], l.Bounds[2], l.Bounds[3])
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	rootCmd.AddCommand(layersCmd)
}
