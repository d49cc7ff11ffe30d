package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/geo-report/internal/render"
	"github.com/sells-group/geo-report/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve layers, overlays and proxied basemap tiles over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dataset, _ := cmd.Flags().GetString("dataset")
		stylePath, _ := cmd.Flags().GetString("style")
		if dataset == "" {
			dataset = cfg.Server.Dataset
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		basemap, err := initBasemap(st)
		if err != nil {
			return err
		}

		var styles map[string]render.Style
		if stylePath != "" {
			if styles, err = render.LoadStyles(stylePath); err != nil {
				return err
			}
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := server.New(server.Options{
			Dataset:     dataset,
			Tiles:       basemap,
			Runs:        st,
			Styles:      styles,
			Render:      renderOptions(cfg.Tiles.Attribution),
			CORSOrigins: cfg.Server.CORSOrigins,
		})
		return srv.ListenAndServe(ctx, port)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().String("dataset", "", "dataset served under /layers (default from config)")
	serveCmd.Flags().String("style", "", "YAML file of default layer styles for /overlay.png")
	rootCmd.AddCommand(serveCmd)
}
