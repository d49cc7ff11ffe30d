package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/report"
	"github.com/sells-group/geo-report/internal/tiles"
)

var reportCmd = &cobra.Command{
	Use:   "report <dataset>",
	Short: "Run the Snow map and census facets and write a Markdown report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		outDir, _ := cmd.Flags().GetString("output")
		noTiles, _ := cmd.Flags().GetBool("no-tiles")
		noCensus, _ := cmd.Flags().GetBool("no-census")
		if outDir == "" {
			outDir = cfg.Report.OutputDir
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var base tiles.Source
		opts := renderOptions("")
		if !noTiles {
			src, err := initBasemap(st)
			if err != nil {
				return err
			}
			base = src
			opts.Attribution = cfg.Tiles.Attribution
		}

		var snow *report.SnowResult
		var cen *report.CensusResult
		runID, err := report.Track(ctx, st, "report", func(ctx context.Context, runID string) ([]string, error) {
			s, err := report.Snow(ctx, report.SnowOptions{
				RunID:      runID,
				Dataset:    args[0],
				DeathLayer: cfg.Report.DeathLayer,
				PumpLayer:  cfg.Report.PumpLayer,
				CountField: cfg.Report.CountField,
				TargetEPSG: cfg.Report.TargetEPSG,
				OutputDir:  outDir,
				Base:       base,
				Render:     opts,
			})
			if err != nil {
				return nil, err
			}
			snow = s
			outputs := s.Outputs()

			if !noCensus {
				q, err := censusQuery(cmd)
				if err != nil {
					return outputs, err
				}
				c, err := report.Census(ctx, initCensus(st), report.CensusOptions{
					RunID:     runID,
					Query:     q,
					OutputDir: outDir,
					Facet:     facetOptions(censusTitle(q)),
					XLSX:      true,
				})
				if err != nil {
					return outputs, err
				}
				cen = c
				outputs = append(outputs, c.Outputs()...)
			}

			path := filepath.Join(outDir, "report-"+runID+".md")
			if err := writeReport(path, report.Report{
				RunID:     runID,
				Generated: time.Now(),
				Snow:      snow,
				Census:    cen,
			}); err != nil {
				return outputs, err
			}
			return append(outputs, path), nil
		})
		if err != nil {
			return err
		}

		zap.L().Info("report complete", zap.String("run_id", runID), zap.String("dir", outDir))
		return nil
	},
}

func writeReport(path string, r report.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := report.Write(f, r); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "close %s", path)
}

func init() {
	reportCmd.Flags().StringP("output", "o", "", "output directory (default from config)")
	reportCmd.Flags().Bool("no-tiles", false, "draw the Snow map without basemap tiles")
	reportCmd.Flags().Bool("no-census", false, "skip the census section")
	addQueryFlags(reportCmd.Flags())
	rootCmd.AddCommand(reportCmd)
}
