package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/census"
	"github.com/sells-group/geo-report/internal/report"
)

// defaultVars map race and ethnicity counts from ACS table B03002, which
// B03002_001 totals.
var defaultVars = []census.Variable{
	{Name: "white", Code: "B03002_003"},
	{Name: "black", Code: "B03002_004"},
	{Name: "asian", Code: "B03002_006"},
	{Name: "hispanic", Code: "B03002_012"},
}

const defaultSummaryVar = "B03002_001"

var censusCmd = &cobra.Command{
	Use:   "census",
	Short: "Map ACS estimates as one panel per variable",
	Long: `Fetches American Community Survey estimates and boundaries for every tract
(or county) in the requested area, converts each variable to a percentage of
the --summary variable and draws one panel per variable on a shared colour
scale. Requires GEOREPORT_CENSUS_KEY for more than a handful of requests.`,
	Example: `  geo-report census --state IL --county 031 --var white=B03002_003 --var black=B03002_004 --summary B03002_001`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		q, err := censusQuery(cmd)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("output")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		client := initCensus(st)

		var res *report.CensusResult
		runID, err := report.Track(ctx, st, "census", func(ctx context.Context, runID string) ([]string, error) {
			r, err := report.Census(ctx, client, report.CensusOptions{
				RunID:     runID,
				Query:     q,
				OutputDir: filepath.Dir(out),
				Facet:     facetOptions(censusTitle(q)),
				ImagePath: out,
				XLSXPath:  xlsxPath,
			})
			if err != nil {
				return nil, err
			}
			res = r
			return r.Outputs(), nil
		})
		if err != nil {
			return err
		}

		for _, s := range res.Stats {
			fmt.Fprintf(os.Stdout, "%-20s %5d units  min %6.1f  max %6.1f  mean %6.1f\n",
				s.Variable, s.Count, s.Min, s.Max, s.Mean)
		}
		zap.L().Info("census map written", zap.String("run_id", runID), zap.Strings("outputs", res.Outputs()))
		return nil
	},
}

func censusQuery(cmd *cobra.Command) (census.Query, error) {
	state, _ := cmd.Flags().GetString("state")
	county, _ := cmd.Flags().GetString("county")
	level, _ := cmd.Flags().GetString("level")
	varFlags, _ := cmd.Flags().GetStringArray("var")
	summary, _ := cmd.Flags().GetString("summary")
	year, _ := cmd.Flags().GetInt("year")
	dataset, _ := cmd.Flags().GetString("dataset")

	if state == "" {
		state = cfg.Report.State
	}
	if !cmd.Flags().Changed("county") && state == cfg.Report.State {
		county = cfg.Report.County
	}
	if year == 0 {
		year = cfg.Census.Year
	}
	if dataset == "" {
		dataset = cfg.Census.Dataset
	}

	vars, err := parseVars(varFlags)
	if err != nil {
		return census.Query{}, err
	}
	if len(vars) == 0 {
		vars = defaultVars
		if summary == "" {
			summary = defaultSummaryVar
		}
	}

	return census.Query{
		Year:    year,
		Dataset: dataset,
		Geography: census.Geography{
			Level:  census.Level(level),
			State:  state,
			County: county,
		},
		Variables:  vars,
		SummaryVar: summary,
	}, nil
}

// parseVars parses name=code flags. A bare code is its own name.
func parseVars(flags []string) ([]census.Variable, error) {
	vars := make([]census.Variable, 0, len(flags))
	seen := make(map[string]bool)
	for _, f := range flags {
		name, code, ok := strings.Cut(f, "=")
		if !ok {
			code = name
		}
		name, code = strings.TrimSpace(name), strings.TrimSpace(code)
		if name == "" || code == "" {
			return nil, eris.Errorf("invalid --var %q, want name=code", f)
		}
		if seen[name] {
			return nil, eris.Errorf("duplicate --var name %q", name)
		}
		seen[name] = true
		vars = append(vars, census.Variable{Name: name, Code: code})
	}
	return vars, nil
}

func censusTitle(q census.Query) string {
	title := fmt.Sprintf("ACS %d %s by %s, %s", q.Year, q.Dataset, q.Geography.Level, strings.ToUpper(q.Geography.State))
	if q.Geography.County != "" {
		title += " county " + q.Geography.County
	}
	return title
}

// addQueryFlags registers the ACS query flags read by censusQuery.
func addQueryFlags(fs *pflag.FlagSet) {
	fs.String("state", "", "state abbreviation or FIPS code (default from config)")
	fs.String("county", "", "three-digit county FIPS code")
	fs.String("level", string(census.LevelTract), "geography level: tract or county")
	fs.StringArray("var", nil, "variable as name=code (repeatable)")
	fs.String("summary", "", "summary variable code used as the percentage denominator")
	fs.Int("year", 0, "ACS vintage (default from config)")
	fs.String("dataset", "", "ACS dataset path, e.g. acs/acs5 (default from config)")
}

func init() {
	addQueryFlags(censusCmd.Flags())
	censusCmd.Flags().StringP("output", "o", "census.png", "PNG output path")
	censusCmd.Flags().String("xlsx", "", "also write the estimates table to this .xlsx path")
	rootCmd.AddCommand(censusCmd)
}
