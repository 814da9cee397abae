package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/edumetrics/funnelcast/internal/api"
	"github.com/edumetrics/funnelcast/internal/attribution"
	"github.com/edumetrics/funnelcast/internal/calibration"
	"github.com/edumetrics/funnelcast/internal/elasticity"
	"github.com/edumetrics/funnelcast/internal/montecarlo"
	"github.com/edumetrics/funnelcast/internal/pipeline"
	"github.com/edumetrics/funnelcast/internal/store"
)

var (
	// Global flags
	seriesFile string
	brand      string
	statePath  string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "funnelcast",
		Short: "Marketing funnel forecasting and uncertainty toolkit",
		Long: `Forecast campaign outcomes from funnel observations: partial-to-total
projection, tree ensemble refinement, Monte Carlo risk distribution,
scenario planning, spend elasticity and conversion attribution.`,
	}

	rootCmd.PersistentFlags().StringVarP(&seriesFile, "series", "s", "", "Funnel series CSV (date,leads,enrollments,spend[,channel])")
	rootCmd.PersistentFlags().StringVarP(&brand, "brand", "b", "default", "Brand the series belongs to")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "Calibration/model state snapshot file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")

	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(attributeCmd())
	rootCmd.AddCommand(calibrateCmd())
	rootCmd.AddCommand(elasticityCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func forecastCmd() *cobra.Command {
	var (
		currentWeek  int
		totalWeeks   int
		partialValue float64
		target       float64
		seed         int64
	)

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Project the campaign-end total with confidence bands and scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			series, err := loadSeries(seriesFile)
			if err != nil {
				return err
			}

			runner := newRunner()
			defer closeRunner(runner)

			req := pipeline.Request{
				Brand:  brand,
				Series: series,
				Campaign: api.CampaignConfig{
					CurrentWeek:    currentWeek,
					TotalWeeks:     totalWeeks,
					RemainingWeeks: totalWeeks - currentWeek,
				},
				PartialValue: partialValue,
				Target:       target,
				Params:       api.DefaultEngineParams(),
			}
			if cmd.Flags().Changed("seed") {
				req.Seed = &seed
			}

			report, err := runner.Forecast(context.Background(), req)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}

	cmd.Flags().IntVar(&currentWeek, "current-week", 1, "Current campaign week (1-based)")
	cmd.Flags().IntVar(&totalWeeks, "total-weeks", 8, "Planned campaign duration in weeks")
	cmd.Flags().Float64Var(&partialValue, "partial", 0, "Metric accumulated so far")
	cmd.Flags().Float64Var(&target, "target", 0, "Campaign goal for risk probabilities")
	cmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed for reproducible simulation")

	return cmd
}

func simulateCmd() *cobra.Command {
	var (
		central float64
		lower   float64
		upper   float64
		target  float64
		nSims   int
		seed    int64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Draw the outcome distribution around a projection",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := api.Projection{Central: central, Lower: lower, Upper: upper}
			cfg := montecarlo.DefaultConfig()
			cfg.NSimulations = nSims
			if cmd.Flags().Changed("seed") {
				cfg.Seed = &seed
			}

			result, err := montecarlo.Simulate(base, cfg)
			if err != nil {
				return err
			}

			out := map[string]interface{}{
				"mean":     result.Mean(),
				"std":      result.Std(),
				"p10":      result.Percentile(10),
				"p50":      result.Percentile(50),
				"p90":      result.Percentile(90),
				"interval": result.Interval(2.5, 97.5),
			}
			if target > 0 {
				out["prob_below_target"] = result.ProbabilityBelow(target)
			}
			return printJSON(out)
		},
	}

	cmd.Flags().Float64Var(&central, "central", 0, "Projection central value")
	cmd.Flags().Float64Var(&lower, "lower", 0, "Projection lower bound")
	cmd.Flags().Float64Var(&upper, "upper", 0, "Projection upper bound")
	cmd.Flags().Float64Var(&target, "target", 0, "Goal for risk probabilities")
	cmd.Flags().IntVar(&nSims, "n", 1000, "Number of trajectories")
	cmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed for reproducible runs")

	return cmd
}

func attributeCmd() *cobra.Command {
	var (
		journeysFile string
		model        string
	)

	cmd := &cobra.Command{
		Use:   "attribute",
		Short: "Distribute conversion credit across touch channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			journeys, err := loadJourneys(journeysFile)
			if err != nil {
				return err
			}

			result, err := attribution.Attribute(journeys, model, api.DefaultEngineParams())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVarP(&journeysFile, "journeys", "j", "", "Touch CSV (lead_id,channel,timestamp)")
	cmd.Flags().StringVarP(&model, "model", "m", attribution.ModelLinear,
		"Attribution model: last_touch, first_touch, linear, time_decay, positional, shapley")
	cmd.MarkFlagRequired("journeys")

	return cmd
}

func calibrateCmd() *cobra.Command {
	var evaluationsFile string

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Score past intervals against realized outcomes",
		Long: `Reads a CSV of lower,upper,realized rows, computes the interval hit
rate and the calibration factor future forecasts should apply, and
persists the state when --state is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			intervals, realized, err := loadEvaluations(evaluationsFile)
			if err != nil {
				return err
			}

			runner := newRunner()
			defer closeRunner(runner)

			if runner.Store != nil {
				state, err := runner.CalibrateFeedback(context.Background(), brand, "enrollments", intervals, realized, api.DefaultEngineParams())
				if err != nil {
					return err
				}
				return printJSON(state)
			}

			state, err := calibration.Calibrate(intervals, realized, api.DefaultEngineParams())
			if err != nil {
				return err
			}
			return printJSON(state)
		},
	}

	cmd.Flags().StringVarP(&evaluationsFile, "evaluations", "e", "", "Evaluation CSV (lower,upper,realized)")
	cmd.MarkFlagRequired("evaluations")

	return cmd
}

func elasticityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "elasticity",
		Short: "Estimate per-channel spend elasticity from the series",
		RunE: func(cmd *cobra.Command, args []string) error {
			series, err := loadSeries(seriesFile)
			if err != nil {
				return err
			}
			return printJSON(elasticity.EstimateSeries(series))
		},
	}
	return cmd
}

func newRunner() *pipeline.Runner {
	r := &pipeline.Runner{}
	if statePath != "" {
		r.Store = store.NewMemoryStore(statePath)
	}
	return r
}

func closeRunner(r *pipeline.Runner) {
	if r.Store != nil {
		if err := r.Store.Close(); err != nil && verbose {
			fmt.Fprintf(os.Stderr, "state store close: %v\n", err)
		}
	}
}

// loadSeries parses a funnel CSV with a header row:
// date,leads,enrollments,spend[,channel]. Dates are ISO (2006-01-02).
func loadSeries(path string) (api.Series, error) {
	if path == "" {
		return nil, fmt.Errorf("--series is required")
	}
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("series file %s has no data rows", path)
	}

	var series api.Series
	for i, row := range rows[1:] {
		if len(row) < 4 {
			return nil, fmt.Errorf("row %d: expected at least 4 columns, got %d", i+2, len(row))
		}
		date, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: bad date %q: %w", i+2, row[0], err)
		}
		leads, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad leads %q: %w", i+2, row[1], err)
		}
		enrollments, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad enrollments %q: %w", i+2, row[2], err)
		}
		spend, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad spend %q: %w", i+2, row[3], err)
		}
		point := api.TimePoint{Date: date, Leads: leads, Enrollments: enrollments, Spend: spend}
		if len(row) > 4 {
			point.Channel = row[4]
		}
		series = append(series, point)
	}

	sort.Slice(series, func(a, b int) bool { return series[a].Date.Before(series[b].Date) })
	return series, nil
}

// loadJourneys parses touch rows (lead_id,channel,timestamp) into one
// chronological journey per lead.
func loadJourneys(path string) ([]attribution.Journey, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("journeys file %s has no data rows", path)
	}

	byLead := make(map[string]attribution.Journey)
	var order []string
	for i, row := range rows[1:] {
		if len(row) < 3 {
			return nil, fmt.Errorf("row %d: expected 3 columns, got %d", i+2, len(row))
		}
		ts, err := time.Parse(time.RFC3339, row[2])
		if err != nil {
			return nil, fmt.Errorf("row %d: bad timestamp %q: %w", i+2, row[2], err)
		}
		if _, seen := byLead[row[0]]; !seen {
			order = append(order, row[0])
		}
		byLead[row[0]] = append(byLead[row[0]], api.Touch{Channel: row[1], Timestamp: ts})
	}

	journeys := make([]attribution.Journey, 0, len(order))
	for _, lead := range order {
		j := byLead[lead]
		sort.Slice(j, func(a, b int) bool { return j[a].Timestamp.Before(j[b].Timestamp) })
		journeys = append(journeys, j)
	}
	return journeys, nil
}

// loadEvaluations parses lower,upper,realized rows.
func loadEvaluations(path string) ([]api.Projection, []float64, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("evaluations file %s has no data rows", path)
	}

	var intervals []api.Projection
	var realized []float64
	for i, row := range rows[1:] {
		if len(row) < 3 {
			return nil, nil, fmt.Errorf("row %d: expected 3 columns, got %d", i+2, len(row))
		}
		lower, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: bad lower %q: %w", i+2, row[0], err)
		}
		upper, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: bad upper %q: %w", i+2, row[1], err)
		}
		value, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, nil, fmt.Errorf("row %d: bad realized %q: %w", i+2, row[2], err)
		}
		intervals = append(intervals, api.Projection{Central: (lower + upper) / 2, Lower: lower, Upper: upper})
		realized = append(realized, value)
	}
	return intervals, realized, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return rows, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
