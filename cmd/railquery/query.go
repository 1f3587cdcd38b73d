package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/railquery-data/internal/intent"
	"github.com/railquery-data/internal/schedule"
)

var departuresCmd = &cobra.Command{
	Use:   "departures <origin> <destination>",
	Short: "Lists direct rail departures between two stations",
	Args:  cobra.ExactArgs(2),
	RunE:  departures,
}

var stationCmd = &cobra.Command{
	Use:   "station <name>",
	Short: "Lists the next rail departures from a station",
	Args:  cobra.ExactArgs(1),
	RunE:  stationDepartures,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answers a free-text question such as \"from Uppsala to Stockholm tomorrow morning\"",
	Args:  cobra.MinimumNArgs(1),
	RunE:  ask,
}

var (
	date  string
	after string
	limit int
)

func init() {
	for _, c := range []*cobra.Command{departuresCmd, stationCmd} {
		c.Flags().StringVarP(&date, "date", "d", "", "Travel date (YYYY-MM-DD)")
		c.Flags().StringVarP(&after, "after", "a", "", "Earliest departure (HH:MM)")
		c.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum rows (default from config)")
	}
}

func newPlanner() *schedule.Planner {
	return schedule.NewPlanner(database, nil, schedule.Options{
		CandidateLimit:  cfg.Query.CandidateLimit,
		DepartureLimit:  cfg.Query.DepartureLimit,
		StationLimit:    cfg.Query.StationLimit,
		StopSearchLimit: cfg.Query.StopSearchLimit,
		MaxLimit:        cfg.Query.MaxLimit,
	})
}

func departures(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	result, err := newPlanner().FindDepartures(ctx, schedule.DepartureQuery{
		Origin:      args[0],
		Destination: args[1],
		Date:        date,
		After:       after,
		Limit:       limit,
	})
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), result)
}

func stationDepartures(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	result, err := newPlanner().NextDepartures(ctx, schedule.StationQuery{
		Station: args[0],
		Date:    date,
		After:   after,
		Limit:   limit,
	})
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), result)
}

func ask(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	parsed := intent.NewExtractor(cfg.Query.Location()).Parse(strings.Join(args, " "))
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "origin=%q destination=%q date=%q time=%q type=%s\n",
		parsed.Origin, parsed.Destination, parsed.Date, parsed.Time, parsed.Type)

	if parsed.Origin == "" || parsed.Destination == "" {
		fmt.Fprintln(out, "Please specify both origin and destination stops (e.g., 'from Stockholm C to Göteborg').")
		return nil
	}

	result, err := newPlanner().FindDepartures(ctx, schedule.DepartureQuery{
		Origin:      parsed.Origin,
		Destination: parsed.Destination,
		Date:        parsed.Date,
		After:       parsed.Time,
	})
	if err != nil {
		return err
	}
	return printResult(out, result)
}

// printResult renders a result as an aligned text table
func printResult(w io.Writer, result *schedule.Result) error {
	fmt.Fprintln(w, result.Title)
	if result.Empty() {
		if result.Message != "" {
			fmt.Fprintf(w, "%s (%s)\n", result.Message, result.Reason)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	labels := make([]string, len(result.Columns))
	for i, c := range result.Columns {
		labels[i] = c.Label
	}
	fmt.Fprintln(tw, strings.Join(labels, "\t"))

	for _, row := range result.Rows {
		cells := make([]string, len(result.Columns))
		for i, c := range result.Columns {
			if v := row[c.ID]; v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}
