package main

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List stored runs, or show one run's series",
		Long: `Without arguments, list the most recent stored runs. With a run id,
print that run's summary followed by its metrics series.

Examples:
  crowdleaf history --limit 5
  crowdleaf history 3f0c9a4e-... --every 10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")
			every, _ := cmd.Flags().GetInt("every")
			if every < 1 {
				every = 1
			}

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := openStore(cmd, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				runs, err := db.ListRuns(ctx, limit)
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
				if jsonOut {
					return json.NewEncoder(out).Encode(map[string]any{"runs": runs, "total_count": len(runs)})
				}
				if len(runs) == 0 {
					fmt.Fprintln(out, "No stored runs")
					return nil
				}
				for _, r := range runs {
					fmt.Fprintf(out, "%s  %-8s %-8s agents=%-5d injuries=%-5s deaths=%-4s evacuated=%-5s %s\n",
						r.ID, r.Topology, r.Mode, r.Config.NumAgents,
						humanize.Comma(int64(r.Summary.Injuries)),
						humanize.Comma(int64(r.Summary.Deaths)),
						humanize.Comma(int64(r.Summary.Evacuated)),
						humanize.Time(r.CreatedAt))
				}
				return nil
			}

			run, err := db.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			series, err := db.LoadSeries(ctx, run.ID)
			if err != nil {
				return err
			}
			if jsonOut {
				run.Series = series
				return json.NewEncoder(out).Encode(run)
			}

			fmt.Fprintf(out, "Run %s (%s, %s, seed %d, %s)\n", run.ID, run.Topology, run.Mode, run.Seed, humanize.Time(run.CreatedAt))
			printSummary(out, run.Summary)
			fmt.Fprintf(out, "\n%8s %9s %7s %10s %9s %9s\n", "time", "injuries", "deaths", "evacuated", "overcrowd", "density")
			for i := 0; i < series.Len(); i += every {
				fmt.Fprintf(out, "%8.2f %9d %7d %10d %9d %9.4f\n",
					series.Time[i], series.Injuries[i], series.Deaths[i],
					series.Evacuated[i], series.OvercrowdingEvents[i], series.MeanDensity[i])
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 for all)")
	cmd.Flags().Int("every", 1, "Print every Nth sample of a run's series")
	return cmd
}
