package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation",
		Long: `Run a single simulation under baseline or adaptive routing and print
its end-of-run summary.

Examples:
  crowdleaf run --preset atl
  crowdleaf run --preset stress --adaptive --duration 60 --save
  crowdleaf run --topology terminal.yaml --agents 500 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			save, _ := cmd.Flags().GetBool("save")

			s, err := resolveSettings(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer s.close(ctx)

			engine := sim.New(s.topology, s.sim, s.engineOptions()...)
			start := time.Now()
			metrics, err := engine.Run(ctx)
			if err != nil {
				return fmt.Errorf("simulation interrupted at tick %d: %w", engine.Tick(), err)
			}
			wall := time.Since(start)

			summary := metrics.Summary()
			var runID string
			if save {
				db, err := openStore(cmd, s.cfg)
				if err != nil {
					return err
				}
				defer db.Close()
				saved, err := db.SaveRun(ctx, store.Run{
					Topology: s.topology.Name(),
					Mode:     engine.Mode(),
					Seed:     s.seed,
					Config:   engine.Config(),
					Summary:  summary,
					Series:   metrics,
				})
				if err != nil {
					return fmt.Errorf("save run: %w", err)
				}
				runID = saved.ID
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]any{
					"run_id":   runID,
					"topology": s.topology.Name(),
					"mode":     engine.Mode(),
					"seed":     s.seed,
					"agents":   s.sim.NumAgents,
					"config":   engine.Config(),
					"summary":  summary,
				})
			}

			fmt.Fprintf(out, "Topology:  %s (%d zones, %d corridors)\n", s.topology.Name(), s.topology.Len(), s.topology.EdgeCount())
			fmt.Fprintf(out, "Mode:      %s\n", engine.Mode())
			fmt.Fprintf(out, "Agents:    %s\n", humanize.Comma(int64(s.sim.NumAgents)))
			fmt.Fprintf(out, "Seed:      %d\n", s.seed)
			fmt.Fprintf(out, "Ticks:     %s (%ss simulated in %s)\n",
				humanize.Comma(int64(summary.Ticks)), humanize.Ftoa(summary.Time), wall.Round(time.Millisecond))
			printSummary(out, summary)
			if runID != "" {
				fmt.Fprintf(out, "\nSaved run %s\n", runID)
			}
			return nil
		},
	}
	addSimFlags(cmd)
	cmd.Flags().Bool("adaptive", false, "Use CrowdLeaf adaptive routing (default from config)")
	return cmd
}

func printSummary(w io.Writer, s sim.Summary) {
	fmt.Fprintf(w, "Injuries:  %s\n", humanize.Comma(int64(s.Injuries)))
	fmt.Fprintf(w, "Deaths:    %s\n", humanize.Comma(int64(s.Deaths)))
	fmt.Fprintf(w, "Evacuated: %s\n", humanize.Comma(int64(s.Evacuated)))
	fmt.Fprintf(w, "Overcrowding events: %s\n", humanize.Comma(int64(s.OvercrowdingEvents)))
	fmt.Fprintf(w, "Peak mean density:   %s persons/m²\n", humanize.FormatFloat("#,###.###", s.PeakMeanDensity))
}
