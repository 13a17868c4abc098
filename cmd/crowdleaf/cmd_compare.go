package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/routing"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim"
	"github.com/signalsfoundry/crowdleaf-simulator/internal/store"
)

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run baseline and adaptive routing side by side",
		Long: `Run the baseline and the CrowdLeaf adaptive policy in lockstep from
the same seed and the same initial placement, then print both summaries
and the reductions achieved by adaptive routing.

Examples:
  crowdleaf compare --preset dxb
  crowdleaf compare --preset stress --agents 600 --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			save, _ := cmd.Flags().GetBool("save")

			s, err := resolveSettings(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer s.close(ctx)

			cmp := sim.NewComparison(s.topology, s.sim, s.seed, s.engineOptions()...)
			report, err := cmp.Run(ctx)
			if err != nil {
				return fmt.Errorf("comparison interrupted at tick %d: %w", cmp.Baseline.Tick(), err)
			}

			ids := map[string]string{}
			if save {
				db, err := openStore(cmd, s.cfg)
				if err != nil {
					return err
				}
				defer db.Close()
				for _, e := range []*sim.Engine{cmp.Baseline, cmp.Adaptive} {
					saved, err := db.SaveRun(ctx, store.Run{
						Topology: s.topology.Name(),
						Mode:     e.Mode(),
						Seed:     s.seed,
						Config:   e.Config(),
						Series:   e.Metrics(),
					})
					if err != nil {
						return fmt.Errorf("save %s run: %w", e.Mode(), err)
					}
					ids[e.Mode()] = saved.ID
				}
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]any{
					"topology": s.topology.Name(),
					"seed":     s.seed,
					"agents":   s.sim.NumAgents,
					"report":   report,
					"run_ids":  ids,
				})
			}

			fmt.Fprintf(out, "Topology: %s   Agents: %s   Seed: %d   Ticks: %s\n\n",
				s.topology.Name(), humanize.Comma(int64(s.sim.NumAgents)), s.seed, humanize.Comma(int64(report.Baseline.Ticks)))
			printReport(out, report)
			for _, mode := range []string{routing.NameBaseline, routing.NameAdaptive} {
				if id, ok := ids[mode]; ok {
					fmt.Fprintf(out, "Saved %s run %s\n", mode, id)
				}
			}
			return nil
		},
	}
	addSimFlags(cmd)
	return cmd
}

func printReport(w io.Writer, r sim.Report) {
	fmt.Fprintf(w, "%-22s %12s %12s %12s\n", "", "baseline", "adaptive", "reduction")
	row := func(label string, b, a, reduction int, pct string) {
		fmt.Fprintf(w, "%-22s %12s %12s %12s%s\n", label,
			humanize.Comma(int64(b)), humanize.Comma(int64(a)), humanize.Comma(int64(reduction)), pct)
	}
	row("Injuries", r.Baseline.Injuries, r.Adaptive.Injuries, r.InjuryReduction, fmt.Sprintf(" (%.1f%%)", r.InjuryReductionPct()))
	row("Deaths", r.Baseline.Deaths, r.Adaptive.Deaths, r.DeathReduction, fmt.Sprintf(" (%.1f%%)", r.DeathReductionPct()))
	row("Overcrowding events", r.Baseline.OvercrowdingEvents, r.Adaptive.OvercrowdingEvents, r.OvercrowdingReduction,
		fmt.Sprintf(" (%.1f%%)", r.OvercrowdingReductionPct()))
	fmt.Fprintf(w, "%-22s %12s %12s %12s\n", "Peak mean density",
		humanize.FormatFloat("#,###.###", r.Baseline.PeakMeanDensity),
		humanize.FormatFloat("#,###.###", r.Adaptive.PeakMeanDensity),
		humanize.FormatFloat("#,###.###", r.PeakDensityReduction))
	fmt.Fprintf(w, "%-22s %12s %12s %+12d\n", "Evacuated",
		humanize.Comma(int64(r.Baseline.Evacuated)), humanize.Comma(int64(r.Adaptive.Evacuated)), r.ExtraEvacuated)
}
