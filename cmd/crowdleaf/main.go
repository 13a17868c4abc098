package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "crowdleaf",
		Short: "CrowdLeaf crowd dispersal simulator",
		Long: `crowdleaf simulates pedestrians moving through a facility graph and
compares shortest-path routing against the CrowdLeaf adaptive door
controller, reporting injuries, deaths, evacuations and congestion.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (default $CROWDLEAF_CONFIG)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("db", "", "Run history database (default store.path from config, then crowdleaf.db)")

	rootCmd.AddCommand(
		newRunCmd(),
		newCompareCmd(),
		newPresetsCmd(),
		newHistoryCmd(),
	)
	return rootCmd
}
