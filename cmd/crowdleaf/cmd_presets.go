package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/crowdleaf-simulator/core"
)

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List built-in facility layouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()

			type entry struct {
				Key         string `json:"key"`
				Name        string `json:"name"`
				Agents      int    `json:"recommended_agents"`
				Zones       int    `json:"zones"`
				Corridors   int    `json:"corridors"`
				Description string `json:"description"`
			}
			var entries []entry
			for _, p := range core.Presets() {
				g := p.Build()
				entries = append(entries, entry{
					Key:         p.Key,
					Name:        p.Name,
					Agents:      p.AgentCount,
					Zones:       g.Len(),
					Corridors:   g.EdgeCount(),
					Description: p.Description,
				})
			}

			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]any{"presets": entries})
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%-7s %s\n", e.Key, e.Name)
				fmt.Fprintf(out, "        %d zones, %d corridors, %d agents recommended\n", e.Zones, e.Corridors, e.Agents)
				fmt.Fprintf(out, "        %s\n", e.Description)
			}
			return nil
		},
	}
}
