package main

import (
	"encoding/json"
	"fmt"

	"github.com/fireflightsync/fireflight/pkg/engine"
	"github.com/fireflightsync/fireflight/pkg/types"
	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <root> <table> [tables...]",
	Short: "Pull the merged changeset for a sync root",
	Long: `Pull walks the revision range since --since (or from the
beginning) for each named table and prints the merged types.PullResult
as JSON.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPull,
}

func init() {
	pullCmd.Flags().Int64("since", 0, "exclusive revision watermark to pull from; 0 pulls full history")
}

func runPull(cmd *cobra.Command, args []string) error {
	root, tables := args[0], args[1:]

	since, _ := cmd.Flags().GetInt64("since")
	var pullArgs types.PullArgs
	if since > 0 {
		pullArgs.LastPulledAt = &since
	}

	backend, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer backend.Close()

	eng := engine.New(backend)
	result, err := eng.Pull(cmd.Context(), root, tables, pullArgs)
	if err != nil {
		return fmt.Errorf("pull failed: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
