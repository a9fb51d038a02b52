package main

import (
	"encoding/json"
	"fmt"

	"github.com/fireflightsync/fireflight/pkg/revision"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <root>",
	Short: "Print the parsed revision state of a sync root",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func runInspect(cmd *cobra.Command, args []string) error {
	root := args[0]

	backend, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer backend.Close()

	snap, err := backend.Root(root).Get(cmd.Context())
	if err != nil {
		return fmt.Errorf("reading root: %w", err)
	}

	rs := revision.ParseRoot(snap)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rs)
}
