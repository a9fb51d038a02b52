package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fireflightsync/fireflight/pkg/engine"
	"github.com/fireflightsync/fireflight/pkg/types"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push <root> <changes.json>",
	Short: "Push a changeset to a sync root",
	Long: `Push reads a types.PushArgs JSON document from the given file and
applies it to the named sync root, printing the resulting error (if any)
to stderr and exiting non-zero on failure.`,
	Args: cobra.ExactArgs(2),
	RunE: runPush,
}

func runPush(cmd *cobra.Command, args []string) error {
	root, path := args[0], args[1]

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading changeset: %w", err)
	}
	var pushArgs types.PushArgs
	if err := json.Unmarshal(raw, &pushArgs); err != nil {
		return fmt.Errorf("parsing changeset: %w", err)
	}

	backend, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer backend.Close()

	eng := engine.New(backend)
	if err := eng.Push(cmd.Context(), root, pushArgs); err != nil {
		return fmt.Errorf("push failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "push committed against root %q\n", root)
	return nil
}
