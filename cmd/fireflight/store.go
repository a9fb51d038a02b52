package main

import (
	"os"

	"github.com/fireflightsync/fireflight/pkg/store/boltstore"
	"github.com/spf13/cobra"
)

func openStore(cmd *cobra.Command) (*boltstore.Store, error) {
	dataDir, _ := cmd.Root().PersistentFlags().GetString("data-dir")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	return boltstore.Open(boltstore.Config{DataDir: dataDir})
}
