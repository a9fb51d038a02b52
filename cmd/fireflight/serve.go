package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fireflightsync/fireflight/pkg/engine"
	"github.com/fireflightsync/fireflight/pkg/log"
	"github.com/fireflightsync/fireflight/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve health, readiness, and metrics endpoints for a running engine",
	Long: `Serve opens the local store, registers it and the engine with the
health checker, and exposes /health, /ready, /live, and /metrics over
HTTP for operators and orchestrators to poll.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "address to listen on")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	backend, err := openStore(cmd)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer backend.Close()

	engine.New(backend)

	mux := http.NewServeMux()
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Logger.Info().Str("addr", addr).Msg("serving health and metrics endpoints")
	return server.ListenAndServe()
}
