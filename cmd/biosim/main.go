package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/san-kum/biosim/internal/config"
	"github.com/san-kum/biosim/internal/storage"
)

var (
	dataDir   string
	storeKind string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "biosim",
		Short:         "biochemical network simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", config.DefaultDataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "fs", "run store (fs, sqlite, none)")

	rootCmd.AddCommand(
		newRunCmd(),
		newListCmd(),
		newShowCmd(),
		newPlotCmd(),
		newAnalyzeCmd(),
		newExportCSVCmd(),
		newPresetsCmd(),
		newScenarioCmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openStore() (storage.Store, error) {
	if storeKind == "none" {
		return nil, fmt.Errorf("no run store configured")
	}
	return storage.Open(storage.Kind(storeKind), dataDir)
}
