package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/usagebar/usagebar/internal/config"
	"github.com/usagebar/usagebar/internal/providers"
)

func main() {
	if os.Getenv("USAGEBAR_DEBUG") != "" {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Config path: %s\n", config.ConfigPath())
		os.Exit(1)
	}

	registry := providers.NewRegistry(cfg.Profiles)

	root := cobra.Command{
		Use:   "usagebar",
		Short: "usagebar reports AI coding tool usage, sessions and spend across providers.",
	}

	root.AddCommand(
		newStatsCmd(registry),
		newSessionsCmd(registry),
		newDailyCmd(registry),
		newHistoryCmd(registry),
		newLimitsCmd(registry),
		newProfilesCmd(registry),
		newWatchCmd(registry),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
