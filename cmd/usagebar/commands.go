package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/usagebar/usagebar/internal/config"
	"github.com/usagebar/usagebar/internal/core"
	"github.com/usagebar/usagebar/internal/providers"
	"github.com/usagebar/usagebar/internal/watch"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// backendFor resolves --profile, or errors when the flag names an unknown id.
func backendFor(r *providers.Registry, profileID string) (core.Provider, error) {
	backend, ok := r.Backend(profileID)
	if !ok {
		return nil, fmt.Errorf("no such profile: %s", profileID)
	}
	return backend, nil
}

func newStatsCmd(r *providers.Registry) *cobra.Command {
	var profileID string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show usage totals, per provider or aggregated across all enabled profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var all []core.UsageStats
			if profileID != "" {
				backend, err := backendFor(r, profileID)
				if err != nil {
					return err
				}
				stats, err := backend.UsageStats(ctx)
				if err != nil {
					return err
				}
				all = []core.UsageStats{stats}
			} else {
				all = r.AllUsageStats(ctx)
			}

			if jsonOut {
				return printJSON(all)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tINPUT\tOUTPUT\tCACHE R/W\tSESSIONS\tMESSAGES\tCOST")
			for _, s := range all {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d/%d\t%d\t%d\t$%.2f\n",
					s.Provider, s.TotalInputTokens, s.TotalOutputTokens,
					s.TotalCacheReadTokens, s.TotalCacheWriteTokens,
					s.TotalSessions, s.TotalMessages, s.EstimatedCostUSD)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id to query (default: all enabled)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	return cmd
}

func printSessions(sessions []core.Session, jsonOut bool) error {
	if jsonOut {
		return printJSON(sessions)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tMODEL\tTOKENS\tMESSAGES\tLAST ACTIVE\tACTIVE")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%v\n",
			s.ID, s.Project, s.Model, s.TokensUsed, s.MessageCount, s.LastActive, s.IsActive)
	}
	return w.Flush()
}

func newSessionsCmd(r *providers.Registry) *cobra.Command {
	var profileID string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions active within the last 30 minutes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := backendFor(r, profileID)
			if err != nil {
				return err
			}
			sessions, err := backend.ActiveSessions(cmd.Context())
			if err != nil {
				return err
			}
			return printSessions(sessions, jsonOut)
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id to query")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	cmd.MarkFlagRequired("profile")
	return cmd
}

func newDailyCmd(r *providers.Registry) *cobra.Command {
	var profileID string
	var jsonOut bool
	var days int

	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Show per-day token usage, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := backendFor(r, profileID)
			if err != nil {
				return err
			}
			daily, err := backend.DailyUsage(cmd.Context(), days)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(daily)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tINPUT\tOUTPUT\tSESSIONS\tMESSAGES")
			for _, d := range daily {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
					d.Date, d.InputTokens, d.OutputTokens, d.Sessions, d.Messages)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id to query")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	cmd.Flags().IntVar(&days, "days", 7, "number of days")
	cmd.MarkFlagRequired("profile")
	return cmd
}

func newHistoryCmd(r *providers.Registry) *cobra.Command {
	var profileID string
	var jsonOut bool
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions, most recent first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := backendFor(r, profileID)
			if err != nil {
				return err
			}
			sessions, err := backend.SessionHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printSessions(sessions, jsonOut)
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id to query")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum sessions to list")
	cmd.MarkFlagRequired("profile")
	return cmd
}

func newLimitsCmd(r *providers.Registry) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Show live quota windows for providers that report them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limits := r.AllRateLimits(cmd.Context())
			if jsonOut {
				return printJSON(limits)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROFILE\tWINDOW\tUSED\tRESETS")
			for id, status := range limits {
				if !status.Available {
					fmt.Fprintf(w, "%s\tunavailable\t\t\n", id)
					continue
				}
				for _, win := range []*core.RateLimitWindow{status.TokenWindow, status.TimeWindow, status.OpusWindow} {
					if win == nil {
						continue
					}
					fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%s\n", id, win.Label, win.Utilization, win.ResetsAt)
				}
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	return cmd
}

func newProfilesCmd(r *providers.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage provider profiles",
	}
	cmd.AddCommand(newProfilesListCmd(r), newProfilesAddCmd(r), newProfilesRemoveCmd(r))
	return cmd
}

func newProfilesListCmd(r *providers.Registry) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured profiles",
		RunE: func(_ *cobra.Command, _ []string) error {
			infos := r.Profiles()
			if jsonOut {
				return printJSON(infos)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tSOURCE\tDIR\tENABLED\tKEY")
			for _, p := range infos {
				key := ""
				if p.HasAPIKey {
					key = "set"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%s\n",
					p.ID, p.Name, p.Provider, p.SourceType, p.Dir, p.Enabled, key)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	return cmd
}

func saveProfiles(r *providers.Registry) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	infos := r.Profiles()
	byID := make(map[string]config.Profile, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		byID[p.ID] = p
	}

	// Rebuild the stored list from the registry's view, keeping keys from
	// the previous file since listings never carry them.
	next := make([]config.Profile, 0, len(infos))
	for _, info := range infos {
		p := config.Profile{
			ID: info.ID, Name: info.Name, Provider: info.Provider,
			Dir: info.Dir, Enabled: info.Enabled, SourceType: info.SourceType,
		}
		if prev, ok := byID[info.ID]; ok {
			p.APIKey = prev.APIKey
		}
		next = append(next, p)
	}
	cfg.Profiles = next
	return config.Save(cfg)
}

func newProfilesAddCmd(r *providers.Registry) *cobra.Command {
	var profile config.Profile

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a profile and persist it",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := r.Add(profile); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Profiles = append(cfg.Profiles, profile)
			return config.Save(cfg)
		},
	}
	cmd.Flags().StringVar(&profile.ID, "id", "", "unique profile id")
	cmd.Flags().StringVar(&profile.Name, "name", "", "display name")
	cmd.Flags().StringVar(&profile.Provider, "provider", "", "provider kind: claude, gemini or glm")
	cmd.Flags().StringVar(&profile.Dir, "dir", "", "data directory (account profiles)")
	cmd.Flags().StringVar(&profile.SourceType, "source", "account", "source type: account or api")
	cmd.Flags().StringVar(&profile.APIKey, "api-key", "", "API key (api profiles)")
	cmd.Flags().BoolVar(&profile.Enabled, "enabled", true, "include in aggregate views")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("provider")
	return cmd
}

func newProfilesRemoveCmd(r *providers.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a profile and persist the change",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			r.Remove(args[0])
			return saveProfiles(r)
		},
	}
}

func newWatchCmd(r *providers.Registry) *cobra.Command {
	var profileID string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-print active sessions whenever a profile's data directory changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := backendFor(r, profileID)
			if err != nil {
				return err
			}
			if backend.Source() == "" {
				return fmt.Errorf("profile %s has no local data directory to watch", profileID)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			refresh := func() {
				sessions, err := backend.ActiveSessions(ctx)
				if err != nil {
					fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
					return
				}
				if err := printSessions(sessions, jsonOut); err != nil {
					fmt.Fprintf(os.Stderr, "writing sessions: %v\n", err)
				}
			}

			w, err := watch.New(backend.Source(), refresh)
			if err != nil {
				return err
			}
			refresh()
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile id to watch")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit JSON")
	cmd.MarkFlagRequired("profile")
	return cmd
}
