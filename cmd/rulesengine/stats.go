package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noexlabs/rulesengine/internal/audit"
	"github.com/noexlabs/rulesengine/internal/config"
)

func newStatsCommand(flags *rootFlags) *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Report rule counts and audit-log activity for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(flags.LogFormat, flags.Verbose)

			cfg, errs := config.Load(flags.ConfigPath)
			if cfg == nil {
				return fmt.Errorf("loading config: %v", errs)
			}

			enabled := 0
			for _, r := range cfg.Rules {
				if r.Enabled == nil || *r.Enabled {
					enabled++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rules: %d total, %d enabled\n", len(cfg.Rules), enabled)
			fmt.Fprintf(cmd.OutOrStdout(), "groups: %d\n", len(cfg.Groups))
			fmt.Fprintf(cmd.OutOrStdout(), "services: %d\n", len(cfg.Services))
			fmt.Fprintf(cmd.OutOrStdout(), "webhook destinations: %d\n", len(cfg.Webhooks))

			target := time.Now()
			if day != "" {
				parsed, err := time.Parse("2006-01-02", day)
				if err != nil {
					return fmt.Errorf("--day: %w", err)
				}
				target = parsed
			}

			storageAdapter, err := buildStorage(cfg, logger)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer storageAdapter.Close()

			auditLog := audit.NewLog(storageAdapter)
			records, err := auditLog.Query(target)
			if err != nil {
				return fmt.Errorf("querying audit log: %w", err)
			}

			byCategory := make(map[audit.Category]int)
			for _, rec := range records {
				byCategory[rec.Category]++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\naudit events for %s: %d total\n", target.Format("2006-01-02"), len(records))
			for _, cat := range []audit.Category{audit.CategoryFact, audit.CategoryRule, audit.CategoryTimer, audit.CategoryEngine, audit.CategoryOther} {
				if n, ok := byCategory[cat]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", cat, n)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "day to summarize (YYYY-MM-DD), defaults to today")
	return cmd
}
