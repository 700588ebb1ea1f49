package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/noexlabs/rulesengine/internal/config"
	"github.com/noexlabs/rulesengine/internal/versionstore"
)

func newRulesCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Validate, apply, or roll back rule definitions",
	}
	cmd.AddCommand(newRulesValidateCommand())
	cmd.AddCommand(newRulesApplyCommand(flags))
	cmd.AddCommand(newRulesRollbackCommand(flags))
	return cmd
}

func newRulesValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse a rule file and report any validation errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			specs, err := parseRuleFile(data)
			if err != nil {
				return err
			}
			var failed int
			for _, spec := range specs {
				if _, err := spec.ToRule(time.Now()); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: INVALID: %v\n", spec.ID, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", spec.ID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d rules failed validation", failed, len(specs))
			}
			return nil
		},
	}
}

func newRulesApplyCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file>",
		Short: "Validate a rule file and persist it as the current definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(flags.LogFormat, flags.Verbose)

			cfg, errs := config.Load(flags.ConfigPath)
			if cfg == nil {
				return fmt.Errorf("loading config: %v", errs)
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			specs, err := parseRuleFile(data)
			if err != nil {
				return err
			}

			storageAdapter, err := buildStorage(cfg, logger)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer storageAdapter.Close()

			store := versionstore.NewStore(storageAdapter)
			now := time.Now()

			var failed int
			for _, spec := range specs {
				if _, err := spec.ToRule(now); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: INVALID: %v\n", spec.ID, err)
					continue
				}

				changeType := versionstore.ChangeCreated
				if _, existed, err := loadPersistedRule(storageAdapter, spec.ID); err != nil {
					return fmt.Errorf("checking existing rule %s: %w", spec.ID, err)
				} else if existed {
					changeType = versionstore.ChangeUpdated
				}

				entry, err := store.Record(spec.ID, changeType, spec)
				if err != nil {
					return fmt.Errorf("recording version for %s: %w", spec.ID, err)
				}
				if err := savePersistedRule(storageAdapter, spec, now); err != nil {
					return fmt.Errorf("persisting rule %s: %w", spec.ID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: applied as version %d (%s)\n", spec.ID, entry.Version, changeType)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d rules failed validation", failed, len(specs))
			}
			return nil
		},
	}
}

func newRulesRollbackCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <rule-id> <version>",
		Short: "Restore a rule to a previously recorded version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(flags.LogFormat, flags.Verbose)

			ruleID := args[0]
			version, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("version must be an integer: %w", err)
			}

			cfg, errs := config.Load(flags.ConfigPath)
			if cfg == nil {
				return fmt.Errorf("loading config: %v", errs)
			}
			storageAdapter, err := buildStorage(cfg, logger)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer storageAdapter.Close()

			store := versionstore.NewStore(storageAdapter)
			spec, err := store.Rollback(ruleID, version)
			if err != nil {
				return err
			}
			if err := savePersistedRule(storageAdapter, spec, time.Now()); err != nil {
				return fmt.Errorf("persisting rolled-back rule: %w", err)
			}

			out, err := yaml.Marshal(spec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s to version %d:\n%s", ruleID, version, out)
			return nil
		},
	}
}
