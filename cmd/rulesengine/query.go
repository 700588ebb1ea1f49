package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/noexlabs/rulesengine/internal/config"
	"github.com/noexlabs/rulesengine/pkg/engine"
	"github.com/noexlabs/rulesengine/pkg/value"
)

func newQueryCommand(flags *rootFlags) *cobra.Command {
	var kind, key, op, val string
	var depth int

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Backward-chain from a fact or event goal through the configured rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			goalKind := engine.GoalFact
			if kind == "event" {
				goalKind = engine.GoalEvent
			} else if kind != "fact" {
				return fmt.Errorf("--kind must be \"fact\" or \"event\", got %q", kind)
			}
			if key == "" {
				return fmt.Errorf("--key is required")
			}

			goal := engine.Goal{Kind: goalKind, Key: key}
			if op != "" {
				goal.Operator = op
				goal.HasValue = true
				goal.Value = value.FromAny(parseLiteral(val))
			}

			logger := setupLogger(flags.LogFormat, flags.Verbose)
			cfg, errs := config.Load(flags.ConfigPath)
			if cfg == nil {
				return fmt.Errorf("loading config: %v", errs)
			}
			for _, e := range errs {
				logger.Warn("config validation issue", "error", e)
			}

			registry := buildServices(cfg)
			eng, err := buildEngine(cfg, registry, nil)
			if err != nil {
				return fmt.Errorf("constructing engine: %w", err)
			}
			for _, e := range config.RegisterAll(eng, cfg, time.Now()) {
				logger.Warn("rule registration issue", "error", e)
			}

			proof := eng.QueryWithDepth(goal, depth)
			out, err := json.MarshalIndent(proof, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "fact", "goal kind: fact or event")
	cmd.Flags().StringVar(&key, "key", "", "fact key or event topic to prove")
	cmd.Flags().StringVar(&op, "op", "", "condition.Operator to constrain the goal to, empty means plain existence")
	cmd.Flags().StringVar(&val, "value", "", "literal value compared against when --op is set")
	cmd.Flags().IntVar(&depth, "depth", engine.DefaultMaxQueryDepth, "maximum rule-chain recursion depth")

	return cmd
}

// parseLiteral interprets a CLI-supplied value as a bool, a number, or
// else a plain string, mirroring how a rule author's YAML scalar would
// already be typed by the YAML parser.
func parseLiteral(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
