// Copyright 2026 The dynamake Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marcelocantos/dynamake"
)

var (
	modules     []string
	configFiles []string
	listSteps   bool
	explainWhy  bool
	paramFlags  = map[string]*string{}
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dynamake: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	params := dynamake.NewParamRegistry()

	cmd := &cobra.Command{
		Use:   "dynamake [targets...]",
		Short: "A dynamic, per-invocation build engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), params, args)
		},
	}

	cmd.Flags().StringSliceVarP(&modules, "module", "m", nil, "additional rule-defining module to load")
	cmd.Flags().StringSliceVarP(&configFiles, "config", "c", nil, "extra configuration file(s) to apply")
	cmd.Flags().BoolVar(&listSteps, "list_steps", false, "print registered rule metadata and exit")
	cmd.Flags().BoolVar(&explainWhy, "why", false, "explain why each target would rebuild, without building anything")

	for _, name := range []string{
		"jobs", "log_level", "log_skipped_actions", "rebuild_changed_actions",
		"persistent_directory", "failure_aborts_build", "remove_stale_outputs",
		"touch_success_outputs", "remove_failed_outputs", "remove_empty_directories",
		"default_shell_prefix",
	} {
		v := ""
		paramFlags[name] = &v
		cmd.Flags().StringVar(&v, name, "", fmt.Sprintf("override parameter %q", name))
	}

	return cmd
}

func run(ctx context.Context, params *dynamake.ParamRegistry, targets []string) error {
	for _, path := range configFiles {
		if err := applyConfigFile(params, path); err != nil {
			return err
		}
	}
	for name, v := range paramFlags {
		if *v != "" {
			if err := params.SetFromString(name, *v); err != nil {
				return err
			}
		}
	}

	rules := dynamake.NewRuleRegistry()
	for _, m := range modules {
		if err := dynamake.LoadRuleModule(rules, m); err != nil {
			return err
		}
	}

	if listSteps {
		dynamake.PrintRuleMetadata(os.Stdout, rules)
		return nil
	}

	logger := dynamake.NewLogger(dynamake.ParseLogLevel(params.String("log_level")))
	defer logger.Sync()

	stat := dynamake.NewStatCache()
	resources := dynamake.NewResources(params.Int("jobs")).WithMetrics(prometheus.DefaultRegisterer)
	metrics := dynamake.NewMetrics(prometheus.DefaultRegisterer)
	runner := dynamake.NewShellRunner(params.String("default_shell_prefix"))

	session := dynamake.NewSession(params, rules, stat, resources, metrics, logger, runner)

	if len(targets) == 0 {
		return fmt.Errorf("no targets specified")
	}

	if explainWhy {
		for _, target := range targets {
			reasons, err := session.Explain(target)
			if err != nil {
				return fmt.Errorf("explaining %q: %w", target, err)
			}
			fmt.Printf("%s:\n", target)
			for _, reason := range reasons {
				fmt.Printf("  %s\n", reason)
			}
		}
		return nil
	}

	return session.Build(ctx, targets)
}

func applyConfigFile(params *dynamake.ParamRegistry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %q: %w", path, err)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing config %q: %w", path, err)
	}
	return params.LoadConfig(doc)
}
