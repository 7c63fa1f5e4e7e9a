// Command enginecli is a thin developer harness around the engine
// package: it runs one script file through Engine.Run and prints the
// resulting state, the same "drive the library, print what happened"
// role cli/main.go plays over the teacher's executor, scaled down to a
// script engine with no plan/vault/scrubber machinery to wire.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opal-lang/scriptengine"
)

func main() {
	var (
		debug      bool
		maxRegs    int
		stepBudget int
	)

	rootCmd := &cobra.Command{
		Use:           "enginecli <script>",
		Short:         "Run a script file through the engine and print its outcome",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], debug, maxRegs, stepBudget)
		},
	}

	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug-level logging")
	rootCmd.Flags().IntVar(&maxRegs, "max-registers", 0, "reject programs needing more than this many live registers (0 = compiler default)")
	rootCmd.Flags().IntVar(&stepBudget, "step-budget", 0, "cooperative step budget before a run is cancelled (0 = unbounded)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path string, debug bool, maxRegs, stepBudget int) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []scriptengine.Option{scriptengine.WithLogger(logger)}
	if maxRegs > 0 {
		opts = append(opts, scriptengine.WithMaxRegisters(maxRegs))
	}
	if stepBudget > 0 {
		opts = append(opts, scriptengine.WithStepBudget(stepBudget))
	}

	eng := scriptengine.New(opts...)
	if err := eng.Prepare(string(src)); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	res, err := eng.Run()
	switch {
	case err != nil:
		return fmt.Errorf("run: %w", err)
	case eng.State() == scriptengine.StateNeedsImports:
		fmt.Printf("needs-imports: %d outstanding specifier(s)\n", len(res.NeedImports))
		for _, r := range res.NeedImports {
			fmt.Printf("  - %s (importer: %s)\n", r.Specifier, r.Importer)
		}
	case eng.State() == scriptengine.StateSuspendedForOrder:
		fmt.Printf("suspended-for-order: %d pending, %d cancelled\n", len(res.Pending), len(res.Cancelled))
	default:
		fmt.Println("complete")
	}
	return nil
}
