package main

import (
	"fmt"

	"github.com/example/go-kernelopt/internal/config"
	"github.com/example/go-kernelopt/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg config.Config
)

// NewRootCmd builds the koptc command tree: a CLI harness around the
// kernel optimizer for inspecting what the hand-coded heuristic does to a
// given sample kernel.
func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "koptc",
		Short: "Tensor-program kernel optimizer CLI",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			activeCfg = loaded
			logging.Setup(loaded.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newOptimizeCmd())
	cmd.AddCommand(newReplayCmd())

	return cmd
}
