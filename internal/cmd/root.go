package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stepforge/engine/internal/config"
)

// NewRootCommand builds the engine's cobra command tree.
func NewRootCommand(s *State) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "stepforge",
		Short:         "Browser test engine: define, run, and debug declarative browser tests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(s.FS, configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			// Flags parsed onto s.Config outrank the file and env layers.
			if cmd.Flags().Changed("store") {
				cfg.StoreRoot = s.Config.StoreRoot
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = s.Config.ListenAddr
			}
			s.Config = cfg
			if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
				s.Logger.SetLevel(lvl)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&s.Config.StoreRoot, "store", s.Config.StoreRoot, "test/result store root directory")
	root.PersistentFlags().StringVar(&s.Config.ListenAddr, "listen", s.Config.ListenAddr, "control-surface listen address")

	root.AddCommand(newRunCommand(s))
	root.AddCommand(newServeCommand(s))
	root.AddCommand(newListCommand(s))

	return root
}
