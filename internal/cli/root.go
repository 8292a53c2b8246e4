// Package cli implements the ehf command line
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-ehf/internal/client"
	"github.com/sirosfoundation/go-ehf/internal/config"
	"github.com/sirosfoundation/go-ehf/internal/logging"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=..."
var Version = "dev"

// app is the state shared by the subcommands of one invocation
type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

// newClient builds a client from the loaded configuration
func (a *app) newClient(cmd *cobra.Command) (*client.Client, error) {
	return client.New(cmd.Context(), a.cfg, client.WithLogger(a.logger))
}

// NewRootCommand returns the ehf command tree
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:               "ehf",
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		Short:             "EHF document sender",
		Long:              `Look up, validate and send EHF business documents to PEPPOL access points`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to the configuration file (default $EHF_CONFIG)")

	rootCmd.AddCommand(newLookupCmd(a))
	rootCmd.AddCommand(newSendCmd(a))
	rootCmd.AddCommand(newValidateCmd(a))
	rootCmd.AddCommand(newThumbprintCmd(a))
	return rootCmd
}

func (a *app) load(cmd *cobra.Command) error {
	env, err := config.LoadEnvironment()
	if err != nil {
		return err
	}
	path := a.configPath
	if path == "" {
		path = env.ConfigPath
	}

	if path == "" {
		a.cfg = config.Default()
	} else if a.cfg, err = config.Load(path); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := env.Apply(a.cfg); err != nil {
		return err
	}

	a.logger, err = logging.New(cmd.ErrOrStderr(), a.cfg.Logging.Level, a.cfg.Logging.Format)
	return err
}

// Execute runs the command line and exits non-zero on failure
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
