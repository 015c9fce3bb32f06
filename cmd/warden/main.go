package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"warden/internal/app"
	"warden/internal/config"
)

var (
	version  = "0.1.0"
	cfgFile  string
	logLevel string
	verbose  bool
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.msg != "" {
				fmt.Fprintln(os.Stderr, exitErr.msg)
			}
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "warden",
		Short: "Guarded shell execution with background sessions",
		Long: `Warden runs shell commands through a self-protection guard and an
environment sanitizer, with timeouts, output limits, optional PTY and
background sessions that can be polled, fed input and signalled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/warden/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(
		newExecCmd(),
		newGuardCmd(),
		newEnvCheckCmd(),
		newToolsCmd(),
		newConfigCmd(),
		newAuditCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "warden version %s\n", version)
			},
		},
	)
	return rootCmd
}

// loadConfig reads --config or the default config file and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		if _, statErr := os.Stat(cfgFile); statErr != nil {
			return nil, fmt.Errorf("config file %s: %w", cfgFile, statErr)
		}
		cfg, err = config.LoadFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	cfg.Version = version
	return cfg, nil
}

// buildApp assembles the app for a one-shot command.
func buildApp(cfg *config.Config, workDir string) (*app.App, error) {
	b := app.NewBuilder(cfg, workDir).
		WithSignalHandling(true).
		// A one-shot command never outlives a config edit.
		WithConfigWatch(false)
	if verbose {
		b.WithLogOutput(os.Stderr)
	}
	a, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return a, nil
}
