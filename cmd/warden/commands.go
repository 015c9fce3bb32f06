package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"warden/internal/config"
	"warden/internal/process"
	"warden/internal/security"
	"warden/internal/tools"
)

// Exit codes for failures that have no process exit status.
const (
	exitBlocked = 126
	exitTimeout = 124
	exitSignal  = 128
)

func newExecCmd() *cobra.Command {
	var (
		workDir string
		timeout time.Duration
		pty     string
		envs    []string
		input   string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "exec [flags] -- <command...>",
		Short: "Run a command through the guard and launcher",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvPairs(envs)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg, workDir)
			if err != nil {
				return err
			}
			defer a.Shutdown()

			toolArgs := map[string]any{"command": commandLine(args)}
			if timeout > 0 {
				toolArgs["timeout"] = timeout.Seconds()
			}
			if pty != "" {
				toolArgs["pty"] = pty
			}
			if len(env) > 0 {
				toolArgs["env"] = env
			}
			if cmd.Flags().Changed("input") {
				toolArgs["stdin"] = input
				toolArgs["eof"] = true
			}

			out := cmd.OutOrStdout()
			ctx := a.Context()
			if !jsonOut {
				ctx = tools.ContextWithStreamingCallback(ctx, func(text string) {
					fmt.Fprint(out, text)
				})
			}

			result := a.Execute(ctx, "exec", toolArgs)
			if jsonOut {
				if err := writeJSON(out, result.ToMap()); err != nil {
					return err
				}
			}
			if code := resultExitCode(result); code != 0 {
				msg := ""
				if !jsonOut {
					msg = result.Error
				}
				return &exitError{code: code, msg: msg}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&workDir, "workdir", "C", "", "working directory (default: exec.work_dir or cwd)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "kill the command after this long (default: exec.default_timeout)")
	cmd.Flags().StringVar(&pty, "pty", "", "pty mode: off, prefer, require")
	cmd.Flags().StringArrayVarP(&envs, "env", "e", nil, "environment override KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&input, "input", "", "text written to the command's stdin, then closed")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON instead of streaming output")
	return cmd
}

// resultExitCode maps an exec result to a process exit code.
func resultExitCode(r tools.ToolResult) int {
	if r.Success {
		return 0
	}
	data, _ := r.Data.(map[string]any)
	if data == nil {
		// Rejected before launch: guard, sanitizer or bad arguments.
		return exitBlocked
	}
	switch data["status"] {
	case "timeout":
		return exitTimeout
	case "killed":
		name, _ := data["exit_signal"].(string)
		if sig, err := process.ParseSignal(name); err == nil {
			return exitSignal + int(sig)
		}
		return exitSignal + 9
	}
	if code, ok := data["exit_code"].(int); ok && code != 0 {
		return code
	}
	return 1
}

func newGuardCmd() *cobra.Command {
	var cwd string

	cmd := &cobra.Command{
		Use:   "guard [flags] -- <command...>",
		Short: "Check a command against the self-protection policy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			policy, err := security.ResolvePolicy(security.PolicyOptions{
				Enabled:        cfg.SelfProtection.Enabled,
				InstallRoot:    cfg.SelfProtection.InstallRoot,
				ProtectedPaths: cfg.SelfProtection.ProtectedPaths,
			})
			if err != nil {
				return err
			}
			if cwd == "" {
				if cwd, err = os.Getwd(); err != nil {
					return err
				}
			}

			if err := security.AssertExecCommandAllowed(commandLine(args), cwd, policy); err != nil {
				return &exitError{code: exitBlocked, msg: err.Error()}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "allowed")
			return nil
		},
	}

	cmd.Flags().StringVarP(&cwd, "cwd", "C", "", "directory the command would run in (default: cwd)")
	return cmd
}

func newEnvCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env-check KEY=VALUE...",
		Short: "Check environment overrides against the host sanitizer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnvPairs(args)
			if err != nil {
				return err
			}
			if err := security.ValidateHostEnv(env); err != nil {
				return &exitError{code: exitBlocked, msg: err.Error()}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool declarations as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg, "")
			if err != nil {
				return err
			}
			defer a.Shutdown()
			return writeJSON(cmd.OutOrStdout(), a.Tools().Declarations())
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			path := cfgFile
			if path == "" {
				path = config.GetConfigPath()
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			cfg.Path = cfgFile
			if cfg.Path == "" {
				cfg.Path = config.GetConfigPath()
			}
			if _, err := os.Stat(cfg.Path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfg.Path)
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})
	return cmd
}

// commandLine turns CLI arguments back into shell text. A single argument is
// taken as a script; several are quoted so each stays one word.
func commandLine(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = process.ShellQuote(a)
	}
	return strings.Join(quoted, " ")
}

// parseEnvPairs turns KEY=VALUE strings into a map.
func parseEnvPairs(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid environment override %q: want KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
