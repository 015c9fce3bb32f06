package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"warden/internal/audit"
	"warden/internal/config"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect recorded tool calls",
	}
	cmd.AddCommand(newAuditRunsCmd(), newAuditShowCmd())
	return cmd
}

// openAudit opens the run file runID in the configured audit directory.
func openAudit(runID string) (*audit.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dir := cfg.AuditDir()
	if dir == "" {
		return nil, fmt.Errorf("could not determine audit directory")
	}
	return audit.NewLogger(dir, runID, auditConfig(cfg), nil)
}

func auditConfig(cfg *config.Config) audit.Config {
	return audit.Config{
		Enabled:       true,
		MaxEntries:    cfg.Audit.MaxEntries,
		MaxResultLen:  cfg.Audit.MaxResultLen,
		RetentionDays: cfg.Audit.RetentionDays,
	}
}

func newAuditRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openAudit("")
			if err != nil {
				return err
			}
			runs, err := l.Runs()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%d\n", r.ID, r.ModTime.Format(time.RFC3339), r.Size)
			}
			return w.Flush()
		},
	}
}

func newAuditShowCmd() *cobra.Command {
	var (
		limit    int
		toolName string
		session  string
		failed   bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the entries of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openAudit(args[0])
			if err != nil {
				return err
			}
			if l.Len() == 0 {
				return fmt.Errorf("no entries for run %s", args[0])
			}

			filter := audit.QueryFilter{ToolName: toolName, SessionID: session, Limit: limit}
			if failed {
				ok := false
				filter.Success = &ok
			}
			entries := l.Query(filter)
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range entries {
				name := e.ToolName
				if e.Action != "" {
					name += "." + e.Action
				}
				status := "ok"
				if !e.Success {
					status = "error: " + e.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Format(time.RFC3339), name, e.SessionID, e.Duration, status)
			}
			stats := l.Stats()
			fmt.Fprintf(w, "\n%d calls, %d failed, avg %s\n", stats.TotalEntries, stats.ErrorCount, stats.AvgDuration)
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n entries")
	cmd.Flags().StringVar(&toolName, "tool", "", "only entries for this tool")
	cmd.Flags().StringVar(&session, "session", "", "only entries for this session id")
	cmd.Flags().BoolVar(&failed, "failed", false, "only failed calls")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}
