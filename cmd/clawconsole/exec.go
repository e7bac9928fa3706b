package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"clawconsole/internal/config"
	"clawconsole/internal/domain"
	"clawconsole/internal/store"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// Exit statuses for results that carry no exit code of their own.
const (
	exitBlocked = 126
	exitTimeout = 124
	exitKilled  = 137
)

type requestFlags struct {
	cwd       string
	timeoutMs int
	env       []string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.cwd, "cwd", "", "working directory (must be inside an allowed directory)")
	cmd.Flags().IntVar(&f.timeoutMs, "timeout", 0, "timeout in milliseconds (default: shell.timeout)")
	cmd.Flags().StringArrayVarP(&f.env, "env", "e", nil, "extra environment variable KEY=VALUE (repeatable)")
}

func (f *requestFlags) request(args []string) (domain.CommandRequest, error) {
	req := domain.CommandRequest{
		Command:   args[0],
		Args:      args[1:],
		Cwd:       config.ExpandPath(f.cwd),
		TimeoutMs: f.timeoutMs,
	}
	for _, kv := range f.env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return req, fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
		}
		if req.Env == nil {
			req.Env = make(map[string]string)
		}
		req.Env[k] = v
	}
	return req, nil
}

func execCmd() *cobra.Command {
	var rf requestFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "exec -- COMMAND [ARGS...]",
		Short: "Run one command under the shell policy",
		Long: `Runs a single command through the same policy, sanitization, limits
and audit trail as the web console. The process exit status mirrors the
command's; blocked commands exit 126, timeouts 124 and killed commands 137.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := rf.request(args)
			if err != nil {
				return err
			}
			cfg, logCloser, err := loadConfig()
			if err != nil {
				return err
			}
			defer logCloser.Close()

			c, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			c.startNotifiers(ctx)

			res := c.engine.Execute(ctx, req)

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				enc.Encode(res)
			} else {
				fmt.Fprint(os.Stdout, res.Stdout)
				fmt.Fprint(os.Stderr, res.Stderr)
				fmt.Fprintf(os.Stderr, "\n[%s] %s in %s, output %s%s\n",
					res.Status,
					commandLine(res.Command, res.Args),
					time.Duration(res.DurationMs)*time.Millisecond,
					humanize.Bytes(uint64(len(res.Stdout)+len(res.Stderr))),
					truncatedSuffix(res.Truncated),
				)
			}

			if code := resultExitCode(res); code != 0 {
				cmd.SilenceErrors = true
				cmd.SilenceUsage = true
				return &exitError{code: code}
			}
			return nil
		},
	}

	rf.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func resultExitCode(res domain.CommandResult) int {
	switch {
	case res.ExitCode != nil:
		return *res.ExitCode
	case res.Status == domain.StatusTimeout:
		return exitTimeout
	case res.Status == domain.StatusKilled:
		return exitKilled
	case res.Status == domain.StatusCompleted:
		return 0
	default:
		return exitBlocked
	}
}

func truncatedSuffix(truncated bool) string {
	if truncated {
		return " (truncated)"
	}
	return ""
}

func commandLine(command string, args []string) string {
	return strings.TrimSpace(command + " " + strings.Join(args, " "))
}

func validateCmd() *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:   "validate -- COMMAND [ARGS...]",
		Short: "Check a command against the shell policy without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := rf.request(args)
			if err != nil {
				return err
			}
			cfg, logCloser, err := loadConfig()
			if err != nil {
				return err
			}
			defer logCloser.Close()

			c, err := buildEngine(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			v := c.engine.ValidateCommand(req)
			data, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(data))
			if !v.Valid {
				cmd.SilenceErrors = true
				cmd.SilenceUsage = true
				return &exitError{code: 1}
			}
			return nil
		},
	}

	rf.register(cmd)
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the persisted shell audit log",
	}

	var outcome string
	var page, limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			p, err := st.ListAudit(cmd.Context(), domain.AuditOutcome(outcome), page, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tOUTCOME\tCOMMAND\tREASON")
			for _, e := range p.Items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", humanize.Time(e.Timestamp), e.Outcome, commandLine(e.Command, e.Args), e.Reason)
			}
			tw.Flush()
			fmt.Printf("\npage %d/%d, %s entries\n", p.Page, p.TotalPages, humanize.Comma(int64(p.Total)))
			return nil
		},
	}
	list.Flags().StringVar(&outcome, "outcome", "", "filter by outcome: allowed, blocked, failed")
	list.Flags().IntVar(&page, "page", 1, "page number (1-based)")
	list.Flags().IntVar(&limit, "limit", 20, "entries per page")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete persisted history and audit entries older than a duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			st, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := st.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %s records older than %s\n", humanize.Comma(n), olderThan)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "age threshold (e.g. 720h)")

	cmd.AddCommand(list, prune)
	return cmd
}

// openStore opens the audit database named by the config.
func openStore() (*store.SQLiteStore, func(), error) {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(cfg.Audit.DBPath); err != nil {
		logCloser.Close()
		return nil, nil, fmt.Errorf("audit database %s: %w (is audit.persist enabled?)", cfg.Audit.DBPath, err)
	}
	st, err := store.NewSQLiteStore(cfg.Audit.DBPath, logger)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}
	return st, func() {
		st.Close()
		logCloser.Close()
	}, nil
}

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Export or import the shell policy as YAML",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "export [file]",
		Short: "Write the configured shell policy to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SavePolicyFile(args[0], cfg.Shell.ShellConfig); err != nil {
				return err
			}
			logger.Info("policy exported", "file", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Replace the configured shell policy with a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			policy, err := config.LoadPolicyFile(args[0])
			if err != nil {
				return err
			}
			cfg.Shell.ShellConfig = policy
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("policy imported",
				"file", args[0],
				"allowed_commands", len(policy.AllowedCommands),
				"blocked_patterns", len(policy.BlockedPatterns),
			)
			return nil
		},
	})

	return cmd
}
