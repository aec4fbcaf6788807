package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/costledger/internal/config"
	"github.com/janekbaraniewski/costledger/internal/core"
	"github.com/janekbaraniewski/costledger/internal/daemon"
	"github.com/janekbaraniewski/costledger/internal/ingest"
	"github.com/janekbaraniewski/costledger/internal/logging"
	"github.com/janekbaraniewski/costledger/internal/version"
)

type globalFlags struct {
	configPath  string
	sessionsDir string
	tariffPath  string
	dbPath      string
	verbose     bool
}

func newRootCommand() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "costledger",
		Short:         "costledger turns agent session logs into a priced, deduplicated usage ledger.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml (default ~/.config/costledger/config.yaml)")
	root.PersistentFlags().StringVar(&flags.sessionsDir, "sessions-dir", "", "session log directory")
	root.PersistentFlags().StringVar(&flags.tariffPath, "tariff", "", "path to the cost-rates document")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "path to the ledger database")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "enable debug logs")

	root.AddCommand(
		newRunCommand(&flags),
		newIngestCommand(&flags),
		newRollupCommand(&flags),
		newStatusCommand(&flags),
		newVersionCommand(),
	)
	return root
}

func loadConfig(flags *globalFlags) (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if strings.TrimSpace(flags.configPath) != "" {
		cfg, err = config.LoadFrom(flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}
	cfg.Apply(config.Overrides{
		SessionsDir: flags.sessionsDir,
		TariffPath:  flags.tariffPath,
		DBPath:      flags.dbPath,
		Verbose:     flags.verbose,
	})
	return cfg, nil
}

// openService loads config, builds the logger and opens the service.
func openService(ctx context.Context, flags *globalFlags, logOut io.Writer) (*daemon.Service, config.Config, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, config.Config{}, err
	}
	logger := logging.NewWithWriter(logOut, cfg.Log)
	slog.SetDefault(logger)

	svc, err := daemon.Open(ctx, cfg, logger)
	if err != nil {
		return nil, config.Config{}, err
	}
	return svc, cfg, nil
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the sessions directory and keep the ledger and daily summaries current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			svc, _, err := openService(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer svc.Close()

			return svc.Run(ctx)
		},
	}
}

func newIngestCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "Process session files once (default: the sessions directory)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, _, err := openService(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := svc.Ingest(ctx, args)
			printIngestResult(cmd.OutOrStdout(), res)
			return err
		},
	}
}

func printIngestResult(w io.Writer, r ingest.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "files\t%d\n", r.Files)
	fmt.Fprintf(tw, "lines\t%d\n", r.Lines)
	fmt.Fprintf(tw, "malformed\t%d\n", r.Malformed)
	fmt.Fprintf(tw, "candidates\t%d\n", r.Candidates)
	fmt.Fprintf(tw, "ingested\t%d\n", r.Ingested)
	fmt.Fprintf(tw, "deduped\t%d\n", r.Deduped)
	fmt.Fprintf(tw, "unpriced\t%d\n", r.Unpriced)
	fmt.Fprintf(tw, "failed\t%d\n", r.Failed)
	tw.Flush()
}

func newRollupCommand(flags *globalFlags) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Recompute the daily summary for a date (default today)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if date != "" {
				if _, err := time.Parse(core.DateLayout, date); err != nil {
					return fmt.Errorf("invalid --date %q, want YYYY-MM-DD", date)
				}
			}
			ctx := cmd.Context()
			svc, _, err := openService(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer svc.Close()

			sum, err := svc.Rollup(ctx, date)
			if err != nil {
				return err
			}
			printSummaries(cmd.OutOrStdout(), []core.DailySummary{sum})
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date to recompute (YYYY-MM-DD)")
	return cmd
}

func newStatusCommand(flags *globalFlags) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ledger statistics and recent daily summaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, cfg, err := openService(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer svc.Close()

			st, err := svc.Status(ctx, days)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "ledger\t%s\n", cfg.DBPath)
			fmt.Fprintf(tw, "sessions dir\t%s\n", cfg.SessionsDir)
			fmt.Fprintf(tw, "events\t%d\n", st.Stats.Events)
			fmt.Fprintf(tw, "sessions\t%d\n", st.Stats.Sessions)
			fmt.Fprintf(tw, "models\t%d\n", st.Stats.Models)
			fmt.Fprintf(tw, "total cost\t$%.6f\n", st.Stats.TotalCostUSD)
			if !st.Stats.FirstEventAt.IsZero() {
				fmt.Fprintf(tw, "first event\t%s\n", st.Stats.FirstEventAt.Format(time.RFC3339))
				fmt.Fprintf(tw, "last event\t%s\n", st.Stats.LastEventAt.Format(time.RFC3339))
			}
			tw.Flush()

			if len(st.Recent) > 0 {
				fmt.Fprintln(out)
				printSummaries(out, st.Recent)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "number of recent daily summaries to show")
	return cmd
}

func printSummaries(w io.Writer, sums []core.DailySummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tCOST (USD)\tTOKENS\tTASKS\tMODELS")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%.6f\t%d\t%d\t%s\n", s.Date, s.TotalCost, s.TotalTokens, s.TasksCount, strings.Join(s.Models, ", "))
	}
	tw.Flush()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "costledger "+version.String())
		},
	}
}
