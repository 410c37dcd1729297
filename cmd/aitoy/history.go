package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/byheaven/aitoy/pkg/config"
	"github.com/byheaven/aitoy/pkg/history"
	"github.com/byheaven/aitoy/pkg/models"
)

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query and manage the generation history",
	}

	cmd.AddCommand(
		newHistoryListCmd(flags),
		newHistoryExportCmd(flags),
		newHistoryImportCmd(flags),
		newHistoryClearCmd(flags),
	)
	return cmd
}

func openHistory(flags *rootFlags) (*history.Store, error) {
	cfg, err := flags.loadConfig()
	if err != nil {
		return nil, err
	}
	return openHistoryStore(cfg)
}

func openHistoryStore(cfg *config.Config) (*history.Store, error) {
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("generation history is disabled in config")
	}
	return history.New(cfg.History)
}

type historyFilter struct {
	clientID    string
	mode        string
	since       string
	successOnly bool
	limit       int
}

func (f *historyFilter) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringVar(&f.clientID, "client", "", "filter by client identifier")
	cmd.Flags().StringVar(&f.mode, "mode", "", "filter by mode")
	cmd.Flags().StringVar(&f.since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&f.successOnly, "success-only", false, "only successful generations")
	cmd.Flags().IntVar(&f.limit, "limit", defaultLimit, "max entries to return")
}

func (f *historyFilter) opts() (models.HistoryQueryOpts, error) {
	opts := models.HistoryQueryOpts{
		Mode:        models.Mode(f.mode),
		SuccessOnly: f.successOnly,
		Limit:       f.limit,
	}
	if f.clientID != "" {
		opts.ClientHash, _ = history.HashClient(f.clientID)
	}
	if f.since != "" {
		t, err := time.Parse("2006-01-02", f.since)
		if err != nil {
			return opts, fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
		}
		opts.Since = t
	}
	return opts, nil
}

func newHistoryListCmd(flags *rootFlags) *cobra.Command {
	var filter historyFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := filter.opts()
			if err != nil {
				return err
			}
			store, err := openHistory(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatHistoryEntries(entries))
			return nil
		},
	}
	filter.register(cmd, history.DefaultMaxPerClient)
	return cmd
}

func newHistoryExportCmd(flags *rootFlags) *cobra.Command {
	var (
		filter historyFilter
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export history entries as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := filter.opts()
			if err != nil {
				return err
			}
			store, err := openHistory(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			var w io.Writer = os.Stdout
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := store.Export(cmd.Context(), w, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Exported %d entries.\n", n)
			return nil
		},
	}
	filter.register(cmd, 10000)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newHistoryImportCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import history entries from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(flags)
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			n, err := store.Import(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d entries.\n", n)
			return nil
		},
	}
}

func newHistoryClearCmd(flags *rootFlags) *cobra.Command {
	var (
		clientID string
		expired  bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete history entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			store, err := openHistoryStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if expired {
				if cfg.History.RetentionDays <= 0 {
					return fmt.Errorf("history.retention_days is not set")
				}
				n, err := store.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d expired entries.\n", n)
				return nil
			}

			hash := ""
			if clientID != "" {
				hash, _ = history.HashClient(clientID)
			}
			n, err := store.Clear(cmd.Context(), hash)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d entries.\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "only delete entries for this client")
	cmd.Flags().BoolVar(&expired, "expired", false, "only delete entries past the retention period")
	return cmd
}

func formatHistoryEntries(entries []models.HistoryEntry) string {
	if len(entries) == 0 {
		return "No history entries found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-19s  %-8s  %-10s  %4s  %-6s  %6s  %s\n",
		"TIME", "CLIENT", "MODE", "SLOT", "RESULT", "TOKENS", "PROMPT")
	for _, e := range entries {
		res := "ok"
		if !e.Success {
			res = "failed"
		}
		p := e.Prompt
		if len(p) > 60 {
			p = p[:57] + "..."
		}
		fmt.Fprintf(&b, "%-19s  %-8s  %-10s  %4d  %-6s  %6d  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.ClientPrefix, e.Mode, e.Slot, res, e.TokensUsed, p)
	}
	return b.String()
}
