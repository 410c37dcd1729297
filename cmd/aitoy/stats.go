package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/byheaven/aitoy/pkg/budget"
	"github.com/byheaven/aitoy/pkg/tracker"
)

func newStatsCmd(flags *rootFlags) *cobra.Command {
	var (
		clientID string
		days     int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token ledger totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := cmd.Context()

			if days > 0 {
				rows, err := tr.Daily(ctx, clientID, days)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Println("No usage data found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DAY\tREQUESTS\tIMAGES\tTOKENS")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", r.Day, r.RequestCount, r.Images, r.Tokens)
				}
				return w.Flush()
			}

			summaries, err := tr.Summary(ctx, clientID)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CLIENT\tMODE\tREQUESTS\tREQUESTED\tIMAGES\tTOKENS")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
					s.ClientID, s.Mode, s.RequestCount, s.Requested, s.Images, s.Tokens)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&clientID, "client", "", "filter by client identifier")
	cmd.Flags().IntVar(&days, "daily", 0, "show per-day totals for the last N days")
	return cmd
}

func newBudgetCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect token budgets",
	}

	var clientID string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Budget.Enabled {
				fmt.Println("Budget enforcement is disabled.")
				return nil
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			enforcer := budget.New(cfg.Budget.Policies, tr)

			id := clientID
			if id == "" {
				id = "*"
			}
			statuses, err := enforcer.Status(cmd.Context(), id)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No budget policies found for this client.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CLIENT\tMODE\tPERIOD\tMAX TOKENS\tUSED\tREMAINING")
			for _, s := range statuses {
				mode := string(s.Policy.Mode)
				if mode == "" {
					mode = "all"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
					s.Policy.ClientID, mode, s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&clientID, "client", "", "client identifier (default all-clients policies)")

	cmd.AddCommand(statusCmd)
	return cmd
}
