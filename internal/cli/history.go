package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/linksentry/linksentry/internal/client"
	"github.com/linksentry/linksentry/pkg/types"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage the scan history",
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryDeleteCmd())
	cmd.AddCommand(newHistoryClearCmd())
	cmd.AddCommand(newHistoryReconcileCmd())
	return cmd
}

func newHistoryListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded verdicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			list, err := c.History(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, list)
			}
			printVerdictTable(cmd, list)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print verdicts as JSON")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show CANDIDATE",
		Short: "Show the stored verdict for a candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			v, err := c.GetVerdict(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	return cmd
}

func newHistoryDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete CANDIDATE",
		Short: "Delete one candidate's verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			return c.DeleteVerdict(cmd.Context(), args[0])
		},
	}
	return cmd
}

func newHistoryClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			return c.ClearHistory(cmd.Context())
		},
	}
	return cmd
}

func newHistoryReconcileCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Re-verify every stored verdict against the live sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			res, err := c.Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, res)
			}
			if res.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d entries: verdicts changed\n", len(res.Verdicts))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d entries: no drift\n", len(res.Verdicts))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the reconciled list as JSON")
	return cmd
}

func printVerdictTable(cmd *cobra.Command, list []types.Verdict) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CANDIDATE\tVERDICT\tSTATUS\tSOURCE\tCHECKED")
	for _, v := range list {
		verdict := "unsafe"
		if v.IsSafe {
			verdict = "safe"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			v.Candidate, verdict, v.SafetyStatus, v.Source, v.LastCheckedAt.Format("2006-01-02 15:04:05"))
	}
	_ = w.Flush()
}
