package cli

import (
	"github.com/spf13/cobra"

	"github.com/linksentry/linksentry/internal/client"
)

func newFavouritesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favourites",
		Aliases: []string{"fav"},
		Short:   "Manage favourited candidates",
	}

	cmd.AddCommand(newFavouritesListCmd())
	cmd.AddCommand(newFavouritesAddCmd())
	cmd.AddCommand(newFavouritesRemoveCmd())
	return cmd
}

func newFavouritesListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List favourites with their current verdicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			list, err := c.Favourites(cmd.Context())
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
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print favourites as JSON")
	return cmd
}

func newFavouritesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add CANDIDATE",
		Short: "Mark a scanned candidate as a favourite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			return c.AddFavourite(cmd.Context(), args[0])
		},
	}
	return cmd
}

func newFavouritesRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove CANDIDATE",
		Short: "Unmark a favourite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			return c.RemoveFavourite(cmd.Context(), args[0])
		},
	}
	return cmd
}
