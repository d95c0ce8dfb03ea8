package main

import (
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"giveawaybot/internal/app"
	"giveawaybot/internal/config"
	gw "giveawaybot/internal/giveaway"
	logx "giveawaybot/pkg/logx"
)

func activeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List running giveaways from the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(configFile).Parse()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), cfg, logx.NewConsole("warn"))
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := st.ListActive(cmd.Context())
			if err != nil {
				return err
			}
			slices.SortFunc(list, func(a, b gw.Giveaway) int { return a.ExpiresAt.Compare(b.ExpiresAt) })

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "COMMUNITY\tREFERENCE\tPRIZE\tWINNERS\tENTRIES\tENDS")
			now := time.Now()
			for _, g := range list {
				ends := g.ExpiresAt.Format(time.RFC3339)
				if !g.ExpiresAt.After(now) {
					ends += " (overdue)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					g.CommunityID, g.Reference, g.Prize, g.WinnerCount, len(g.Entries), ends)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d active\n", len(list))
			return nil
		},
	}
}
