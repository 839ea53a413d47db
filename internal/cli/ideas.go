package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mt5-trader/internal/models"
	"mt5-trader/internal/store"
)

func newIdeasCmd(app *App) *cobra.Command {
	var (
		symbol    string
		status    string
		limit     int
		showStats bool
	)

	cmd := &cobra.Command{
		Use:   "ideas",
		Short: "List trade ideas",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initPipeline(); err != nil {
				return err
			}
			ctx := cmd.Context()

			if showStats {
				stats, err := app.Store.GetTradeIdeaStats(ctx)
				if err != nil {
					return err
				}
				if output.IsJSON() {
					return output.JSON(stats)
				}
				output.Bold("Trade Idea Statistics")
				for _, s := range []models.IdeaStatus{models.IdeaPending, models.IdeaExecuted, models.IdeaRejected, models.IdeaExpired, models.IdeaFailed} {
					output.Printf("  %-10s %d\n", s, stats[s])
				}
				return nil
			}

			ideas, err := app.Store.GetTradeIdeas(ctx, store.IdeaFilter{
				Symbol: symbol,
				Status: models.IdeaStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(ideas)
			}
			if len(ideas) == 0 {
				output.Dim("No trade ideas found")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"ID", "Symbol", "Dir", "Entry", "Stop", "Target", "R/R", "Vol", "Status", "Created"})
			for _, idea := range ideas {
				volume := "-"
				if idea.Volume != nil {
					volume = fmt.Sprintf("%.2f", *idea.Volume)
				}
				t.AppendRow(table.Row{
					idea.ID,
					idea.Symbol,
					idea.Direction,
					fmt.Sprintf("%.5f", idea.EntryPrice),
					fmt.Sprintf("%.5f", idea.StopLoss),
					fmt.Sprintf("%.5f", idea.TakeProfit),
					fmt.Sprintf("%.2f", idea.RiskReward),
					volume,
					colorStatus(output, idea.Status),
					idea.CreatedAt.Format("2006-01-02 15:04"),
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "filter by symbol")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (PENDING/EXECUTED/REJECTED/EXPIRED/FAILED)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of ideas")
	cmd.Flags().BoolVar(&showStats, "stats", false, "show counts per status")
	return cmd
}

func colorStatus(output *Output, status models.IdeaStatus) string {
	switch status {
	case models.IdeaExecuted:
		return output.Green(string(status))
	case models.IdeaRejected, models.IdeaFailed:
		return output.Red(string(status))
	case models.IdeaPending:
		return output.Yellow(string(status))
	default:
		return string(status)
	}
}

func newExpireCmd(app *App) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire stale pending trade ideas",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initPipeline(); err != nil {
				return err
			}

			count, err := app.Orders.ExpireOldTradeIdeas(cmd.Context(), maxAge)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]int{"expired": count})
			}
			if count == 0 {
				output.Dim("No stale trade ideas")
			} else {
				output.Success("Expired %d trade idea(s)", count)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 5*time.Minute, "age past which pending ideas without a validity window expire")
	return cmd
}
