package cli

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mt5-trader/internal/orders"
)

func newExecuteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "execute <idea-id>",
		Short: "Execute a pending trade idea",
		Long: `Re-validate a pending trade idea against the risk rules and send the
order to the venue. The idea ends up EXECUTED with the position ticket,
or REJECTED/FAILED with the reason.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ideaID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid idea id: %s", args[0])
			}
			if err := app.initPipeline(); err != nil {
				return err
			}

			trade, err := app.Coordinator.ExecuteTradeIdea(cmd.Context(), ideaID)
			if err != nil {
				output.Error("Execution failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(trade)
			}
			output.Success("Trade idea %d executed", ideaID)
			output.Printf("  Ticket:  %d\n", trade.Ticket)
			output.Printf("  Symbol:  %s %s %.2f lots\n", trade.Symbol, trade.Direction, trade.Volume)
			output.Printf("  Entry:   %.5f (stop %.5f, target %.5f)\n", trade.EntryPrice, trade.StopLoss, trade.TakeProfit)
			return nil
		},
	}
}

func newCloseCmd(app *App) *cobra.Command {
	var (
		reason string
		noWait bool
	)

	cmd := &cobra.Command{
		Use:   "close <ticket>",
		Short: "Close an open position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ticket, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid ticket: %s", args[0])
			}
			if err := app.initPipeline(); err != nil {
				return err
			}

			resp, err := app.Orders.ClosePosition(cmd.Context(), ticket, reason, orders.SendOptions{NoWait: noWait})
			if err != nil {
				output.Error("Close failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(resp)
			}
			if noWait {
				output.Info("Close for position %d submitted", ticket)
				return nil
			}
			if resp.ProfitLoss >= 0 {
				output.Success("Position %d closed at %.5f, profit %.2f", ticket, resp.ClosePrice, resp.ProfitLoss)
			} else {
				output.Warning("Position %d closed at %.5f, loss %.2f", ticket, resp.ClosePrice, resp.ProfitLoss)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "close reason recorded in the order comment")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "submit the close without waiting for confirmation")
	return cmd
}

func newModifyCmd(app *App) *cobra.Command {
	var (
		stopLoss   float64
		takeProfit float64
	)

	cmd := &cobra.Command{
		Use:   "modify <ticket>",
		Short: "Modify stop loss or take profit of an open position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ticket, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid ticket: %s", args[0])
			}
			if err := app.initPipeline(); err != nil {
				return err
			}

			var sl, tp *float64
			if cmd.Flags().Changed("stop-loss") {
				sl = &stopLoss
			}
			if cmd.Flags().Changed("take-profit") {
				tp = &takeProfit
			}

			resp, err := app.Orders.ModifyPosition(cmd.Context(), ticket, sl, tp, orders.SendOptions{})
			if err != nil {
				output.Error("Modify failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(resp)
			}
			output.Success("Position %d modified (stop %.5f, target %.5f)", ticket, resp.StopLoss, resp.TakeProfit)
			return nil
		},
	}

	cmd.Flags().Float64Var(&stopLoss, "stop-loss", 0, "new stop loss price")
	cmd.Flags().Float64Var(&takeProfit, "take-profit", 0, "new take profit price")
	return cmd
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initPipeline(); err != nil {
				return err
			}

			positions, err := app.Connector.Positions(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Dim("No open positions")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Ticket", "Symbol", "Dir", "Volume", "Open", "Stop", "Target", "Profit"})
			for _, pos := range positions {
				profit := fmt.Sprintf("%.2f", pos.Profit)
				if pos.Profit >= 0 {
					profit = output.Green(profit)
				} else {
					profit = output.Red(profit)
				}
				t.AppendRow(table.Row{
					pos.Ticket,
					pos.Symbol,
					pos.Direction,
					fmt.Sprintf("%.2f", pos.Volume),
					fmt.Sprintf("%.5f", pos.OpenPrice),
					fmt.Sprintf("%.5f", pos.StopLoss),
					fmt.Sprintf("%.5f", pos.TakeProfit),
					profit,
				})
			}
			t.Render()
			return nil
		},
	}
}

func newAccountCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show account information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initPipeline(); err != nil {
				return err
			}

			info, err := app.Connector.AccountInfo(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(info)
			}
			output.Bold("Account")
			output.Printf("  Login:    %d\n", info.Login)
			output.Printf("  Balance:  %.2f %s\n", info.Balance, info.Currency)
			output.Printf("  Equity:   %.2f %s\n", info.Equity, info.Currency)
			output.Printf("  Margin:   %.2f %s\n", info.Margin, info.Currency)
			return nil
		},
	}
}

func newRiskCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "Show today's risk usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initPipeline(); err != nil {
				return err
			}

			report := app.Risk.CheckDailyRiskLimit(cmd.Context(), app.Config.Risk.DailyRiskLimitPct)
			if output.IsJSON() {
				return output.JSON(report)
			}
			output.Bold("Daily Risk")
			output.Printf("  Used:      %.2f%% of %.2f%%\n", report.CurrentRisk, report.RiskLimit)
			output.Printf("  Remaining: %.2f%%\n", report.RemainingRisk)
			output.Printf("  At risk:   %.2f (balance %.2f)\n", report.TotalRiskAmount, report.AccountBalance)
			if report.LimitExceeded {
				output.Error("Daily risk limit exceeded: %s", report.Reason)
			} else {
				output.Success("Within daily risk limit")
			}
			return nil
		},
	}
}
