package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mt5-trader/internal/monitoring"
)

func newMonitorCmd(app *App) *cobra.Command {
	var autoTrade bool

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the background monitoring loop",
		Long: `Start continuous market monitoring: every analysis interval the
configured symbols and timeframes are analyzed, open positions are
reviewed, and stale trade ideas are expired. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initPipeline(); err != nil {
				return err
			}

			if app.Config.Metrics.Enabled {
				go func() {
					if err := monitoring.Serve(app.Config.Metrics.Addr); err != nil {
						app.Logger.Error().Err(err).Msg("Metrics server stopped")
					}
				}()
				output.Dim("Metrics exposed on %s/metrics", app.Config.Metrics.Addr)
			}

			if err := app.Coordinator.StartMonitoring(autoTrade); err != nil {
				return err
			}
			output.Info("Monitoring started (auto-trade: %v). Press Ctrl+C to stop.", autoTrade)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			<-sigCh

			output.Println()
			output.Info("Stopping...")
			if err := app.Coordinator.StopMonitoring(); err != nil {
				output.Warning("Monitoring did not stop cleanly: %v", err)
				return err
			}
			output.Success("Monitoring stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoTrade, "auto-trade", false, "execute trade ideas automatically")
	return cmd
}
