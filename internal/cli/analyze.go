package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mt5-trader/internal/analysis"
	"mt5-trader/internal/config"
)

// newAnalyzer selects the analysis engine. The technical analyzer is
// the default; the LLM engine needs an API key.
func newAnalyzer(cfg config.AnalysisConfig) analysis.Analyzer {
	if cfg.Engine == "llm" {
		return analysis.NewLLMAnalyzer(cfg.OpenAIAPIKey, cfg.Model)
	}
	return analysis.NewTechnicalAnalyzer()
}

func newAnalyzeCmd(app *App) *cobra.Command {
	var (
		timeframe string
		force     bool
		autoTrade bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [symbol]",
		Short: "Run market analysis",
		Long: `Analyze one symbol or all configured symbols across the configured
timeframes. Each analysis that recommends entering produces a pending
trade idea; with --auto-trade the idea is executed immediately after
the daily risk check.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.initPipeline(); err != nil {
				return err
			}

			symbol := ""
			if len(args) > 0 {
				symbol = args[0]
			}

			ctx := cmd.Context()
			if force && symbol != "" && timeframe != "" {
				result, err := app.Coordinator.AnalyzeMarket(ctx, symbol, timeframe, true)
				if err != nil {
					return err
				}
				processing := app.Coordinator.ProcessAnalysisResult(ctx, result, autoTrade)
				if output.IsJSON() {
					return output.JSON(map[string]interface{}{"analysis": result, "processing": processing})
				}
				printAnalysis(output, symbol, timeframe, result.Action, result.Confidence, processing.Action, processing.Message)
				return nil
			}

			runs, err := app.Coordinator.RunMarketAnalysis(ctx, symbol, timeframe, autoTrade)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Dim("No analyses ran (all combinations within the analysis interval)")
				return nil
			}
			for _, run := range runs {
				printAnalysis(output, run.Symbol, run.Timeframe, run.Analysis.Action, run.Analysis.Confidence, run.Processing.Action, run.Processing.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&timeframe, "timeframe", "t", "", "timeframe to analyze (e.g. H1)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "ignore the analysis interval")
	cmd.Flags().BoolVar(&autoTrade, "auto-trade", false, "execute resulting trade ideas")
	return cmd
}

func printAnalysis(output *Output, symbol, timeframe, action string, confidence float64, dispatch, message string) {
	line := fmt.Sprintf("%-8s %-4s %-6s %3.0f%%  %s", symbol, timeframe, action, confidence, dispatch)
	switch action {
	case "ENTER":
		output.Success("%s", line)
	case "EXIT":
		output.Warning("%s", line)
	default:
		output.Dim("%s", line)
	}
	if message != "" {
		output.Dim("         %s", message)
	}
}
