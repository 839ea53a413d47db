package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mt5-trader/internal/config"
	"mt5-trader/internal/coordinator"
	"mt5-trader/internal/models"
	"mt5-trader/internal/orders"
	"mt5-trader/internal/risk"
	"mt5-trader/internal/store"
	"mt5-trader/internal/venue"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-06-01"
)

// App holds the application dependencies.
type App struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Store       store.Store
	Connector   venue.Connector
	Risk        *risk.Manager
	Orders      *orders.Processor
	Coordinator *coordinator.Coordinator
}

// initPipeline wires the store, venue connector, risk manager, order
// processor, and coordinator. Deferred until a command needs them so
// version/config work without a venue or database.
func (a *App) initPipeline() error {
	if a.Coordinator != nil {
		return nil
	}

	if a.Store == nil {
		st, err := store.NewSQLiteStore(a.Config.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		a.Store = st
		a.Logger.Debug().Str("path", a.Config.Store.Path).Msg("SQLite store initialized")
	}

	if a.Connector == nil {
		if a.Config.IsPaperMode() {
			symbols := make([]models.SymbolInfo, 0, len(a.Config.Trading.Symbols))
			for _, s := range a.Config.Trading.Symbols {
				symbols = append(symbols, models.DefaultSymbolInfo(s))
			}
			a.Connector = venue.NewPaper(venue.PaperConfig{Symbols: symbols})
			a.Logger.Debug().Msg("Paper venue initialized")
		} else {
			bridge, err := venue.NewBridge(venue.BridgeConfig{
				Endpoint:       a.Config.Venue.Endpoint,
				RequestTimeout: a.Config.OrderTimeoutDuration(),
			}, a.Logger)
			if err != nil {
				return err
			}
			a.Connector = bridge
			a.Logger.Debug().Str("endpoint", a.Config.Venue.Endpoint).Msg("Venue bridge connected")
		}
	}

	a.Risk = risk.NewManager(a.Connector, a.Store, risk.Config{
		MaxRiskPerTradePct: a.Config.Risk.MaxRiskPerTradePct,
		MinRiskReward:      a.Config.Risk.MinRiskReward,
	}, a.Logger)

	a.Orders = orders.NewProcessor(a.Connector, a.Store, a.Risk, orders.Config{
		MagicNumber:  a.Config.Trading.MagicNumber,
		OrderTimeout: a.Config.OrderTimeoutDuration(),
	}, a.Logger)

	a.Coordinator = coordinator.New(a.Connector, a.Store, newAnalyzer(a.Config.Analysis), a.Risk, a.Orders, coordinator.Config{
		Symbols:           a.Config.Trading.Symbols,
		Timeframes:        a.Config.Trading.Timeframes,
		AnalysisInterval:  a.Config.AnalysisIntervalDuration(),
		DailyRiskLimitPct: a.Config.Risk.DailyRiskLimitPct,
		AutoTrade:         a.Config.Trading.AutoTrade,
		IdeaMaxAge:        a.Config.AnalysisIntervalDuration(),
	}, a.Logger)

	return nil
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "mt5-trader",
		Short: "MT5 Trader - automated trading pipeline for MetaTrader 5",
		Long: `MT5 Trader runs an automated trading pipeline against a MetaTrader 5
terminal: it analyzes configured markets, validates trade ideas against
risk rules, and executes confirmed orders.

Use 'mt5-trader help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/mt5-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newAnalyzeCmd(app))
	rootCmd.AddCommand(newMonitorCmd(app))
	rootCmd.AddCommand(newIdeasCmd(app))
	rootCmd.AddCommand(newExecuteCmd(app))
	rootCmd.AddCommand(newExpireCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newCloseCmd(app))
	rootCmd.AddCommand(newModifyCmd(app))
	rootCmd.AddCommand(newAccountCmd(app))
	rootCmd.AddCommand(newRiskCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("MT5 Trader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading Configuration")
	output.Printf("  Symbols:          %v\n", cfg.Trading.Symbols)
	output.Printf("  Timeframes:       %v\n", cfg.Trading.Timeframes)
	output.Printf("  Analysis Every:   %s\n", cfg.AnalysisIntervalDuration())
	output.Printf("  Auto Trade:       %v\n", cfg.Trading.AutoTrade)
	output.Printf("  Magic Number:     %d\n", cfg.Trading.MagicNumber)
	output.Println()

	output.Bold("Risk Configuration")
	output.Printf("  Max Risk/Trade:   %.1f%%\n", cfg.Risk.MaxRiskPerTradePct)
	output.Printf("  Daily Risk Limit: %.1f%%\n", cfg.Risk.DailyRiskLimitPct)
	output.Printf("  Min Risk/Reward:  %.1f\n", cfg.Risk.MinRiskReward)
	output.Println()

	output.Bold("Venue Configuration")
	output.Printf("  Mode:             %s\n", cfg.Venue.Mode)
	output.Printf("  Endpoint:         %s\n", cfg.Venue.Endpoint)
	output.Println()

	output.Bold("Metrics")
	output.Printf("  Enabled:          %v\n", cfg.Metrics.Enabled)
	output.Printf("  Address:          %s\n", cfg.Metrics.Addr)
}
