package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/raykavin/tradedash/internal/config"
	"github.com/raykavin/tradedash/internal/metrics"
	"github.com/raykavin/tradedash/pkg/chart"
	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/dashboard"
	"github.com/raykavin/tradedash/pkg/export"
	"github.com/raykavin/tradedash/pkg/logger"
	"github.com/raykavin/tradedash/pkg/logger/zerolog"
	"github.com/raykavin/tradedash/pkg/marketdata"
	"github.com/raykavin/tradedash/pkg/metric"
	"github.com/raykavin/tradedash/pkg/notification"
	"github.com/raykavin/tradedash/pkg/risk"
	"github.com/raykavin/tradedash/pkg/session"
	"github.com/raykavin/tradedash/pkg/storage"
	"github.com/raykavin/tradedash/pkg/viewport"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Command line flags
var (
	configFile string

	// Risk command flags
	symbol     string
	balance    string
	riskPct    string
	leverage   string
	entry      string
	stopLoss   string
	takeProfit string
	side       string

	// Export and stats command flags
	symbols   []string
	interval  string
	limit     int
	outputDir string
)

func main() {
	// Create root command
	rootCmd := &cobra.Command{
		Use:     "tradedash",
		Short:   "Live trading chart dashboard",
		Version: "1.0.0",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (e.g. ./tradedash.yaml)")

	// Add commands
	rootCmd.AddCommand(buildServeCmd(), buildRiskCmd(), buildFamiliesCmd(), buildExportCmd(), buildStatsCmd())

	// Execute
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard",
		RunE:  runServe,
	}
}

func buildRiskCmd() *cobra.Command {
	riskCmd := &cobra.Command{
		Use:   "risk",
		Short: "Size a position from a risk budget",
		RunE:  runRisk,
	}

	riskCmd.Flags().StringVarP(&symbol, "symbol", "p", "", "Trading pair (e.g. BTCUSDT)")
	riskCmd.Flags().StringVarP(&balance, "balance", "b", "", "Account balance in USD")
	riskCmd.Flags().StringVarP(&riskPct, "risk", "r", "1", "Percent of the balance to risk")
	riskCmd.Flags().StringVarP(&leverage, "leverage", "l", "1", "Leverage")
	riskCmd.Flags().StringVarP(&entry, "entry", "e", "", "Entry price")
	riskCmd.Flags().StringVarP(&stopLoss, "stop", "s", "", "Stop loss price")
	riskCmd.Flags().StringVarP(&takeProfit, "target", "t", "", "Take profit price (optional)")
	riskCmd.Flags().StringVar(&side, "side", string(risk.Buy), "Position side (BUY or SELL)")

	// Required flags
	riskCmd.MarkFlagRequired("symbol")
	riskCmd.MarkFlagRequired("balance")
	riskCmd.MarkFlagRequired("entry")
	riskCmd.MarkFlagRequired("stop")

	return riskCmd
}

func buildExportCmd() *cobra.Command {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export historical candles and indicators to CSV",
		RunE:  runExport,
	}

	exportCmd.Flags().StringSliceVarP(&symbols, "symbols", "p", nil, "Trading pairs (e.g. BTCUSDT,ETHUSDT)")
	exportCmd.Flags().StringVarP(&interval, "interval", "i", "1h", "Candle interval (e.g. 15m)")
	exportCmd.Flags().IntVarP(&limit, "limit", "l", marketdata.DefaultLimit, "Candles per pair")
	exportCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory")

	// Required flags
	exportCmd.MarkFlagRequired("symbols")

	return exportCmd
}

func buildStatsCmd() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the returns of recent candles",
		RunE:  runStats,
	}

	statsCmd.Flags().StringSliceVarP(&symbols, "symbols", "p", nil, "Trading pairs (e.g. BTCUSDT,ETHUSDT)")
	statsCmd.Flags().StringVarP(&interval, "interval", "i", "1h", "Candle interval (e.g. 15m)")
	statsCmd.Flags().IntVarP(&limit, "limit", "l", marketdata.DefaultLimit, "Candles per pair")

	// Required flags
	statsCmd.MarkFlagRequired("symbols")

	return statsCmd
}

func buildFamiliesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "families",
		Short: "List the indicator families",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(cmd.OutOrStdout(), familiesTable(chart.DefaultFamilies()))
			return nil
		},
	}
}

func newLogger(cfg config.LogConfig) (logger.Logger, error) {
	return zerolog.New(zerolog.Options{
		Level:          cfg.Level,
		DateTimeLayout: cfg.TimeLayout,
		Colored:        cfg.Colored,
		JSON:           cfg.JSON,
	})
}

// marketSources wires the configured data collaborators. The returned
// cleanup releases the history cache.
func marketSources(cfg config.MarketConfig, log logger.Logger) (marketdata.HistoricalFetcher, marketdata.LiveSource, func() error, error) {
	if cfg.Source == config.SourceSimulate {
		sim := marketdata.NewSimulator(cfg.SimulateTick, log)
		return sim, sim, func() error { return nil }, nil
	}

	cache, err := storage.FromMemory(cfg.CacheTTL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open history cache: %w", err)
	}

	switch cfg.Source {
	case config.SourceBinance:
		exc := marketdata.NewBinanceSource(log, marketdata.WithBinanceMaxFailures(cfg.MaxFailures))
		live := marketdata.NewFallbackSource(exc, marketdata.NewPollingSource(exc, cfg.PollInterval, log), log)
		return marketdata.NewCachedFetcher(exc, cache, log), live, cache.Close, nil
	default:
		rest := marketdata.NewRESTClient(cfg.RestURL, log, marketdata.WithToken(cfg.Token))
		stream := marketdata.NewWebSocketSource(cfg.WSURL, log,
			marketdata.WithStreamToken(cfg.Token),
			marketdata.WithMaxFailures(cfg.MaxFailures),
		)
		live := marketdata.NewFallbackSource(stream, marketdata.NewPollingSource(rest, cfg.PollInterval, log), log)
		return marketdata.NewCachedFetcher(rest, cache, log), live, cache.Close, nil
	}
}

// analysisOptions wires the forecast overlay and signal panel. Only the API
// source has an analysis service behind it.
func analysisOptions(cfg config.MarketConfig, log logger.Logger) []dashboard.Option {
	if cfg.Source != config.SourceAPI || !cfg.Analysis {
		return nil
	}

	analysis := marketdata.NewRESTClient(cfg.RestURL, log, marketdata.WithToken(cfg.Token))
	req := marketdata.ForecastRequest{History: cfg.ForecastHistory, Steps: cfg.ForecastSteps}
	return []dashboard.Option{
		dashboard.WithSignalAnalyzer(analysis),
		dashboard.WithSessionOptions(session.WithForecaster(analysis, req)),
	}
}

// alerter builds the feed health notifiers that are enabled. It returns nil
// when none is.
func alerter(cfg config.NotifyConfig, report notification.ReportFunc, log logger.Logger) (*notification.Alerter, *notification.Telegram, error) {
	var notifiers []notification.Notifier
	var bot *notification.Telegram

	if cfg.Telegram.Enabled {
		var err error
		bot, err = notification.NewTelegram(notification.TelegramSettings{
			Token: cfg.Telegram.Token,
			Users: cfg.Telegram.Users,
		}, report, log)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, bot)
	}

	if cfg.Mail.Enabled {
		notifiers = append(notifiers, notification.NewMail(notification.MailParams{
			SMTPServerPort:    cfg.Mail.Port,
			SMTPServerAddress: cfg.Mail.Server,
			To:                cfg.Mail.To,
			From:              cfg.Mail.From,
			Password:          cfg.Mail.Password,
		}, log))
	}

	if len(notifiers) == 0 {
		return nil, nil, nil
	}
	return notification.NewAlerter(log, notifiers...), bot, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("invalid log configuration: %w", err)
	}

	fetcher, live, cleanup, err := marketSources(cfg.Market, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			log.WithError(err).Warn("failed to close history cache")
		}
	}()

	m := metrics.NewMetrics()
	options := []dashboard.Option{
		dashboard.WithPort(cfg.Server.Port),
		dashboard.WithMetrics(m, m.Handler()),
		dashboard.WithDefaultSelection(cfg.Chart.DefaultSymbol, cfg.Chart.DefaultInterval),
		dashboard.WithSessionOptions(
			session.WithHistoryLimit(cfg.Market.HistoryLimit),
			session.WithMaxCandles(cfg.Chart.MaxCandles),
			session.WithViewportOptions(viewport.WithDebounce(cfg.Chart.SyncDebounce)),
		),
	}
	if cfg.Server.Debug {
		options = append(options, dashboard.WithDebug())
	}
	options = append(options, analysisOptions(cfg.Market, log)...)

	var dash *dashboard.Dashboard
	alerts, bot, err := alerter(cfg.Notify, func() string { return dash.Report() }, log)
	if err != nil {
		return err
	}
	if alerts != nil {
		options = append(options, dashboard.WithStatusObserver(alerts))
	}

	dash, err = dashboard.NewDashboard(fetcher, live, log, options...)
	if err != nil {
		return err
	}

	if bot != nil {
		bot.Start()
		defer bot.Stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(map[string]any{
		"source":   cfg.Market.Source,
		"symbol":   cfg.Chart.DefaultSymbol,
		"interval": cfg.Chart.DefaultInterval,
	}).Info("starting dashboard")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return dash.Serve(groupCtx, dashboard.NewStandardHTTPServer())
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.WithField("sessions", dash.Sessions()).Info("shutting down dashboard")
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	log.Info("dashboard stopped")
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("invalid log configuration: %w", err)
	}

	selections := make([]core.Selection, 0, len(symbols))
	for _, pair := range symbols {
		sel, err := core.ParseSelection(pair, interval)
		if err != nil {
			return err
		}
		selections = append(selections, sel)
	}

	fetcher, _, cleanup, err := marketSources(cfg.Market, log)
	if err != nil {
		return err
	}
	defer cleanup()

	paths, err := export.NewExporter(fetcher, log, export.WithProgress(cmd.ErrOrStderr())).
		Export(cmd.Context(), selections, limit, outputDir)
	for _, path := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	return err
}

func runStats(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("invalid log configuration: %w", err)
	}

	fetcher, _, cleanup, err := marketSources(cfg.Market, log)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	for _, pair := range symbols {
		sel, err := core.ParseSelection(pair, interval)
		if err != nil {
			return err
		}

		h, err := fetcher.Historical(cmd.Context(), sel, limit)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "%s\n%s", sel, metric.Summarize(h.Candles, 1000))
		if err := metric.FprintHistogram(out, metric.Returns(h.Candles), 15); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runRisk(cmd *cobra.Command, _ []string) error {
	in, err := riskInput()
	if err != nil {
		return err
	}

	result, err := risk.Calculate(in)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (MMR %s)\n", result.Symbol, in.Side, result.MaintenanceMargin.Mul(decimal.NewFromInt(100)).StringFixed(2)+"%")
	fmt.Fprint(cmd.OutOrStdout(), result.Summary().String())
	return nil
}

func riskInput() (risk.Input, error) {
	values := map[string]string{
		"balance":  balance,
		"risk":     riskPct,
		"leverage": leverage,
		"entry":    entry,
		"stop":     stopLoss,
	}

	parsed := make(map[string]decimal.Decimal, len(values))
	for name, raw := range values {
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return risk.Input{}, fmt.Errorf("invalid --%s value %q", name, raw)
		}
		parsed[name] = value
	}

	in := risk.Input{
		Symbol:         symbol,
		AccountBalance: parsed["balance"],
		RiskPercent:    parsed["risk"],
		Leverage:       parsed["leverage"],
		EntryPrice:     parsed["entry"],
		StopLossPrice:  parsed["stop"],
		Side:           risk.Side(strings.ToUpper(side)),
	}

	if takeProfit != "" {
		value, err := decimal.NewFromString(takeProfit)
		if err != nil {
			return risk.Input{}, fmt.Errorf("invalid --target value %q", takeProfit)
		}
		in.TakeProfitPrice = &value
	}

	return in, nil
}

func familiesTable(families []chart.Family) string {
	tableString := &strings.Builder{}
	table := tablewriter.NewWriter(tableString)
	table.SetHeader([]string{"Family", "Label", "Pane", "Axis", "Series"})

	for _, f := range families {
		keys := lo.Map(f.Series, func(s chart.SeriesSpec, _ int) string {
			return s.Key
		})
		table.Append([]string{f.Name, f.Label, string(f.Pane), string(f.Axis), strings.Join(keys, ", ")})
	}

	table.Render()
	return tableString.String()
}
