// Package config handles application configuration management using Viper
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raykavin/tradedash/pkg/core"
	"github.com/raykavin/tradedash/pkg/marketdata"
	"github.com/raykavin/tradedash/pkg/timeseries"
	"github.com/raykavin/tradedash/pkg/viewport"
	"github.com/spf13/viper"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// EnvPrefix prefixes every environment variable, e.g. TRADEDASH_SERVER_PORT
const EnvPrefix = "TRADEDASH"

// Market data sources
const (
	SourceAPI      = "api"
	SourceBinance  = "binance"
	SourceSimulate = "simulate"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the application configuration
type Config struct {
	Server ServerConfig
	Market MarketConfig
	Chart  ChartConfig
	Log    LogConfig
	Notify NotifyConfig
}

// ServerConfig holds the dashboard HTTP server settings
type ServerConfig struct {
	Port  int
	Debug bool
}

// MarketConfig selects and configures the market data collaborator
type MarketConfig struct {
	Source       string
	RestURL      string
	WSURL        string
	Token        string
	HistoryLimit int
	PollInterval time.Duration
	CacheTTL     time.Duration
	MaxFailures  int
	SimulateTick time.Duration

	// Analysis enables the forecast overlay and signal panel served by
	// the API at RestURL
	Analysis        bool
	ForecastHistory int
	ForecastSteps   int
}

// ChartConfig holds the chart engine settings
type ChartConfig struct {
	MaxCandles      int
	SyncDebounce    time.Duration
	DefaultSymbol   string
	DefaultInterval string
}

// NotifyConfig enables feed health alerts
type NotifyConfig struct {
	Telegram TelegramConfig
	Mail     MailConfig
}

// TelegramConfig configures the operator bot
type TelegramConfig struct {
	Enabled bool
	Token   string
	Users   []int
}

// MailConfig configures email alerts
type MailConfig struct {
	Enabled  bool
	Server   string
	Port     int
	From     string
	To       string
	Password string
}

// LogConfig controls the logger
type LogConfig struct {
	Level      string
	JSON       bool
	Colored    bool
	TimeLayout string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)

	v.SetDefault("market.source", SourceSimulate)
	v.SetDefault("market.rest_url", "http://localhost:8000")
	v.SetDefault("market.ws_url", "ws://localhost:8000")
	v.SetDefault("market.token", "")
	v.SetDefault("market.history_limit", marketdata.DefaultLimit)
	v.SetDefault("market.poll_interval", marketdata.DefaultPollInterval.String())
	v.SetDefault("market.cache_ttl", "30s")
	v.SetDefault("market.max_failures", 3)
	v.SetDefault("market.simulate_tick", "1s")
	v.SetDefault("market.analysis", true)
	v.SetDefault("market.forecast_history", marketdata.DefaultForecastHistory)
	v.SetDefault("market.forecast_steps", marketdata.DefaultForecastSteps)

	v.SetDefault("chart.max_candles", timeseries.DefaultCapacity)
	v.SetDefault("chart.sync_debounce", viewport.DefaultDebounce.String())
	v.SetDefault("chart.default_symbol", "BTCUSDT")
	v.SetDefault("chart.default_interval", "1m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.colored", true)
	v.SetDefault("log.time_layout", time.DateTime)

	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.token", "")
	v.SetDefault("notify.telegram.users", []int{})
	v.SetDefault("notify.mail.enabled", false)
	v.SetDefault("notify.mail.server", "")
	v.SetDefault("notify.mail.port", 587)
	v.SetDefault("notify.mail.from", "")
	v.SetDefault("notify.mail.to", "")
	v.SetDefault("notify.mail.password", "")
}

// New returns a viper instance with defaults and environment binding. When
// path is not empty the file is read as well.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	return v, nil
}

// Load reads the configuration from path (optional) and the environment
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper builds and validates a Config
func FromViper(v *viper.Viper) (*Config, error) {
	var errs []error
	duration := func(key string) time.Duration {
		d, err := ParseDuration(v.GetString(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err))
		}
		return d
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:  v.GetInt("server.port"),
			Debug: v.GetBool("server.debug"),
		},
		Market: MarketConfig{
			Source:       strings.ToLower(v.GetString("market.source")),
			RestURL:      v.GetString("market.rest_url"),
			WSURL:        v.GetString("market.ws_url"),
			Token:        v.GetString("market.token"),
			HistoryLimit: marketdata.ClampLimit(v.GetInt("market.history_limit")),
			PollInterval: duration("market.poll_interval"),
			CacheTTL:     duration("market.cache_ttl"),
			MaxFailures:  v.GetInt("market.max_failures"),
			SimulateTick: duration("market.simulate_tick"),

			Analysis:        v.GetBool("market.analysis"),
			ForecastHistory: v.GetInt("market.forecast_history"),
			ForecastSteps:   v.GetInt("market.forecast_steps"),
		},
		Chart: ChartConfig{
			MaxCandles:      v.GetInt("chart.max_candles"),
			SyncDebounce:    duration("chart.sync_debounce"),
			DefaultSymbol:   v.GetString("chart.default_symbol"),
			DefaultInterval: v.GetString("chart.default_interval"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			JSON:       v.GetBool("log.json"),
			Colored:    v.GetBool("log.colored"),
			TimeLayout: v.GetString("log.time_layout"),
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				Enabled: v.GetBool("notify.telegram.enabled"),
				Token:   v.GetString("notify.telegram.token"),
				Users:   v.GetIntSlice("notify.telegram.users"),
			},
			Mail: MailConfig{
				Enabled:  v.GetBool("notify.mail.enabled"),
				Server:   v.GetString("notify.mail.server"),
				Port:     v.GetInt("notify.mail.port"),
				From:     v.GetString("notify.mail.from"),
				To:       v.GetString("notify.mail.to"),
				Password: v.GetString("notify.mail.password"),
			},
		},
	}

	switch cfg.Market.Source {
	case SourceAPI, SourceBinance, SourceSimulate:
	default:
		errs = append(errs, fmt.Errorf("%w: market.source %q", ErrInvalidConfig, cfg.Market.Source))
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: server.port %d", ErrInvalidConfig, cfg.Server.Port))
	}

	if cfg.Chart.MaxCandles <= 0 {
		errs = append(errs, fmt.Errorf("%w: chart.max_candles must be positive", ErrInvalidConfig))
	}

	if _, err := core.ParseSelection(cfg.Chart.DefaultSymbol, cfg.Chart.DefaultInterval); err != nil {
		errs = append(errs, fmt.Errorf("%w: default selection: %v", ErrInvalidConfig, err))
	}

	if t := cfg.Notify.Telegram; t.Enabled && (t.Token == "" || len(t.Users) == 0) {
		errs = append(errs, fmt.Errorf("%w: notify.telegram needs a token and at least one user", ErrInvalidConfig))
	}

	if m := cfg.Notify.Mail; m.Enabled && (m.Server == "" || m.From == "" || m.To == "") {
		errs = append(errs, fmt.Errorf("%w: notify.mail needs server, from and to", ErrInvalidConfig))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseDuration accepts Go durations plus day and week units, e.g. "1d12h"
func ParseDuration(s string) (time.Duration, error) {
	return str2duration.ParseDuration(strings.TrimSpace(s))
}
