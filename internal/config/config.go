package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Broker    BrokerConfig    `yaml:"broker"`
	State     StateConfig     `yaml:"state"`
	Sink      SinkConfig      `yaml:"sink"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Structure StructureConfig `yaml:"structure"`
	Classify  ClassifyConfig  `yaml:"classify"`
	Hedge     HedgeConfig     `yaml:"hedge"`
	Risk      RiskConfig      `yaml:"risk"`
	Earnings  EarningsConfig  `yaml:"earnings"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Daemon    DaemonConfig    `yaml:"daemon"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type BrokerConfig struct {
	Mode           string        `yaml:"mode"` // "gateway" or "paper"
	GatewayURL     string        `yaml:"gateway_url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type SinkConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// StructureConfig selects which option legs qualify as the hedged structure.
type StructureConfig struct {
	Symbol     string  `yaml:"symbol"`
	MinDTE     int     `yaml:"min_dte"`
	MaxDTE     int     `yaml:"max_dte"`
	ATMBandPct float64 `yaml:"atm_band_pct"`
	Enabled    *bool   `yaml:"enabled"`
}

// StrategyEnabled defaults to true when the flag is absent from the file.
func (s StructureConfig) StrategyEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ClassifyConfig holds the thresholds the state classifier compares against.
type ClassifyConfig struct {
	Delta     DeltaThresholds     `yaml:"delta"`
	Market    MarketThresholds    `yaml:"market"`
	Liquidity LiquidityThresholds `yaml:"liquidity"`
	System    SystemThresholds    `yaml:"system"`
}

type DeltaThresholds struct {
	EpsilonBand          float64 `yaml:"epsilon_band"`
	ThresholdHedgeShares float64 `yaml:"threshold_hedge_shares"`
	MaxDeltaLimit        float64 `yaml:"max_delta_limit"`
}

type MarketThresholds struct {
	StaleTSThresholdMS float64 `yaml:"stale_ts_threshold_ms"`
	VolWindow          int     `yaml:"vol_window"`
}

type LiquidityThresholds struct {
	WideSpreadPct    float64 `yaml:"wide_spread_pct"`
	ExtremeSpreadPct float64 `yaml:"extreme_spread_pct"`
}

type SystemThresholds struct {
	DataLagThresholdMS float64 `yaml:"data_lag_threshold_ms"`
}

// HedgeConfig sizes and paces hedge intents.
type HedgeConfig struct {
	MinHedgeShares         int           `yaml:"min_hedge_shares"`
	MaxHedgeSharesPerOrder int           `yaml:"max_hedge_shares_per_order"`
	Cooldown               time.Duration `yaml:"cooldown"`
	MinPriceMovePct        float64       `yaml:"min_price_move_pct"`
	AckTimeout             time.Duration `yaml:"ack_timeout"`
	WorkingTimeout         time.Duration `yaml:"working_timeout"`
}

type RiskConfig struct {
	MaxDailyHedgeCount int     `yaml:"max_daily_hedge_count"`
	MaxPositionShares  int     `yaml:"max_position_shares"`
	MaxDailyLossUSD    float64 `yaml:"max_daily_loss_usd"`
	MaxSpreadPct       float64 `yaml:"max_spread_pct"`
	TradingHoursOnly   bool    `yaml:"trading_hours_only"`
	PaperTrade         bool    `yaml:"paper_trade"`
	MaxHedgeRetries    int     `yaml:"max_hedge_retries"`
}

type EarningsConfig struct {
	Dates              []string `yaml:"dates"` // YYYY-MM-DD
	BlackoutDaysBefore int      `yaml:"blackout_days_before"`
	BlackoutDaysAfter  int      `yaml:"blackout_days_after"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type DaemonConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ConfigReloadInterval time.Duration `yaml:"config_reload_interval"`
	BrokerRetryInterval  time.Duration `yaml:"broker_retry_interval"`
	ControlPollInterval  time.Duration `yaml:"control_poll_interval"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Broker.Mode == "" {
		cfg.Broker.Mode = "paper"
	}
	if cfg.Broker.ConnectTimeout == 0 {
		cfg.Broker.ConnectTimeout = 60 * time.Second
	}
	if cfg.Broker.CallTimeout == 0 {
		cfg.Broker.CallTimeout = 10 * time.Second
	}
	if cfg.Broker.ReconnectDelay == 0 {
		cfg.Broker.ReconnectDelay = 3 * time.Second
	}
	if cfg.Broker.PingInterval == 0 {
		cfg.Broker.PingInterval = 15 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/gamma-hedge-bot.db"
	}
	if cfg.Sink.Schema == "" {
		cfg.Sink.Schema = "public"
	}
	if cfg.Sink.QueueSize == 0 {
		cfg.Sink.QueueSize = 256
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9109"
	}
	if cfg.Structure.MinDTE == 0 {
		cfg.Structure.MinDTE = 21
	}
	if cfg.Structure.MaxDTE == 0 {
		cfg.Structure.MaxDTE = 35
	}
	if cfg.Structure.ATMBandPct == 0 {
		cfg.Structure.ATMBandPct = 0.03
	}
	if cfg.Classify.Delta.EpsilonBand == 0 {
		cfg.Classify.Delta.EpsilonBand = 10
	}
	if cfg.Classify.Delta.ThresholdHedgeShares == 0 {
		cfg.Classify.Delta.ThresholdHedgeShares = 25
	}
	if cfg.Classify.Delta.MaxDeltaLimit == 0 {
		cfg.Classify.Delta.MaxDeltaLimit = 500
	}
	if cfg.Classify.Market.StaleTSThresholdMS == 0 {
		cfg.Classify.Market.StaleTSThresholdMS = 5000
	}
	if cfg.Classify.Market.VolWindow == 0 {
		cfg.Classify.Market.VolWindow = 20
	}
	if cfg.Classify.Liquidity.WideSpreadPct == 0 {
		cfg.Classify.Liquidity.WideSpreadPct = 0.1
	}
	if cfg.Classify.Liquidity.ExtremeSpreadPct == 0 {
		cfg.Classify.Liquidity.ExtremeSpreadPct = 0.5
	}
	if cfg.Classify.System.DataLagThresholdMS == 0 {
		cfg.Classify.System.DataLagThresholdMS = 1000
	}
	if cfg.Hedge.MinHedgeShares == 0 {
		cfg.Hedge.MinHedgeShares = 10
	}
	if cfg.Hedge.MaxHedgeSharesPerOrder == 0 {
		cfg.Hedge.MaxHedgeSharesPerOrder = 500
	}
	if cfg.Hedge.Cooldown == 0 {
		cfg.Hedge.Cooldown = 60 * time.Second
	}
	if cfg.Hedge.MinPriceMovePct == 0 {
		cfg.Hedge.MinPriceMovePct = 0.2
	}
	if cfg.Hedge.AckTimeout == 0 {
		cfg.Hedge.AckTimeout = 5 * time.Second
	}
	if cfg.Hedge.WorkingTimeout == 0 {
		cfg.Hedge.WorkingTimeout = 30 * time.Second
	}
	if cfg.Risk.MaxDailyHedgeCount == 0 {
		cfg.Risk.MaxDailyHedgeCount = 50
	}
	if cfg.Risk.MaxPositionShares == 0 {
		cfg.Risk.MaxPositionShares = 2000
	}
	if cfg.Risk.MaxDailyLossUSD == 0 {
		cfg.Risk.MaxDailyLossUSD = 5000
	}
	if cfg.Risk.MaxHedgeRetries == 0 {
		cfg.Risk.MaxHedgeRetries = 3
	}
	if cfg.Earnings.BlackoutDaysBefore == 0 {
		cfg.Earnings.BlackoutDaysBefore = 3
	}
	if cfg.Earnings.BlackoutDaysAfter == 0 {
		cfg.Earnings.BlackoutDaysAfter = 1
	}
	if cfg.Daemon.HeartbeatInterval == 0 {
		cfg.Daemon.HeartbeatInterval = 10 * time.Second
	}
	if cfg.Daemon.ConfigReloadInterval == 0 {
		cfg.Daemon.ConfigReloadInterval = 30 * time.Second
	}
	if cfg.Daemon.BrokerRetryInterval == 0 {
		cfg.Daemon.BrokerRetryInterval = 30 * time.Second
	}
	if cfg.Daemon.ControlPollInterval == 0 {
		cfg.Daemon.ControlPollInterval = time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Structure.Symbol == "" {
		return errors.New("structure.symbol is required")
	}
	if cfg.Broker.Mode != "paper" && cfg.Broker.Mode != "gateway" {
		return fmt.Errorf("broker.mode must be paper or gateway, got %q", cfg.Broker.Mode)
	}
	if cfg.Broker.Mode == "gateway" && cfg.Broker.GatewayURL == "" {
		return errors.New("broker.gateway_url is required in gateway mode")
	}
	d := cfg.Classify.Delta
	if !(d.EpsilonBand <= d.ThresholdHedgeShares && d.ThresholdHedgeShares <= d.MaxDeltaLimit) {
		return fmt.Errorf("classify.delta thresholds must satisfy epsilon_band (%.1f) <= threshold_hedge_shares (%.1f) <= max_delta_limit (%.1f)",
			d.EpsilonBand, d.ThresholdHedgeShares, d.MaxDeltaLimit)
	}
	l := cfg.Classify.Liquidity
	if l.WideSpreadPct > l.ExtremeSpreadPct {
		return fmt.Errorf("classify.liquidity.wide_spread_pct (%.3f) exceeds extreme_spread_pct (%.3f)",
			l.WideSpreadPct, l.ExtremeSpreadPct)
	}
	if cfg.Structure.MinDTE > cfg.Structure.MaxDTE {
		return errors.New("structure.min_dte exceeds structure.max_dte")
	}
	if cfg.Hedge.MinHedgeShares > cfg.Hedge.MaxHedgeSharesPerOrder {
		return errors.New("hedge.min_hedge_shares exceeds hedge.max_hedge_shares_per_order")
	}
	for _, raw := range cfg.Earnings.Dates {
		if _, err := time.Parse("2006-01-02", raw); err != nil {
			return fmt.Errorf("earnings.dates entry %q is not YYYY-MM-DD: %w", raw, err)
		}
	}
	if cfg.Sink.Enabled && cfg.Sink.DSN == "" {
		return errors.New("sink.dsn is required when sink.enabled")
	}
	return nil
}
