package config

import (
	"os"

	"github.com/skalibog/quantd/pkg/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance   BinanceConfig   `yaml:"binance"`
	Trading   TradingConfig   `yaml:"trading"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Risk      RiskConfig      `yaml:"risk"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Sentinel  SentinelConfig  `yaml:"sentinel"`
	Storage   StorageConfig   `yaml:"storage"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Macro     MacroConfig     `yaml:"macro"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит настройки торговли
type TradingConfig struct {
	Tenant         int64    `yaml:"tenant"`
	Watchlist      []string `yaml:"watchlist"`
	EquitySuffixes []string `yaml:"equity_suffixes"`
	HistoryDays    int      `yaml:"history_days"`
}

// ScoringConfig содержит веса суб-оценок и пороги вердиктов.
// Значения фиксированы бизнесом, но переопределяемы через конфиг.
type ScoringConfig struct {
	EquityTechnicalWeight   float64 `yaml:"equity_technical_weight"`
	EquityFundamentalWeight float64 `yaml:"equity_fundamental_weight"`
	EquityOracleWeight      float64 `yaml:"equity_oracle_weight"`
	OtherTechnicalWeight    float64 `yaml:"other_technical_weight"`
	OtherOracleWeight       float64 `yaml:"other_oracle_weight"`

	ThresholdStrongBuy  int `yaml:"threshold_strong_buy"`
	ThresholdBuy        int `yaml:"threshold_buy"`
	ThresholdCaution    int `yaml:"threshold_caution"`
	ThresholdStrongSell int `yaml:"threshold_strong_sell"`

	PenaltyPanic int `yaml:"penalty_panic"`
	PenaltyFear  int `yaml:"penalty_fear"`
}

// RiskConfig содержит настройки риск-модели
type RiskConfig struct {
	Confidence    float64 `yaml:"confidence"`
	StressShock   float64 `yaml:"stress_shock"`
	Benchmark     string  `yaml:"benchmark"`
	HedgeRate     float64 `yaml:"hedge_rate"`
	HedgeHorizonM float64 `yaml:"hedge_horizon_months"`
}

// OptimizerConfig содержит настройки оптимизатора портфеля
type OptimizerConfig struct {
	Portfolios   int     `yaml:"portfolios"`
	Seed         int64   `yaml:"seed"`
	MinDeviation float64 `yaml:"min_deviation_pct"`
}

// SentinelConfig содержит настройки автономного цикла
type SentinelConfig struct {
	AutoTrade       bool    `yaml:"auto_trade"`
	IntervalSeconds int     `yaml:"interval_seconds"`
	ScoreBuy        int     `yaml:"score_buy"`
	ScoreSell       int     `yaml:"score_sell"`
	ScoreSignal     int     `yaml:"score_signal"`
	Lot             float64 `yaml:"lot"`
	HeartbeatFile   string  `yaml:"heartbeat_file"`
}

// StorageConfig содержит настройки транзакционного хранилища портфеля
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// ArchiveConfig содержит настройки архива временных рядов
type ArchiveConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// OracleConfig содержит настройки ML-оракула
type OracleConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// MacroConfig содержит настройки макро-панели
type MacroConfig struct {
	Equities   string `yaml:"equities"`
	Rates      string `yaml:"rates"`
	Dollar     string `yaml:"dollar"`
	Volatility string `yaml:"volatility"`
	Lookback   int    `yaml:"lookback"`
}

// NotifyConfig содержит настройки уведомлений
type NotifyConfig struct {
	BotToken       string `yaml:"bot_token"`
	ChatID         string `yaml:"chat_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Retries        int    `yaml:"retries"`
}

// Load загружает конфигурацию из файла и применяет значения по умолчанию
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Fatal("Ошибка чтения файла конфигурации", zap.Error(err))
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		logger.Fatal("Ошибка разбора файла конфигурации", zap.Error(err))
	}

	config.applyDefaults()

	logger.Info("Загружена конфигурация",
		zap.String("path", path),
		zap.Any("watchlist", config.Trading.Watchlist))
	return &config, nil
}

// applyDefaults подставляет бизнес-константы для незаполненных полей
func (c *Config) applyDefaults() {
	if c.Trading.Tenant == 0 {
		c.Trading.Tenant = 1
	}
	if c.Trading.HistoryDays == 0 {
		c.Trading.HistoryDays = 500
	}
	if len(c.Trading.EquitySuffixes) == 0 {
		c.Trading.EquitySuffixes = []string{".SA"}
	}

	s := &c.Scoring
	if s.EquityTechnicalWeight == 0 && s.EquityFundamentalWeight == 0 && s.EquityOracleWeight == 0 {
		s.EquityTechnicalWeight = 0.3
		s.EquityFundamentalWeight = 0.4
		s.EquityOracleWeight = 0.3
	}
	if s.OtherTechnicalWeight == 0 && s.OtherOracleWeight == 0 {
		s.OtherTechnicalWeight = 0.4
		s.OtherOracleWeight = 0.6
	}
	if s.ThresholdStrongBuy == 0 {
		s.ThresholdStrongBuy = 80
	}
	if s.ThresholdBuy == 0 {
		s.ThresholdBuy = 60
	}
	if s.ThresholdCaution == 0 {
		s.ThresholdCaution = 40
	}
	if s.ThresholdStrongSell == 0 {
		s.ThresholdStrongSell = 25
	}
	if s.PenaltyPanic == 0 {
		s.PenaltyPanic = 30
	}
	if s.PenaltyFear == 0 {
		s.PenaltyFear = 15
	}

	if c.Risk.Confidence == 0 {
		c.Risk.Confidence = 0.95
	}
	if c.Risk.StressShock == 0 {
		c.Risk.StressShock = -0.10
	}
	if c.Risk.HedgeRate == 0 {
		c.Risk.HedgeRate = 0.11
	}
	if c.Risk.HedgeHorizonM == 0 {
		c.Risk.HedgeHorizonM = 1
	}

	if c.Optimizer.Portfolios == 0 {
		c.Optimizer.Portfolios = 5000
	}
	if c.Optimizer.MinDeviation == 0 {
		c.Optimizer.MinDeviation = 1.0
	}

	if c.Sentinel.IntervalSeconds == 0 {
		c.Sentinel.IntervalSeconds = 1800
	}
	if c.Sentinel.ScoreBuy == 0 {
		c.Sentinel.ScoreBuy = 85
	}
	if c.Sentinel.ScoreSell == 0 {
		c.Sentinel.ScoreSell = 25
	}
	if c.Sentinel.ScoreSignal == 0 {
		c.Sentinel.ScoreSignal = 80
	}
	if c.Sentinel.Lot == 0 {
		c.Sentinel.Lot = 5000
	}
	if c.Sentinel.HeartbeatFile == "" {
		c.Sentinel.HeartbeatFile = "heartbeat.txt"
	}

	if c.Oracle.TimeoutSeconds == 0 {
		c.Oracle.TimeoutSeconds = 10
	}
	if c.Macro.Lookback == 0 {
		c.Macro.Lookback = 20
	}
	if c.Notify.TimeoutSeconds == 0 {
		c.Notify.TimeoutSeconds = 5
	}
	if c.Notify.Retries == 0 {
		c.Notify.Retries = 3
	}
}
