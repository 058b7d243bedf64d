package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string                  `yaml:"env"`
	Logger   LoggerConfig            `yaml:"logger"`
	Gateway  GatewayConfig           `yaml:"gateway"`
	Tracker  TrackerConfig           `yaml:"tracker"`
	Defaults StrategyDefaults        `yaml:"defaults"`
	Metrics  MetricsConfig           `yaml:"metrics"`
	Admin    AdminConfig             `yaml:"admin"`
	Symbols  map[string]SymbolConfig `yaml:"symbols"`
}

type LoggerConfig struct {
	Level    string `yaml:"level"`    // debug/info/warn/error
	Format   string `yaml:"format"`   // json/console
	FilePath string `yaml:"filePath"` // 留空则只输出到 stdout
}

type GatewayConfig struct {
	APIKey    string  `yaml:"apiKey"`
	APISecret string  `yaml:"apiSecret"`
	BaseURL   string  `yaml:"baseURL"`
	WSURL     string  `yaml:"wsURL"`
	RestRate  float64 `yaml:"restRate"`  // REST 限流：每秒令牌数
	RestBurst int     `yaml:"restBurst"` // REST 限流：最大突发令牌数
}

// TrackerConfig 订单轮询参数。
type TrackerConfig struct {
	PollIntervalMs int `yaml:"pollIntervalMs"` // 基础轮询周期（毫秒），默认 3000
	MaxFailures    int `yaml:"maxFailures"`    // 连续失败达到该值后标记 STATUS_UNKNOWN，默认 5
}

// StrategyDefaults 策略级默认值，单个策略请求可覆盖。
type StrategyDefaults struct {
	TWAPPriceBandPct   float64 `yaml:"twapPriceBandPct"` // TWAP 价格带，默认 0.05
	GridSkipNearMarket *bool   `yaml:"gridSkipNearMarket"`
	CancelTimeoutMs    int     `yaml:"cancelTimeoutMs"` // 撤单确认超时（毫秒），默认 10000
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // Prometheus 监听地址，留空则关闭
}

type AdminConfig struct {
	Addr string `yaml:"addr"` // 管理 HTTP 监听地址，留空则关闭
}

// SymbolConfig 保存交易对的精度/名义限制（来自 exchangeInfo）。
type SymbolConfig struct {
	TickSize    float64 `yaml:"tickSize"`
	StepSize    float64 `yaml:"stepSize"`
	MinQty      float64 `yaml:"minQty"`
	MaxQty      float64 `yaml:"maxQty"`
	MinNotional float64 `yaml:"minNotional"`
	MaxNotional float64 `yaml:"maxNotional"`
}

// PollInterval returns the tracker poll interval as a duration.
func (t TrackerConfig) PollInterval() time.Duration {
	if t.PollIntervalMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(t.PollIntervalMs) * time.Millisecond
}

// CancelTimeout returns the cancel confirmation timeout as a duration.
func (d StrategyDefaults) CancelTimeout() time.Duration {
	if d.CancelTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(d.CancelTimeoutMs) * time.Millisecond
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("SE_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("SE_GATEWAY_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "" {
		return errors.New("gateway.apiKey/apiSecret is required (or env overrides)")
	}
	if cfg.Gateway.RestRate < 0 || cfg.Gateway.RestBurst < 0 {
		return errors.New("gateway rate limits must be >= 0")
	}
	if cfg.Tracker.PollIntervalMs < 0 {
		return errors.New("tracker.pollIntervalMs must be >= 0")
	}
	if cfg.Tracker.MaxFailures < 0 {
		return errors.New("tracker.maxFailures must be >= 0")
	}
	if cfg.Defaults.TWAPPriceBandPct < 0 {
		return errors.New("defaults.twapPriceBandPct must be >= 0")
	}
	if cfg.Defaults.CancelTimeoutMs < 0 {
		return errors.New("defaults.cancelTimeoutMs must be >= 0")
	}
	if len(cfg.Symbols) == 0 {
		return errors.New("symbols config is required")
	}
	for sym, sc := range cfg.Symbols {
		if sc.TickSize <= 0 {
			return fmt.Errorf("symbol %s tickSize must be > 0", sym)
		}
		if sc.StepSize <= 0 {
			return fmt.Errorf("symbol %s stepSize must be > 0", sym)
		}
		if sc.MinQty < 0 || sc.MaxQty < 0 {
			return fmt.Errorf("symbol %s qty bounds must be >= 0", sym)
		}
		if sc.MaxQty > 0 && sc.MinQty > sc.MaxQty {
			return fmt.Errorf("symbol %s minQty exceeds maxQty", sym)
		}
		if sc.MinNotional < 0 || sc.MaxNotional < 0 {
			return fmt.Errorf("symbol %s notional bounds must be >= 0", sym)
		}
		if sc.MaxNotional > 0 && sc.MinNotional > sc.MaxNotional {
			return fmt.Errorf("symbol %s minNotional exceeds maxNotional", sym)
		}
	}
	return nil
}
