package config

import (
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_gc_bot/internal/domain"
	"github.com/vitos/crypto_gc_bot/internal/usecase"
	"gopkg.in/yaml.v3"
)

type ExchangeConfig struct {
	// Name is required; the bot refuses to run when it does not match
	// the adapter actually wired in.
	Name         string `yaml:"name"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	RESTEndpoint string `yaml:"rest_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`
}

type TradingConfig struct {
	Symbol           string   `yaml:"symbol"`
	Mode             string   `yaml:"mode"`
	ShortWindow      int      `yaml:"short_window"`
	LongWindow       int      `yaml:"long_window"`
	Epsilon          float64  `yaml:"epsilon"`
	NotionalAmount   float64  `yaml:"notional_amount"`
	NotionalFraction *float64 `yaml:"notional_fraction"`
	InitialCapital   float64  `yaml:"initial_capital"`
	SlippageBps      float64  `yaml:"slippage_bps"`
	FeeBps           float64  `yaml:"fee_bps"`
	TakeProfitPct    float64  `yaml:"take_profit_pct"`
	StopLossPct      float64  `yaml:"stop_loss_pct"`
	LookbackBars     int      `yaml:"lookback_bars"`
	UseRSIFilter     bool     `yaml:"use_rsi_filter"`
	RSIPeriod        int      `yaml:"rsi_period"`
	RSIMin           *float64 `yaml:"rsi_min"`
	RSIMax           *float64 `yaml:"rsi_max"`
}

type Config struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Trading  TradingConfig  `yaml:"trading"`
	State    struct {
		Path          string `yaml:"path"`
		LockTimeoutMs int    `yaml:"lock_timeout_ms"`
	} `yaml:"state"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Notify struct {
		WebhookURL string `yaml:"webhook_url"`
		Username   string `yaml:"username"`
	} `yaml:"notify"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Load reads the YAML config and overlays secrets from the
// environment. Credentials belong in env (or a .env file loaded by the
// caller), not in the config file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Trading.ShortWindow == 0 && c.Trading.LongWindow == 0 {
		p := domain.DefaultSignalParams()
		c.Trading.ShortWindow = p.ShortWindow
		c.Trading.LongWindow = p.LongWindow
		c.Trading.Epsilon = p.Epsilon
	}
	if c.Trading.Epsilon == 0 {
		c.Trading.Epsilon = domain.DefaultSignalParams().Epsilon
	}
	if c.Trading.TakeProfitPct == 0 {
		c.Trading.TakeProfitPct = usecase.DefaultTakeProfitPct
	}
	if c.Trading.StopLossPct == 0 {
		c.Trading.StopLossPct = usecase.DefaultStopLossPct
	}
	if c.Trading.Mode == "" {
		c.Trading.Mode = string(domain.ModePaper)
	}
	if c.Trading.LookbackBars == 0 {
		c.Trading.LookbackBars = 200
	}
	if c.Trading.UseRSIFilter {
		if c.Trading.RSIPeriod == 0 {
			c.Trading.RSIPeriod = domain.DefaultRSIPeriod
		}
		// An enabled filter with no bounds would pass everything.
		if c.Trading.RSIMin == nil && c.Trading.RSIMax == nil {
			min := 50.0
			c.Trading.RSIMin = &min
		}
	}
	if c.State.Path == "" {
		c.State.Path = "data/state/state.json"
	}
	if c.State.LockTimeoutMs == 0 {
		c.State.LockTimeoutMs = 5000
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "bot.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Exchange.Name == "" {
		return fmt.Errorf("%w: exchange.name must be set explicitly", domain.ErrInvalidParameters)
	}
	if c.Trading.Symbol == "" {
		return fmt.Errorf("%w: trading.symbol is required", domain.ErrInvalidParameters)
	}
	if !domain.OrderMode(c.Trading.Mode).Valid() {
		return fmt.Errorf("%w: trading.mode must be paper or real", domain.ErrInvalidParameters)
	}
	if c.Trading.LookbackBars < c.Trading.LongWindow+1 {
		return fmt.Errorf("%w: lookback_bars %d below long_window+1", domain.ErrInvalidParameters, c.Trading.LookbackBars)
	}
	if err := c.EngineParams().Validate(); err != nil {
		return err
	}
	return c.ExecutorConfig().Validate()
}

func (c *Config) SignalParams() domain.SignalParams {
	return domain.SignalParams{
		ShortWindow: c.Trading.ShortWindow,
		LongWindow:  c.Trading.LongWindow,
		Epsilon:     c.Trading.Epsilon,
	}
}

// RSIFilter returns the configured entry filter, nil when disabled.
func (c *Config) RSIFilter() *domain.RSIFilter {
	if !c.Trading.UseRSIFilter {
		return nil
	}
	return &domain.RSIFilter{
		Period: c.Trading.RSIPeriod,
		Min:    c.Trading.RSIMin,
		Max:    c.Trading.RSIMax,
	}
}

func (c *Config) EngineParams() usecase.EngineParams {
	return usecase.EngineParams{
		Signal:           c.SignalParams(),
		RSI:              c.RSIFilter(),
		TakeProfitPct:    c.Trading.TakeProfitPct,
		StopLossPct:      c.Trading.StopLossPct,
		NotionalAmount:   c.Trading.NotionalAmount,
		NotionalFraction: c.Trading.NotionalFraction,
		InitialCapital:   c.Trading.InitialCapital,
	}
}

func (c *Config) ExecutorConfig() usecase.ExecutorConfig {
	return usecase.ExecutorConfig{
		Mode:         domain.OrderMode(c.Trading.Mode),
		Symbol:       c.Trading.Symbol,
		SlippageBps:  c.Trading.SlippageBps,
		FeeBps:       c.Trading.FeeBps,
		MaxRetries:   3,
		RetryBackoff: time.Second,
	}
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.State.LockTimeoutMs) * time.Millisecond
}
