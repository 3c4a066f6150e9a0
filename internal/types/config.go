package types

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cordelia-labs/tradewind/pkg/errors"
)

// Duration is a time.Duration that unmarshals from YAML duration strings
// like "1m" or "600s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid duration %q", raw)
	}

	*d = Duration(parsed)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default configuration values.
const (
	DefaultMaxDrawdown           = 0.15
	DefaultFeeRate               = 0.001
	DefaultPositionFraction      = 0.95
	DefaultSlippageWarnThreshold = 0.001
	DefaultMinOrderNotional      = 10.0
	DefaultHistoryBars           = 200
	DefaultTickInterval          = time.Minute
	DefaultBalanceVerifyInterval = 10 * time.Minute
	DefaultFillPollDelay         = 2 * time.Second
	DefaultShutdownTimeout       = 10 * time.Second
)

// EngineConfig is the configuration surface consumed by one engine instance.
type EngineConfig struct {
	// Name identifies the instance inside the manager.
	Name string `yaml:"name" validate:"required"`
	// Symbol is the traded pair in exchange notation (e.g. BTCUSDT).
	Symbol string `yaml:"symbol" validate:"required"`
	// BaseAsset and QuoteAsset split the symbol for balance queries.
	BaseAsset  string `yaml:"base_asset" validate:"required"`
	QuoteAsset string `yaml:"quote_asset" validate:"required"`
	// Strategy selects the signal source by name.
	Strategy string `yaml:"strategy" validate:"required"`
	// AllocatedBudget is the capital this instance may size positions
	// against, in quote currency units.
	AllocatedBudget float64 `yaml:"allocated_budget" validate:"required,gt=0"`
	// MaxDrawdown is the fractional loss of the real baseline that triggers
	// the emergency stop.
	MaxDrawdown float64 `yaml:"max_drawdown" validate:"gte=0,lte=1"`
	// FeeRate is the fee per trade side as a fraction of notional.
	FeeRate float64 `yaml:"fee_rate" validate:"gte=0,lt=1"`
	// PositionFraction is the fraction of the available allocated budget
	// committed to a single entry.
	PositionFraction float64 `yaml:"position_fraction" validate:"gte=0,lte=1"`
	// MinOrderNotional is the exchange's minimum order size in quote units.
	MinOrderNotional float64 `yaml:"min_order_notional" validate:"gte=0"`
	// SlippageWarnThreshold is the relative fill deviation above which a
	// warning is logged.
	SlippageWarnThreshold float64 `yaml:"slippage_warn_threshold" validate:"gte=0"`
	// Mode selects isolated or exclusive capital tracking. Empty means
	// infer from the allocated-budget/total-balance ratio.
	Mode RiskMode `yaml:"mode" validate:"omitempty,oneof=isolated exclusive"`
	// HistoryBars is how many candles of history strategies receive.
	HistoryBars int `yaml:"history_bars" validate:"gte=0"`
	// TickInterval is the signal-processing cadence.
	TickInterval Duration `yaml:"tick_interval"`
	// BalanceVerifyInterval is the cadence of exclusive-mode balance checks.
	BalanceVerifyInterval Duration `yaml:"balance_verify_interval"`
	// FillPollDelay is how long to wait before the single fill-status poll.
	FillPollDelay Duration `yaml:"fill_poll_delay"`
	// ShutdownTimeout bounds the flatten-and-cancel work during Stop.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// ApplyDefaults fills zero-valued fields with their documented defaults.
func (c *EngineConfig) ApplyDefaults() {
	if c.MaxDrawdown == 0 {
		c.MaxDrawdown = DefaultMaxDrawdown
	}

	if c.FeeRate == 0 {
		c.FeeRate = DefaultFeeRate
	}

	if c.PositionFraction == 0 {
		c.PositionFraction = DefaultPositionFraction
	}

	if c.MinOrderNotional == 0 {
		c.MinOrderNotional = DefaultMinOrderNotional
	}

	if c.SlippageWarnThreshold == 0 {
		c.SlippageWarnThreshold = DefaultSlippageWarnThreshold
	}

	if c.HistoryBars == 0 {
		c.HistoryBars = DefaultHistoryBars
	}

	if c.TickInterval == 0 {
		c.TickInterval = Duration(DefaultTickInterval)
	}

	if c.BalanceVerifyInterval == 0 {
		c.BalanceVerifyInterval = Duration(DefaultBalanceVerifyInterval)
	}

	if c.FillPollDelay == 0 {
		c.FillPollDelay = Duration(DefaultFillPollDelay)
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
}

// Validate validates the config after defaults have been applied.
func (c *EngineConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid engine config", err)
	}

	return nil
}

// AppConfig is the top-level configuration file: one engine section per
// strategy instance plus shared exchange credentials.
type AppConfig struct {
	Exchange ExchangeConfig `yaml:"exchange"`
	Engines  []EngineConfig `yaml:"engines" validate:"required,min=1,dive"`
}

// ExchangeConfig holds exchange connection settings.
type ExchangeConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	// Testnet routes orders to the exchange's paper environment.
	Testnet bool `yaml:"testnet"`
	// BaseURL overrides the REST endpoint; takes precedence over Testnet.
	BaseURL string `yaml:"base_url"`
}

// LoadAppConfig reads and validates a YAML config file.
func LoadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to read config file", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
	}

	for i := range cfg.Engines {
		cfg.Engines[i].ApplyDefaults()
		if err := cfg.Engines[i].Validate(); err != nil {
			return nil, err
		}
	}

	if len(cfg.Engines) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "config defines no engines")
	}

	return &cfg, nil
}
