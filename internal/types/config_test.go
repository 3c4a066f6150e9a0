package types

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"

	"github.com/cordelia-labs/tradewind/pkg/errors"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestDurationUnmarshal() {
	var cfg struct {
		Interval Duration `yaml:"interval"`
	}

	s.Require().NoError(yaml.Unmarshal([]byte("interval: 90s"), &cfg))
	s.Equal(90*time.Second, cfg.Interval.Std())

	err := yaml.Unmarshal([]byte("interval: not-a-duration"), &cfg)
	s.Require().Error(err)
}

func (s *ConfigTestSuite) TestDurationMarshalRoundTrip() {
	data, err := yaml.Marshal(Duration(5 * time.Minute))
	s.Require().NoError(err)

	var d Duration
	s.Require().NoError(yaml.Unmarshal(data, &d))
	s.Equal(5*time.Minute, d.Std())
}

func (s *ConfigTestSuite) TestApplyDefaults() {
	cfg := EngineConfig{
		Name:            "btc",
		Symbol:          "BTCUSDT",
		BaseAsset:       "BTC",
		QuoteAsset:      "USDT",
		Strategy:        "sma-cross",
		AllocatedBudget: 1000,
	}
	cfg.ApplyDefaults()

	s.Equal(DefaultMaxDrawdown, cfg.MaxDrawdown)
	s.Equal(DefaultFeeRate, cfg.FeeRate)
	s.Equal(DefaultPositionFraction, cfg.PositionFraction)
	s.Equal(DefaultMinOrderNotional, cfg.MinOrderNotional)
	s.Equal(DefaultHistoryBars, cfg.HistoryBars)
	s.Equal(DefaultTickInterval, cfg.TickInterval.Std())
	s.Equal(DefaultFillPollDelay, cfg.FillPollDelay.Std())
	s.Require().NoError(cfg.Validate())
}

func (s *ConfigTestSuite) TestValidateRejectsMissingFields() {
	cfg := EngineConfig{Symbol: "BTCUSDT"}
	cfg.ApplyDefaults()

	err := cfg.Validate()
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (s *ConfigTestSuite) TestValidateRejectsBadMode() {
	cfg := EngineConfig{
		Name:            "btc",
		Symbol:          "BTCUSDT",
		BaseAsset:       "BTC",
		QuoteAsset:      "USDT",
		Strategy:        "sma-cross",
		AllocatedBudget: 1000,
		Mode:            "shared",
	}
	cfg.ApplyDefaults()

	s.Require().Error(cfg.Validate())
}

func (s *ConfigTestSuite) TestLoadAppConfig() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
exchange:
  api_key: key
  secret_key: secret
  testnet: true
engines:
  - name: btc-sma
    symbol: BTCUSDT
    base_asset: BTC
    quote_asset: USDT
    strategy: sma-cross
    allocated_budget: 500
    mode: exclusive
    tick_interval: 30s
`
	s.Require().NoError(os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadAppConfig(path)
	s.Require().NoError(err)
	s.True(cfg.Exchange.Testnet)
	s.Require().Len(cfg.Engines, 1)

	eng := cfg.Engines[0]
	s.Equal("btc-sma", eng.Name)
	s.Equal(RiskModeExclusive, eng.Mode)
	s.Equal(30*time.Second, eng.TickInterval.Std())
	s.Equal(DefaultMaxDrawdown, eng.MaxDrawdown)
}

func (s *ConfigTestSuite) TestLoadAppConfigMissingFile() {
	_, err := LoadAppConfig("/nonexistent/config.yaml")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func (s *ConfigTestSuite) TestLoadAppConfigNoEngines() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("exchange:\n  api_key: key\n"), 0644))

	_, err := LoadAppConfig(path)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
