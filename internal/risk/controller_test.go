package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/cordelia-labs/tradewind/internal/exchange"
	"github.com/cordelia-labs/tradewind/internal/logger"
	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

type ControllerTestSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *ControllerTestSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *ControllerTestSuite) newController(allocated float64, mode types.RiskMode, quote float64) (*Controller, *exchange.SimExchange) {
	exch := exchange.NewSimExchange(exchange.SimConfig{
		Symbol:       "BTCUSDT",
		InitialQuote: quote,
	})

	cfg := types.EngineConfig{
		AllocatedBudget: allocated,
		MaxDrawdown:     0.15,
		Mode:            mode,
	}

	return NewController(cfg, exch, logger.NewNopLogger()), exch
}

func (s *ControllerTestSuite) TestExclusiveBaselineIsRealBalance() {
	// The account holds 10000 while only 500 is allocated. Drawdown must be
	// judged against the 10000 the account actually holds: a value of 9500
	// is a 5% drawdown, not a wipeout of the allocation.
	c, _ := s.newController(500, types.RiskModeExclusive, 10000)
	s.Require().NoError(c.Start(s.ctx, 100))

	s.Equal(10000.0, c.Baseline())
	s.NoError(c.CheckDrawdown(s.ctx, 9500))
	s.Equal(types.RiskStateActive, c.State())
}

func (s *ControllerTestSuite) TestIsolatedBaselineIsAllocation() {
	c, _ := s.newController(500, types.RiskModeIsolated, 10000)
	s.Require().NoError(c.Start(s.ctx, 100))

	s.Equal(500.0, c.Baseline())
}

func (s *ControllerTestSuite) TestAutoModeInference() {
	// 500 of 10000 is well under half the account: isolated.
	c, _ := s.newController(500, types.RiskModeAuto, 10000)
	s.Require().NoError(c.Start(s.ctx, 100))
	s.Equal(types.RiskModeIsolated, c.Mode())

	// 9000 of 10000 means this instance effectively owns the account.
	c, _ = s.newController(9000, types.RiskModeAuto, 10000)
	s.Require().NoError(c.Start(s.ctx, 100))
	s.Equal(types.RiskModeExclusive, c.Mode())
}

func (s *ControllerTestSuite) TestDrawdownTriggersEmergencyStop() {
	c, _ := s.newController(10000, types.RiskModeExclusive, 10000)
	s.Require().NoError(c.Start(s.ctx, 100))

	liquidated := false
	c.SetLiquidateFunc(func(ctx context.Context, reason types.CloseReason) error {
		liquidated = true
		s.Equal(types.CloseReasonMaxDrawdown, reason)

		return nil
	})

	err := c.CheckDrawdown(s.ctx, 8400)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeEmergencyStopped))
	s.True(liquidated)
	s.Equal(types.RiskStateEmergencyStopped, c.State())
}

func (s *ControllerTestSuite) TestEmergencyStopIsTerminal() {
	c, _ := s.newController(10000, types.RiskModeExclusive, 10000)
	s.Require().NoError(c.Start(s.ctx, 100))
	s.Require().Error(c.CheckDrawdown(s.ctx, 8000))

	// Even a fully recovered value cannot resurrect the controller.
	err := c.CheckDrawdown(s.ctx, 10000)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeEmergencyStopped))
}

func (s *ControllerTestSuite) TestStopHappensEvenWhenLiquidationFails() {
	c, _ := s.newController(10000, types.RiskModeExclusive, 10000)
	s.Require().NoError(c.Start(s.ctx, 100))

	c.SetLiquidateFunc(func(ctx context.Context, reason types.CloseReason) error {
		return errors.New(errors.ErrCodeOrderFailed, "exchange down")
	})

	s.Require().Error(c.CheckDrawdown(s.ctx, 1000))
	s.Equal(types.RiskStateEmergencyStopped, c.State())
}

func (s *ControllerTestSuite) TestCheckBeforeStartFails() {
	c, _ := s.newController(10000, types.RiskModeExclusive, 10000)

	err := c.CheckDrawdown(s.ctx, 10000)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeBaselineNotEstablished))
}

func (s *ControllerTestSuite) TestBaselineFetchFailure() {
	c, exch := s.newController(10000, types.RiskModeExclusive, 10000)
	exch.BalanceErr = errors.New(errors.ErrCodeExchangeUnavailable, "down")

	err := c.Start(s.ctx, 100)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeBaselineNotEstablished))
	s.Equal(types.RiskStateStarting, c.State())
}

func (s *ControllerTestSuite) TestVerifyBalanceSkippedInIsolatedMode() {
	c, _ := s.newController(500, types.RiskModeIsolated, 10000)
	s.Require().NoError(c.Start(s.ctx, 100))

	// Isolated instances share the account with other actors; a diverging
	// balance is expected there, not an anomaly.
	c.AdjustExpected(-5000)
	s.NoError(c.VerifyBalance(s.ctx))
}

func (s *ControllerTestSuite) TestVerifyBalanceReAnchorsOnDivergence() {
	c, _ := s.newController(10000, types.RiskModeExclusive, 10000)
	s.Require().NoError(c.Start(s.ctx, 100))

	// Pretend this instance believes it spent 2000 that the exchange never
	// saw leave the account.
	c.AdjustExpected(-2000)

	err := c.VerifyBalance(s.ctx)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeBalanceMismatch))

	// Re-anchored: the second verification is clean.
	s.Equal(10000.0, c.Expected())
	s.NoError(c.VerifyBalance(s.ctx))
}

func (s *ControllerTestSuite) TestVerifyBalanceWithinTolerance() {
	c, _ := s.newController(10000, types.RiskModeExclusive, 10000)
	s.Require().NoError(c.Start(s.ctx, 100))

	c.AdjustExpected(-10)
	s.NoError(c.VerifyBalance(s.ctx))
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}
