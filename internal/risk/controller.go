// Package risk owns the capital-preservation layer: it anchors a baseline at
// startup, watches total value against it, and pulls the plug on the whole
// instance when drawdown crosses the configured threshold.
package risk

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cordelia-labs/tradewind/internal/exchange"
	"github.com/cordelia-labs/tradewind/internal/logger"
	"github.com/cordelia-labs/tradewind/internal/types"
	"github.com/cordelia-labs/tradewind/pkg/errors"
)

const (
	// autoModeThreshold is the allocated/total ratio above which auto mode
	// infers exclusive ownership of the account.
	autoModeThreshold = 0.5
	// balanceEpsilon is the relative tolerance when comparing the expected
	// quote balance against the exchange's reported one.
	balanceEpsilon = 0.005
)

// LiquidateFunc flattens the open position, if any. The engine injects it so
// the controller can force an exit without importing the engine.
type LiquidateFunc func(ctx context.Context, reason types.CloseReason) error

// Controller tracks drawdown against a baseline established at startup and
// escalates to a terminal emergency stop when it is breached. The baseline is
// the real observed account value, never the configured budget, so a budget
// typo cannot turn a small dip into an instant liquidation.
type Controller struct {
	mu sync.Mutex

	log      *logger.Logger
	exchange exchange.Exchange

	allocated   float64
	maxDrawdown float64
	mode        types.RiskMode

	state    types.RiskState
	baseline float64
	// expected is the quote balance this instance believes the account holds,
	// maintained from its own fills. Only meaningful in exclusive mode.
	expected float64

	liquidate  LiquidateFunc
	stopReason string
	stoppedAt  time.Time
}

// NewController creates a controller in the STARTING state.
func NewController(cfg types.EngineConfig, exch exchange.Exchange, log *logger.Logger) *Controller {
	return &Controller{
		log:         log.Named("risk"),
		exchange:    exch,
		allocated:   cfg.AllocatedBudget,
		maxDrawdown: cfg.MaxDrawdown,
		mode:        cfg.Mode,
		state:       types.RiskStateStarting,
	}
}

// SetLiquidateFunc wires the forced-exit callback. Must be called before
// Start; the engine does this during construction.
func (c *Controller) SetLiquidateFunc(fn LiquidateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.liquidate = fn
}

// Start establishes the baseline from the real account value and moves the
// controller to ACTIVE. In auto mode, the ownership mode is inferred from the
// ratio of allocated budget to observed balance.
func (c *Controller) Start(ctx context.Context, price float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != types.RiskStateStarting {
		return errors.Newf(errors.ErrCodeInvalidParameter, "cannot start controller in state %s", c.state)
	}

	balance, err := c.exchange.FetchBalance(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBaselineNotEstablished,
			"failed to fetch balance for baseline", err)
	}

	total := balance.Quote + balance.Base*price

	if c.mode == types.RiskModeAuto {
		if total > 0 && c.allocated/total >= autoModeThreshold {
			c.mode = types.RiskModeExclusive
		} else {
			c.mode = types.RiskModeIsolated
		}

		c.log.Info("inferred risk mode from balance ratio",
			zap.String("mode", string(c.mode)),
			zap.Float64("allocated", c.allocated),
			zap.Float64("total", total))
	}

	switch c.mode {
	case types.RiskModeIsolated:
		// An isolated instance only ever sees its own slice of capital.
		c.baseline = c.allocated
	case types.RiskModeExclusive:
		if total <= 0 {
			return errors.New(errors.ErrCodeBaselineNotEstablished,
				"account value is zero, refusing to anchor a baseline")
		}

		c.baseline = total
	}

	c.expected = balance.Quote
	c.state = types.RiskStateActive

	c.log.Info("risk controller active",
		zap.String("mode", string(c.mode)),
		zap.Float64("baseline", c.baseline),
		zap.Float64("max_drawdown", c.maxDrawdown))

	return nil
}

// CheckDrawdown compares the given total value against the baseline. When the
// relative deviation reaches the threshold it liquidates the position and
// moves to EMERGENCY_STOPPED, which is terminal. Returns an
// ErrCodeEmergencyStopped error once stopped so callers halt trading.
func (c *Controller) CheckDrawdown(ctx context.Context, totalValue float64) error {
	c.mu.Lock()

	switch c.state {
	case types.RiskStateEmergencyStopped:
		c.mu.Unlock()

		return errors.Newf(errors.ErrCodeEmergencyStopped,
			"emergency stopped: %s", c.stopReason)
	case types.RiskStateStarting:
		c.mu.Unlock()

		return errors.New(errors.ErrCodeBaselineNotEstablished,
			"drawdown check before baseline established")
	}

	drawdown := math.Abs(totalValue-c.baseline) / c.baseline
	if drawdown < c.maxDrawdown {
		c.mu.Unlock()

		return nil
	}

	c.log.Error("max drawdown exceeded, triggering emergency stop",
		zap.Float64("total_value", totalValue),
		zap.Float64("baseline", c.baseline),
		zap.Float64("drawdown", drawdown),
		zap.Float64("threshold", c.maxDrawdown))

	c.mu.Unlock()

	return c.EmergencyStop(ctx, "max drawdown exceeded")
}

// EmergencyStop liquidates the open position and moves to the terminal
// EMERGENCY_STOPPED state. The transition happens even when liquidation
// fails; a position the exchange refuses to close must not keep trading
// alive.
func (c *Controller) EmergencyStop(ctx context.Context, reason string) error {
	c.mu.Lock()

	if c.state == types.RiskStateEmergencyStopped {
		c.mu.Unlock()

		return errors.Newf(errors.ErrCodeEmergencyStopped,
			"emergency stopped: %s", c.stopReason)
	}

	c.state = types.RiskStateEmergencyStopped
	c.stopReason = reason
	c.stoppedAt = time.Now()
	liquidate := c.liquidate
	c.mu.Unlock()

	if liquidate != nil {
		if err := liquidate(ctx, types.CloseReasonMaxDrawdown); err != nil {
			c.log.Error("forced liquidation failed, position may remain open",
				zap.Error(err))
		}
	}

	return errors.Newf(errors.ErrCodeEmergencyStopped, "emergency stopped: %s", reason)
}

// AdjustExpected shifts the internally tracked quote balance by delta. The
// engine calls it after every verified fill so exclusive-mode verification
// compares against what this instance actually did.
func (c *Controller) AdjustExpected(delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expected += delta
}

// VerifyBalance compares the exchange's reported quote balance against the
// internally tracked expectation. Only meaningful in exclusive mode, where
// this instance is the sole writer to the account; in isolated mode other
// actors legitimately move the balance, so verification is skipped. On
// divergence beyond tolerance the expectation is re-anchored to reality and a
// BalanceMismatch error is returned for the caller to log.
func (c *Controller) VerifyBalance(ctx context.Context) error {
	c.mu.Lock()
	mode := c.mode
	expected := c.expected
	c.mu.Unlock()

	if mode != types.RiskModeExclusive {
		return nil
	}

	balance, err := c.exchange.FetchBalance(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBalanceFetchFailed,
			"balance verification fetch failed", err)
	}

	tolerance := math.Abs(expected) * balanceEpsilon
	diff := math.Abs(balance.Quote - expected)

	if diff <= tolerance {
		return nil
	}

	c.log.Warn("quote balance diverged from expectation, re-anchoring",
		zap.Float64("expected", expected),
		zap.Float64("actual", balance.Quote),
		zap.Float64("diff", diff))

	c.mu.Lock()
	c.expected = balance.Quote
	c.mu.Unlock()

	return errors.Newf(errors.ErrCodeBalanceMismatch,
		"expected quote balance %.2f, exchange reports %.2f", expected, balance.Quote)
}

// State returns the current lifecycle state.
func (c *Controller) State() types.RiskState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Mode returns the resolved ownership mode. Only meaningful after Start.
func (c *Controller) Mode() types.RiskMode {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.mode
}

// Baseline returns the anchored baseline value. Zero before Start.
func (c *Controller) Baseline() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.baseline
}

// Expected returns the internally tracked quote balance.
func (c *Controller) Expected() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.expected
}
