package types

// RiskState is the lifecycle state of a risk controller. Transitions are
// monotonic: STARTING -> ACTIVE -> EMERGENCY_STOPPED. EMERGENCY_STOPPED is
// terminal for the process lifetime of the engine instance; only an external
// manual restart leaves it.
type RiskState string

const (
	RiskStateStarting         RiskState = "STARTING"
	RiskStateActive           RiskState = "ACTIVE"
	RiskStateEmergencyStopped RiskState = "EMERGENCY_STOPPED"
)

// RiskMode distinguishes whether an engine instance owns a carved-out slice
// of capital or the entire account balance.
type RiskMode string

const (
	// RiskModeAuto lets the controller infer the mode from the ratio of
	// allocated budget to observed total balance. Preserved as documented
	// behavior; an explicit mode is preferred.
	RiskModeAuto RiskMode = ""
	// RiskModeIsolated tracks P&L and drawdown purely from this engine's own
	// trade history against the allocated budget
	RiskModeIsolated RiskMode = "isolated"
	// RiskModeExclusive tracks drawdown against the full account balance
	RiskModeExclusive RiskMode = "exclusive"
)
