package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidSignal        ErrorCode = 103
	ErrCodeUnknownStrategy      ErrorCode = 104

	// Exchange errors (200-299)
	ErrCodeExchangeUnavailable  ErrorCode = 200
	ErrCodeOrderFailed          ErrorCode = 201
	ErrCodeOrderUnfilled        ErrorCode = 202
	ErrCodeOrderCancelFailed    ErrorCode = 203
	ErrCodeStopOrderUnsupported ErrorCode = 204
	ErrCodeBalanceFetchFailed   ErrorCode = 205
	ErrCodeTickerFetchFailed    ErrorCode = 206
	ErrCodeOrderNotFound        ErrorCode = 207
	ErrCodeInsufficientBalance  ErrorCode = 208

	// Ledger errors (300-399)
	ErrCodePositionAlreadyOpen ErrorCode = 300
	ErrCodeNoOpenPosition      ErrorCode = 301
	ErrCodeOrderTooSmall       ErrorCode = 302

	// Risk errors (400-499)
	ErrCodeEmergencyStopped       ErrorCode = 400
	ErrCodeBaselineNotEstablished ErrorCode = 401
	ErrCodeLiquidationFailed      ErrorCode = 402

	// Reconciliation errors (500-599)
	ErrCodeReconcileFailed ErrorCode = 500
	ErrCodeBalanceMismatch ErrorCode = 501

	// Simulation errors (600-699)
	ErrCodeEmptySeries       ErrorCode = 600
	ErrCodeSimulationFailed  ErrorCode = 601
	ErrCodeSeriesOutOfOrder  ErrorCode = 602
	ErrCodeInsufficientFunds ErrorCode = 603

	// Market data errors (700-799)
	ErrCodeMarketDataFetchFailed ErrorCode = 700
	ErrCodeMarketDataParseFailed ErrorCode = 701
	ErrCodeStreamClosed          ErrorCode = 702

	// Journal errors (800-899)
	ErrCodeJournalInitFailed  ErrorCode = 800
	ErrCodeJournalWriteFailed ErrorCode = 801
	ErrCodeJournalQueryFailed ErrorCode = 802
)
