package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrderRequest  ErrorCode = 102
	ErrCodeInvalidQuantity      ErrorCode = 103
	ErrCodeInvalidPrice         ErrorCode = 104
	ErrCodeUnknownSymbol        ErrorCode = 105

	// Gateway/transport errors (200-299)
	ErrCodeGatewayUnavailable ErrorCode = 200
	ErrCodeGatewaySubmit      ErrorCode = 201
	ErrCodeGatewayCancel      ErrorCode = 202
	ErrCodeGatewayStream      ErrorCode = 203
	ErrCodeGatewayDisconnect  ErrorCode = 204
	ErrCodeGatewayQuery       ErrorCode = 205

	// Order lifecycle errors (300-399)
	ErrCodeOrderNotFound     ErrorCode = 300
	ErrCodeOrderTerminal     ErrorCode = 301
	ErrCodeDuplicateFill     ErrorCode = 302
	ErrCodeIllegalTransition ErrorCode = 303
	ErrCodeCancelNotAllowed  ErrorCode = 304
	ErrCodeAckTimeout        ErrorCode = 305
	ErrCodeSymbolHalted      ErrorCode = 306
	ErrCodeOverfill          ErrorCode = 307
	ErrCodeMissedFill        ErrorCode = 308

	// Ledger errors (400-499)
	ErrCodeLedgerApply  ErrorCode = 400
	ErrCodeFillSymbol   ErrorCode = 401
	ErrCodeFillQuantity ErrorCode = 402

	// Reconciliation errors (500-599)
	ErrCodeReconciliationMismatch ErrorCode = 500
	ErrCodeReconciliationQuery    ErrorCode = 501

	// Engine errors (600-699)
	ErrCodeEngineInitFailed ErrorCode = 600
	ErrCodeEngineConfig     ErrorCode = 601
	ErrCodeEngineNoStrategy ErrorCode = 602
	ErrCodeEngineNoData     ErrorCode = 603
	ErrCodeStrategyRuntime  ErrorCode = 604
	ErrCodeStoreFailed      ErrorCode = 605

	// Market data errors (700-799)
	ErrCodeMarketDataFetchFailed ErrorCode = 700
	ErrCodeMarketDataParseFailed ErrorCode = 701
	ErrCodeMalformedBar          ErrorCode = 702
	ErrCodeInvalidInterval       ErrorCode = 703
	ErrCodeInvalidProvider       ErrorCode = 704
)
