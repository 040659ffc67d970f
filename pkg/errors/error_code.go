package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Configuration errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidRange         ErrorCode = 102
	ErrCodeInvalidCredentials   ErrorCode = 103
	ErrCodeInvalidMode          ErrorCode = 104
	ErrCodeInvalidIntent        ErrorCode = 105

	// Data/Feed errors (200-299)
	ErrCodeDataNotFound    ErrorCode = 200
	ErrCodeFeedUnavailable ErrorCode = 201
	ErrCodeQueryFailed     ErrorCode = 202
	ErrCodeFeedClosed      ErrorCode = 203

	// Ledger errors (300-399)
	ErrCodeInsufficientFunds    ErrorCode = 300
	ErrCodeInsufficientPosition ErrorCode = 301
	ErrCodeLedgerStorage        ErrorCode = 302

	// Execution errors (400-499)
	ErrCodeOrderRejected    ErrorCode = 400
	ErrCodeTransportFailure ErrorCode = 401
	ErrCodeRetryExhausted   ErrorCode = 402
	ErrCodePendingExpired   ErrorCode = 403

	// Engine errors (500-599)
	ErrCodeEngineNotIdle    ErrorCode = 500
	ErrCodeEngineFaulted    ErrorCode = 501
	ErrCodeMissingComponent ErrorCode = 502

	// Benchmark/market data errors (600-699)
	ErrCodeBenchmarkFetchFailed ErrorCode = 600
	ErrCodeBenchmarkParseFailed ErrorCode = 601
)
