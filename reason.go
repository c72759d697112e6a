package beacon

// DropReason explains why queued data was discarded instead of delivered.
type DropReason string

const (
	// ReasonRetryExhausted means the item failed more than MaxRetries times.
	ReasonRetryExhausted DropReason = "retry_exhausted"
	// ReasonNonRetryable means the failure classifier refused another attempt.
	ReasonNonRetryable DropReason = "non_retryable"
	// ReasonDisabled means the agent was disabled with data still in memory.
	ReasonDisabled DropReason = "disabled"
	// ReasonEncryptFailed means the encryption hook rejected a payload.
	ReasonEncryptFailed DropReason = "encrypt_failed"
	// ReasonUndecodable means a durable record could not be decoded.
	ReasonUndecodable DropReason = "undecodable"
)
