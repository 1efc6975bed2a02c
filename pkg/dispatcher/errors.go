package dispatcher

// Wire error codes carried in the Error message's code field.
const (
	CodeProtocolError    = "PROTOCOL_ERROR"
	CodeUnknownKey       = "UNKNOWN_KEY"
	CodeKindMismatch     = "KIND_MISMATCH"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeExecutionError   = "EXECUTION_ERROR"
)
