package failure

// ErrorCode is the fixed vocabulary a node execution failure is classified
// into, mirrored from the source's execution_result.ErrorCode enum.
type ErrorCode string

const (
	ErrorTimeout            ErrorCode = "TIMEOUT"
	ErrorNetwork            ErrorCode = "NETWORK_ERROR"
	ErrorRateLimited        ErrorCode = "RATE_LIMITED"
	ErrorResourceExhausted  ErrorCode = "RESOURCE_EXHAUSTED"
	ErrorValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrorPermissionDenied   ErrorCode = "PERMISSION_DENIED"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
	ErrorDependencyFailed   ErrorCode = "DEPENDENCY_FAILED"
	ErrorDataMissing        ErrorCode = "DATA_MISSING"
)

// retryable holds the fixed error-code-to-retryable map. VALIDATION_FAILED
// and PERMISSION_DENIED are excluded deliberately: both require user
// intervention, not a retry.
var retryable = map[ErrorCode]bool{
	ErrorTimeout:           true,
	ErrorNetwork:           true,
	ErrorRateLimited:       true,
	ErrorResourceExhausted: true,
	ErrorValidationFailed:  false,
	ErrorPermissionDenied:  false,
	ErrorInternal:          false,
	ErrorDependencyFailed:  false,
	ErrorDataMissing:       false,
}

// IsRetryable reports whether this error code's failures are worth a
// retry. Unknown codes are treated as non-retryable.
func (c ErrorCode) IsRetryable() bool {
	return retryable[c]
}
