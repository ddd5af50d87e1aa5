package conversation

// RecoveryErrorCode is the taxonomy used when planning ERROR_RECOVERY
// decisions from the feedback inbox — distinct from failure.ErrorCode,
// which classifies node-execution outcomes; this one classifies what the
// Conversation agent's reasoning loop is being asked to react to.
type RecoveryErrorCode string

const (
	RecoveryTimeout            RecoveryErrorCode = "TIMEOUT"
	RecoveryAPIFailure         RecoveryErrorCode = "API_FAILURE"
	RecoveryRateLimited        RecoveryErrorCode = "RATE_LIMITED"
	RecoveryDataMissing        RecoveryErrorCode = "DATA_MISSING"
	RecoveryValidationError    RecoveryErrorCode = "VALIDATION_ERROR"
	RecoveryPermissionDenied   RecoveryErrorCode = "PERMISSION_DENIED"
	RecoveryResourceExhausted RecoveryErrorCode = "RESOURCE_EXHAUSTED"
	RecoveryUnknown            RecoveryErrorCode = "UNKNOWN"
)

var recoveryRetryable = map[RecoveryErrorCode]bool{
	RecoveryTimeout:     true,
	RecoveryAPIFailure:  true,
	RecoveryRateLimited: true,
}

var recoveryNeedsUser = map[RecoveryErrorCode]bool{
	RecoveryDataMissing:      true,
	RecoveryValidationError:  true,
	RecoveryPermissionDenied: true,
	RecoveryUnknown:          true,
}

// IsRetryable reports whether the reasoning loop should attempt an
// automatic retry for this error code.
func (c RecoveryErrorCode) IsRetryable() bool { return recoveryRetryable[c] }

// RequiresUserIntervention reports whether this error code should stop
// automatic recovery and surface to the user instead.
func (c RecoveryErrorCode) RequiresUserIntervention() bool { return recoveryNeedsUser[c] }
