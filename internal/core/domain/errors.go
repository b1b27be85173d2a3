package domain

import "errors"

var (
	ErrParseFailed      = errors.New("failed to parse SQL")
	ErrUnsafeSQL        = errors.New("query rejected by safety policy")
	ErrMalformedSQL     = errors.New("query could not be classified")
	ErrEmptyIdentity    = errors.New("empty client identity")
	ErrQuotaExceeded    = errors.New("daily request quota exceeded")
	ErrStoreUnavailable = errors.New("quota store unavailable")
	ErrGeneratorRefused = errors.New("generator declined to produce SQL")
	ErrExecutionFailed  = errors.New("query execution failed")
)
