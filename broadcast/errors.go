package broadcast

import "strings"

// RpcErrorType classifies a wire-level RPC error into the closed set of
// kinds the broadcaster and engine reason about. Classification is a
// case-insensitive substring match against the error message, mirroring
// how the underlying JSON-RPC node reports these conditions as free text
// rather than a structured code.
type RpcErrorType int

const (
	ErrOther RpcErrorType = iota
	ErrAlreadyProcessed
	ErrDuplicateSignature
	ErrBlockhashNotFound
	ErrTransactionExpired
	ErrNodeBehind
	ErrSlotSkew
	ErrRateLimited
	ErrTooManyRequests
	ErrTimeout
)

func (t RpcErrorType) String() string {
	switch t {
	case ErrAlreadyProcessed:
		return "already_processed"
	case ErrDuplicateSignature:
		return "duplicate_signature"
	case ErrBlockhashNotFound:
		return "blockhash_not_found"
	case ErrTransactionExpired:
		return "transaction_expired"
	case ErrNodeBehind:
		return "node_behind"
	case ErrSlotSkew:
		return "slot_skew"
	case ErrRateLimited:
		return "rate_limited"
	case ErrTooManyRequests:
		return "too_many_requests"
	case ErrTimeout:
		return "timeout"
	default:
		return "other"
	}
}

// IsSoftSuccess reports whether an error of this type should be treated
// by the engine as a successful submission (the chain already has the
// intended effect).
func (t RpcErrorType) IsSoftSuccess() bool {
	return t == ErrAlreadyProcessed || t == ErrDuplicateSignature
}

// IsFatalForBatch reports whether this error type should count toward
// the early-cancellation threshold (continuing the race is wasted work).
func (t RpcErrorType) IsFatalForBatch() bool {
	return t == ErrBlockhashNotFound || t == ErrTransactionExpired
}

// ClassifiedError pairs the classified kind with the message text of the
// original error it was classified from.
type ClassifiedError struct {
	Type    RpcErrorType
	Message string
}

func (e *ClassifiedError) Error() string {
	return e.Message
}

// classify matches err's message against known substrings, in the order
// given here (first match wins). Unmatched errors classify as ErrOther.
func classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "already been processed"), strings.Contains(lower, "already processed"):
		return &ClassifiedError{Type: ErrAlreadyProcessed, Message: msg}
	case strings.Contains(lower, "duplicate signature"):
		return &ClassifiedError{Type: ErrDuplicateSignature, Message: msg}
	case strings.Contains(lower, "blockhash not found"):
		return &ClassifiedError{Type: ErrBlockhashNotFound, Message: msg}
	case strings.Contains(lower, "transaction expired") || strings.Contains(lower, "transaction has expired"):
		return &ClassifiedError{Type: ErrTransactionExpired, Message: msg}
	case strings.Contains(lower, "node is behind") || strings.Contains(lower, "node behind"):
		return &ClassifiedError{Type: ErrNodeBehind, Message: msg}
	case strings.Contains(lower, "slot skew") || strings.Contains(lower, "minimum context slot"):
		return &ClassifiedError{Type: ErrSlotSkew, Message: msg}
	case strings.Contains(lower, "rate limit"):
		return &ClassifiedError{Type: ErrRateLimited, Message: msg}
	case strings.Contains(lower, "too many requests"):
		return &ClassifiedError{Type: ErrTooManyRequests, Message: msg}
	case strings.Contains(lower, "deadline exceeded"), strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return &ClassifiedError{Type: ErrTimeout, Message: msg}
	default:
		return &ClassifiedError{Type: ErrOther, Message: msg}
	}
}
