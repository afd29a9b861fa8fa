package domain

import "errors"

// ErrorKind is the closed set of failure categories the settlement service
// reports. The HTTP boundary switches over every value.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindAlreadyOwned
	KindAmountMismatch
	KindGatewayUnavailable
	KindGatewayRejected
	KindInvalidSignature
	KindAlreadySettled
	KindAlreadyExists
	KindInvalidArgument
	KindInvalidState
	KindConflict
	KindRateLimited
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyOwned:
		return "already_owned"
	case KindAmountMismatch:
		return "amount_mismatch"
	case KindGatewayUnavailable:
		return "gateway_unavailable"
	case KindGatewayRejected:
		return "gateway_rejected"
	case KindInvalidSignature:
		return "invalid_signature"
	case KindAlreadySettled:
		return "already_settled"
	case KindAlreadyExists:
		return "already_exists"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidState:
		return "invalid_state"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a domain error carrying its kind. Sentinels below are compared with
// errors.Is; wrap them with fmt.Errorf("...: %w", err) to add context.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newErr(kind ErrorKind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

var (
	ErrNotFound           = newErr(KindNotFound, "entity not found")
	ErrCourseNotFound     = newErr(KindNotFound, "course not found")
	ErrIntentNotFound     = newErr(KindNotFound, "payment intent not found")
	ErrAlreadyOwned       = newErr(KindAlreadyOwned, "course already purchased")
	ErrAmountMismatch     = newErr(KindAmountMismatch, "pricing error: amount does not match course price")
	ErrGatewayUnavailable = newErr(KindGatewayUnavailable, "payment provider unavailable")
	ErrGatewayRejected    = newErr(KindGatewayRejected, "payment provider rejected the request")
	ErrInvalidSignature   = newErr(KindInvalidSignature, "invalid webhook signature")
	ErrAlreadySettled     = newErr(KindAlreadySettled, "already settled")
	ErrAlreadyExists      = newErr(KindAlreadyExists, "entity already exists")
	ErrInvalidArgument    = newErr(KindInvalidArgument, "invalid argument")
	ErrInvalidState       = newErr(KindInvalidState, "payment intent is already settled")
	ErrPurchaseInProgress = newErr(KindConflict, "purchase already in progress")
	ErrRateLimited        = newErr(KindRateLimited, "too many requests")

	// storage
	ErrInvalidExecContext = newErr(KindInternal, "invalid execution context")
	ErrOperationFailed    = newErr(KindInternal, "database operation failed")
	ErrReadDatabaseRow    = newErr(KindInternal, "failed to read database row")
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}
