package moneybox

import "errors"

// Domain errors. These are business-rule violations surfaced synchronously
// to the caller and never retried.
var (
	// ErrInvalidAmount is returned when an amount is not positive or carries
	// more precision than the fixed-point representation allows.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientFunds is returned when a withdrawal or transfer exceeds
	// the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrSameAccount is returned when a transfer names the same login on
	// both sides.
	ErrSameAccount = errors.New("sender and target logins must differ")
	// ErrUnknownAccount is returned when an operation references a login
	// without an account.
	ErrUnknownAccount = errors.New("unknown account")
)

// ErrPermanentDelivery marks a delivery failure that retrying cannot fix,
// such as a payload the consumer cannot process. A deliverer returns it
// (wrapped) to park the event immediately instead of burning the retry
// budget.
var ErrPermanentDelivery = errors.New("permanent delivery failure")
