package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the order core wraps exactly one of these so
// the transport layer can classify it with errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrExternal        = errors.New("external service failure")
)

var (
	ErrEmptyCart            = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrAddressNotOwned      = fmt.Errorf("%w: address not found for user", ErrNotFound)
	ErrOrderNotFound        = fmt.Errorf("%w: order not found", ErrNotFound)
	ErrProductNotFound      = fmt.Errorf("%w: product not found", ErrNotFound)
	ErrSubscriptionNotFound = fmt.Errorf("%w: subscription not found", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrInsufficientStock    = fmt.Errorf("%w: insufficient stock", ErrConflict)
	ErrProductUnavailable   = fmt.Errorf("%w: product unavailable", ErrConflict)
	ErrAlreadyRefunded      = fmt.Errorf("%w: order already refunded", ErrConflict)
	ErrNotPaid              = fmt.Errorf("%w: order is not paid", ErrConflict)
	ErrInvalidTransition    = fmt.Errorf("%w: invalid state transition", ErrConflict)
	ErrInvalidSignature     = fmt.Errorf("%w: invalid webhook signature", ErrUnauthenticated)
)

// StockError describes the line that failed a stock check.
type StockError struct {
	ProductID string
	Requested int
	Available int
	Err       error
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%v: product %s requested %d available %d", e.Err, e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return e.Err }
