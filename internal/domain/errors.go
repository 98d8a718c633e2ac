package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers at the boundary.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	// KindInvalidOperation marks integrity failures, e.g. overselling after payment.
	KindInvalidOperation
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidOperation:
		return "invalid_operation"
	case KindExternal:
		return "external_service"
	default:
		return "internal"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	default:
		return e.Msg
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrBasketNotFound         = &Error{Kind: KindNotFound, Msg: "basket not found"}
	ErrItemNotFound           = &Error{Kind: KindNotFound, Msg: "item not found in basket"}
	ErrProductNotFound        = &Error{Kind: KindNotFound, Msg: "product not found"}
	ErrDeliveryMethodNotFound = &Error{Kind: KindNotFound, Msg: "delivery method not found"}
	ErrDiscountNotFound       = &Error{Kind: KindNotFound, Msg: "discount not found"}
	ErrOrderNotFound          = &Error{Kind: KindNotFound, Msg: "order not found"}

	ErrEmptyBasket         = &Error{Kind: KindConflict, Msg: "basket is empty"}
	ErrInsufficientStock   = &Error{Kind: KindConflict, Msg: "insufficient stock"}
	ErrDiscountUnavailable = &Error{Kind: KindConflict, Msg: "discount is not available"}
	ErrIntentMissing       = &Error{Kind: KindConflict, Msg: "basket has no payment intent"}
	ErrDuplicateIntent     = &Error{Kind: KindConflict, Msg: "an order already references this payment intent"}
	ErrIllegalTransition   = &Error{Kind: KindConflict, Msg: "illegal transition of order status"}

	ErrOversell = &Error{Kind: KindInvalidOperation, Msg: "stock would go negative"}
)

// Wrap attaches an operation and detail to a sentinel while keeping it matchable.
func Wrap(sentinel *Error, op, detail string) error {
	return &Error{Kind: sentinel.Kind, Op: op, Msg: detail, Err: sentinel}
}

func Validation(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Msg: msg}
}

func External(op string, err error) error {
	return &Error{Kind: KindExternal, Op: op, Msg: "external service failed", Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
