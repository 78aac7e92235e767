package domain

import "errors"

var (
	ErrAuthRequired       = errors.New("authentication required")
	ErrStaleReference     = errors.New("address or store is no longer valid")
	ErrGatewayUnavailable = errors.New("commerce gateway unavailable")
	ErrValidationConflict = errors.New("cart needs attention before checkout")
	ErrFatalCheckout      = errors.New("order created but payment cannot proceed")
	ErrUserCancelled      = errors.New("cancelled by user")

	ErrCartRetired       = errors.New("cart is tied to a placed order")
	ErrCartNotFound      = errors.New("cart not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrNoActiveCart      = errors.New("no active cart")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrPopupBlocked      = errors.New("payment window could not be opened")
)

// NextAction tells the user what to do after a terminal failure.
type NextAction string

const (
	ActionNone            NextAction = ""
	ActionSignIn          NextAction = "sign_in"
	ActionReselectAddress NextAction = "reselect_address"
	ActionResolveCart     NextAction = "resolve_cart"
	ActionTryAgain        NextAction = "try_again"
	ActionCheckOrders     NextAction = "check_orders"
	ActionContactSupport  NextAction = "contact_support"
)

func NextActionFor(err error) NextAction {
	switch {
	case err == nil:
		return ActionNone
	case errors.Is(err, ErrAuthRequired):
		return ActionSignIn
	case errors.Is(err, ErrStaleReference):
		return ActionReselectAddress
	case errors.Is(err, ErrValidationConflict):
		return ActionResolveCart
	case errors.Is(err, ErrFatalCheckout):
		return ActionContactSupport
	case errors.Is(err, ErrPopupBlocked), errors.Is(err, ErrUserCancelled), errors.Is(err, ErrGatewayUnavailable):
		return ActionTryAgain
	}
	return ActionTryAgain
}
