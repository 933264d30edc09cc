package subscription

import "errors"

var (
	ErrNotFound          = errors.New("subscription not found")
	ErrAlreadyExists     = errors.New("subscription already exists")
	ErrInvalidTransition = errors.New("invalid subscription transition")
	ErrUnknownPlan       = errors.New("unknown subscription plan")
	ErrPriceRefRequired  = errors.New("price ref is required for paid plans")
	ErrGateway           = errors.New("billing gateway request failed")
	ErrStore             = errors.New("subscription store failure")
)
