package payment

import "errors"

var (
	ErrNotFound      = errors.New("payment not found")
	ErrAlreadyExists = errors.New("payment already exists")
	ErrGateway       = errors.New("payment gateway request failed")
	ErrStore         = errors.New("payment store failure")
	ErrNotRefundable = errors.New("payment is not refundable")
)
