package service

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyExists = errors.New("order already exists")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrPaymentConflict    = errors.New("payment confirmed against a closed or diverged order")
)
