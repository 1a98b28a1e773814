package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrTradingClosed        = errors.New("trading closed")
	ErrAccountNotLinked     = errors.New("account not linked")
	ErrAlreadyResolved      = errors.New("market already resolved")
	ErrNoMarketFeatured     = errors.New("no market featured")
	ErrUnsupportedMechanism = errors.New("unsupported market mechanism")
	ErrControlCycle         = errors.New("linked-control graph must be acyclic")
	ErrFeedDisconnected     = errors.New("change feed disconnected")
)
