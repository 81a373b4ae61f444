package subscription

import "errors"

var (
	ErrNotActive          = errors.New("subscription is not active")
	ErrAlreadyActive      = errors.New("subscription is already active")
	ErrInvalidDuration    = errors.New("duration must be positive")
	ErrTokenRequired      = errors.New("token is required")
	ErrTariffRequired     = errors.New("tariff id is required")
	ErrOverLimitNotActive = errors.New("cannot clear over-limit state on an inactive subscription")
)
