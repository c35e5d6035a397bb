package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrUnsupportedKind  = errors.New("unsupported position kind")
	ErrStaleMarketData  = errors.New("market data is stale")
	ErrContextDone      = errors.New("context cancelled")
	ErrLockHeld         = errors.New("lock already held")
)
