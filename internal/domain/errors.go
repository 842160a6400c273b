package domain

import "errors"

var (
	ErrAlreadyRunning   = errors.New("engine already running")
	ErrNotRunning       = errors.New("engine not running")
	ErrOrderRejected    = errors.New("order rejected")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrSymbolNotFound   = errors.New("symbol not found")
)
