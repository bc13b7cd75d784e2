package models

import "errors"

// Error taxonomy shared by the store, engine and API layers. Callers
// classify with errors.Is; wrapped messages carry the detail.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
)
