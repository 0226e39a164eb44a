package core

import "errors"

var (
	ErrEmptySymbol     = errors.New("empty symbol")
	ErrInvalidInterval = errors.New("invalid interval")
)
