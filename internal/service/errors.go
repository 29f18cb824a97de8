package service

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrInvalidLogin    = errors.New("invalid email or password")
	ErrInvalidExchange = errors.New("exchange credentials rejected")
)
