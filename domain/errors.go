package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotFound          = errors.New("not found")
	ErrInvalidItem       = errors.New("invalid item")
	ErrAlreadyReceived   = errors.New("already received")
	ErrTerminalOrder     = errors.New("terminal order")
	ErrEmptyCart         = errors.New("empty cart")
	ErrValidation        = errors.New("validation failed")
)

// Error carries a kind and a caller-facing message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InsufficientStock(medicineID, available, requested int64) error {
	return Errorf(ErrInsufficientStock, "insufficient stock for medicine %d, available: %d, requested: %d", medicineID, available, requested)
}

func NotFound(entity string, id int64) error {
	return Errorf(ErrNotFound, "%s %d not found", entity, id)
}
