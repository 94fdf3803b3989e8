package services

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Error taxonomy shared by all services. Handlers map these onto HTTP status
// codes; callers inside the core match with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidState  = errors.New("invalid state")
	ErrDuplicate     = errors.New("duplicate")
	ErrValidation    = errors.New("validation failed")
	ErrConfiguration = errors.New("configuration error")
)

// StatusForError maps a core error onto the HTTP status the gateway expects.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrInvalidState):
		return fiber.StatusConflict
	case errors.Is(err, ErrDuplicate):
		return fiber.StatusConflict
	case errors.Is(err, ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrConfiguration):
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusInternalServerError
	}
}
