package httputil

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/apierrors"
)

// Success sends a 200 JSON response with the given data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(data)
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(data)
}

// Fail sends the structured error envelope required of every error response: status, error, message, path,
// timestamp. The HTTP status is always the status argument; it is not derived from code (pass
// apierrors.StatusFor(code) to use the code's default status).
func Fail(c fiber.Ctx, status int, code apierrors.Code, message string) error {
	return c.Status(status).JSON(apierrors.Envelope{
		Status:    status,
		Error:     code,
		Message:   message,
		Path:      c.Path(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
