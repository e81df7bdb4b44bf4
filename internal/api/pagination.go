package api

import "github.com/gofiber/fiber/v3"

// Paginator resolves limit/offset query parameters against server-configured defaults and ceilings.
type Paginator struct {
	DefaultLimit int
	MaxLimit     int
}

// Parse reads "limit" and "offset" from the request query string, applying the configured default and ceiling.
func (p Paginator) Parse(c fiber.Ctx) (limit, offset int) {
	limit = fiber.Query(c, "limit", p.DefaultLimit)
	if limit <= 0 {
		limit = p.DefaultLimit
	}
	if limit > p.MaxLimit {
		limit = p.MaxLimit
	}

	offset = fiber.Query(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
