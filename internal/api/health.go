package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/httputil"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/objectstore"
)

// HealthHandler serves the unauthenticated health check endpoint.
type HealthHandler struct {
	DB    *pgxpool.Pool
	Store objectstore.StorageProvider
}

// Health pings Postgres and the object store concurrently, returning component status.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	pgStatus, storeStatus := "ok", "ok"

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := h.DB.Ping(gctx); err != nil {
			pgStatus = "unavailable"
		}
		return nil
	})
	g.Go(func() error {
		if err := h.Store.Ping(gctx); err != nil {
			storeStatus = "unavailable"
		}
		return nil
	})
	_ = g.Wait()

	overall := "ok"
	status := fiber.StatusOK
	if pgStatus != "ok" || storeStatus != "ok" {
		overall = "degraded"
		status = fiber.StatusServiceUnavailable
	}

	return httputil.SuccessStatus(c, status, fiber.Map{
		"status":      overall,
		"postgres":    pgStatus,
		"objectStore": storeStatus,
	})
}
