package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/quantum-soft-dev/data-forge-middleware/internal/auth"
	"github.com/quantum-soft-dev/data-forge-middleware/internal/metrics"
)

// Handlers groups every HTTP handler the server mounts. A single instance backs both path prefixes so agent and
// admin traffic share one set of repositories and dependencies regardless of which prefix a caller used.
type Handlers struct {
	Health   *HealthHandler
	Auth     *AuthHandler
	Batch    *BatchHandler
	Upload   *UploadHandler
	ErrorLog *ErrorLogHandler
	Account  *AccountHandler
	Site     *SiteHandler
	Dispatch *auth.Dispatcher
}

// RegisterRoutes mounts the agent and admin APIs under both supported path prefixes (the source carries two
// coexisting prefixes for the agent API; both are kept live rather than picking one as canonical). Every route is
// wired to the dispatch middleware per the auth dispatch table: write verbs on the agent surface require an agent
// token, GET verbs accept either an agent or admin token, and the whole admin surface requires an admin token.
func RegisterRoutes(app *fiber.App, h *Handlers) {
	app.Get("/health", h.Health.Health)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	for _, prefix := range []string{"/api/v1", "/api/dfc"} {
		mountAgentAPI(app.Group(prefix), h)
	}

	mountAdminAPI(app.Group("/api/admin"), h)

	// Catch-all: Fiber v3 treats a registered app.Use() middleware as a route match, so without a terminal handler an
	// unmatched request falls through every group and gets the default 200 with an empty body instead of a 404.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}

func mountAgentAPI(r fiber.Router, h *Handlers) {
	r.Post("/auth/token", h.Auth.Token)

	r.Post("/batch/start", h.Dispatch.AgentWrite(), h.Batch.Start)
	r.Get("/batch/:id", h.Dispatch.AgentRead(), h.Batch.Get)
	r.Post("/batch/:id/complete", h.Dispatch.AgentWrite(), h.Batch.Complete)
	r.Post("/batch/:id/fail", h.Dispatch.AgentWrite(), h.Batch.Fail)
	r.Post("/batch/:id/cancel", h.Dispatch.AgentWrite(), h.Batch.Cancel)
	r.Post("/batch/:id/upload", h.Dispatch.AgentWrite(), h.Upload.Upload)

	r.Post("/error", h.Dispatch.AgentWrite(), h.ErrorLog.ReportStandalone)
	r.Post("/error/:batchId", h.Dispatch.AgentWrite(), h.ErrorLog.ReportForBatch)
	r.Get("/error/log/:errorId", h.Dispatch.AgentRead(), h.ErrorLog.Get)
}

func mountAdminAPI(r fiber.Router, h *Handlers) {
	r.Use(h.Dispatch.AdminOnly())

	r.Get("/accounts", h.Account.List)
	r.Get("/accounts/:id", h.Account.Get)
	r.Post("/accounts", h.Account.Create)
	r.Patch("/accounts/:id", h.Account.Update)
	r.Post("/accounts/:id/deactivate", h.Account.Deactivate)

	r.Get("/sites", h.Site.List)
	r.Get("/sites/:id", h.Site.Get)
	r.Post("/sites", h.Site.Create)
	r.Patch("/sites/:id", h.Site.Update)
	r.Post("/sites/:id/deactivate", h.Site.Deactivate)

	r.Get("/batches", h.Batch.AdminList)
	r.Get("/batches/:id", h.Batch.AdminGetDetail)
	r.Delete("/batches/:id", h.Batch.AdminDelete)
	r.Get("/batches/:id/files/:fileId/download", h.Batch.AdminDownloadFile)
	r.Delete("/batches/:id/files/:fileId/blob", h.Batch.AdminDeleteFileBlob)

	r.Get("/errors", h.ErrorLog.AdminList)
	r.Get("/errors/export", h.ErrorLog.AdminExport)
}
