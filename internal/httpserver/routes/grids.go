package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/openviewer/gridman/internal/httpserver/deps"
	"github.com/openviewer/gridman/internal/httpserver/handlers"
	"github.com/openviewer/gridman/internal/httpserver/mw"
)

func init() { Register(registerGrids) }

func registerGrids(r chi.Router, d deps.Deps) {
	guarded := r.With(
		mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger),
		mw.EnforceHost(d.AllowedHosts, d.Logger),
	)

	guarded.Get("/grids", handlers.ListGrids(d))
	guarded.Get("/grids/current", handlers.CurrentGrid(d))
	guarded.Post("/grids", handlers.AddGrid(d))
	guarded.Post("/grids/select", handlers.SelectGrid(d))
	guarded.Delete("/grids/{key}", handlers.RemoveGrid(d))
}
