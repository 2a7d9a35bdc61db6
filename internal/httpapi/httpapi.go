// Package httpapi is the thin chi-based HTTP surface of §6.1: it maps the
// REST interaction table (read/vread/history/create/update/patch/delete,
// their conditional variants, and search) onto internal/crud,
// internal/search, internal/history, and internal/terminology, translating
// their typed errors into FHIR OperationOutcome bodies and the status
// codes of §7. Content negotiation itself is out of core scope (spec.md
// §1 Non-goals) — every response is application/fhir+json.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/robertoaraneda/gofhir/internal/crud"
	"github.com/robertoaraneda/gofhir/internal/history"
	"github.com/robertoaraneda/gofhir/internal/search"
	"github.com/robertoaraneda/gofhir/internal/terminology"
)

// Server holds the collaborators the router dispatches to. None of them
// are constructed here — cmd/gofhir's serve command wires concrete
// instances (store, search.Service, crud.Service, ...) and passes them in.
type Server struct {
	CRUD        *crud.Service
	Search      *search.Service
	History     *history.Service
	Terminology *terminology.Service
	Log         *slog.Logger

	// ResourceTypes lists every resource type this deployment serves. No
	// handler reads it: system-wide search returns NotImplemented and
	// system-wide history is not filtered by it.
	ResourceTypes []string

	// MultiDelete enables conditional delete to proceed when more than
	// one resource matches rather than rejecting with PreconditionFailed
	// (§4.6); off by default, matching the spec's stricter single-match
	// reading.
	MultiDelete bool
}

// NewRouter builds the chi.Router implementing the §6.1 interaction table.
func (srv *Server) NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(srv.requestLogger)

	r.Get("/_history", srv.handleSystemHistory)
	r.Delete("/", srv.handleSystemDelete)
	r.Get("/", srv.handleSystemSearch)

	r.Route("/{type}", func(rt chi.Router) {
		rt.Post("/", srv.handleCreate)
		rt.Get("/", srv.handleTypeSearch)
		rt.Put("/", srv.handleConditionalUpdate)
		rt.Patch("/", srv.handleConditionalPatch)
		rt.Delete("/", srv.handleConditionalDelete)
		rt.Get("/_history", srv.handleTypeHistory)

		rt.Post("/{id}/${op}", srv.handleInstanceOperation)
		rt.Post("/${op}", srv.handleTypeOperation)

		rt.Route("/{id}", func(ri chi.Router) {
			ri.Get("/", srv.handleRead)
			ri.Head("/", srv.handleRead)
			ri.Put("/", srv.handleUpdate)
			ri.Patch("/", srv.handlePatch)
			ri.Delete("/", srv.handleDelete)
			ri.Get("/_history", srv.handleInstanceHistory)
			ri.Get("/_history/{vid}", srv.handleVRead)
			ri.Head("/_history/{vid}", srv.handleVRead)
		})
	})

	return r
}

func (srv *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		srv.Log.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(req.Context()),
		)
	})
}
