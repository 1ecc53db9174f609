package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/amethystdeterministic-glitch/PILGRIM/pkg/attest"
)

// RouterConfig wires the bridge. Authenticate guards /run and
// /receipts/verify; when it is nil those routes answer 401.
type RouterConfig struct {
	Service      *attest.Service
	Version      string
	Authenticate func(http.Handler) http.Handler
	Subject      SubjectFunc
	Limiter      *RateLimiter
	Middleware   []func(http.Handler) http.Handler
}

// NewRouter builds the bridge routes.
func NewRouter(cfg RouterConfig) http.Handler {
	h := &Handler{svc: cfg.Service, version: cfg.Version, subject: cfg.Subject}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range cfg.Middleware {
		r.Use(mw)
	}
	if cfg.Limiter != nil {
		r.Use(cfg.Limiter.Middleware)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { WriteNotFound(w, "no such route") })
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { WriteMethodNotAllowed(w) })

	r.Get("/health", h.health)
	r.Get("/manifest", h.manifest)
	r.Post("/verify", h.verify)
	r.Post("/seal", h.seal)
	r.Get("/ledger/verify", h.verifyLedger)
	r.Route("/ledger/records", func(r chi.Router) {
		r.Get("/", h.listRecords)
		r.Get("/{index}", h.getRecord)
	})

	r.Group(func(r chi.Router) {
		if cfg.Authenticate != nil {
			r.Use(cfg.Authenticate)
		} else {
			r.Use(func(http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					WriteUnauthorized(w, "Authentication not configured")
				})
			})
		}
		r.Post("/run", h.run)
		r.Post("/receipts/verify", h.verifyReceipt)
	})
	return r
}
