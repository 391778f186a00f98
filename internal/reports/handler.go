package reports

import (
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/salesflow/internal/access"
	"github.com/joao-fontenele/salesflow/internal/web"
)

type Handler struct {
	svc    *Service
	auth   web.Identifier
	logger *slog.Logger
}

func NewHandler(svc *Service, auth web.Identifier, logger *slog.Logger) *Handler {
	return &Handler{
		svc:    svc,
		auth:   auth,
		logger: logger,
	}
}

// HandleTopClients and HandleTopSellers rank across every seller, so they
// are open to any signed-in seller but not to anonymous callers.
func (h *Handler) HandleTopClients(w http.ResponseWriter, r *http.Request) {
	limit, err := h.authorize(r, DefaultTopClients)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	ranked, err := h.svc.TopClients(r.Context(), limit)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, ranked)
}

func (h *Handler) HandleTopSellers(w http.ResponseWriter, r *http.Request) {
	limit, err := h.authorize(r, DefaultTopSellers)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	ranked, err := h.svc.TopSellers(r.Context(), limit)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, ranked)
}

func (h *Handler) HandleSearchProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := web.Limit(r, DefaultSearch)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	products, err := h.svc.SearchProducts(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, products)
}

func (h *Handler) authorize(r *http.Request, def int) (int, error) {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		return 0, err
	}
	if err := access.Require(caller); err != nil {
		return 0, err
	}
	return web.Limit(r, def)
}
