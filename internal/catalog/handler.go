package catalog

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

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.List(r.Context())
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, products)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	product, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, product)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if err := h.requireSeller(r); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	var in ProductInput
	if err := web.Decode(r, &in); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	product, err := h.svc.Create(r.Context(), in)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusCreated, product)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if err := h.requireSeller(r); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	var in ProductInput
	if err := web.Decode(r, &in); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	product, err := h.svc.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, product)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.requireSeller(r); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	if err := h.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) requireSeller(r *http.Request) error {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		return err
	}
	return access.Require(caller)
}
