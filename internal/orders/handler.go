package orders

import (
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/salesflow/internal/domain"
	"github.com/joao-fontenele/salesflow/internal/web"
)

type Handler struct {
	engine *Engine
	auth   web.Identifier
	logger *slog.Logger
}

func NewHandler(engine *Engine, auth web.Identifier, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		auth:   auth,
		logger: logger,
	}
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	var in OrderInput
	if err := web.Decode(r, &in); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	order, err := h.engine.Create(r.Context(), in, caller)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	order, err := h.engine.Get(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	var in OrderInput
	if err := web.Decode(r, &in); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	order, err := h.engine.Update(r.Context(), r.PathValue("id"), in, caller)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	var req updateStatusRequest
	if err := web.Decode(r, &req); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	order, err := h.engine.SetStatus(r.Context(), r.PathValue("id"), req.Status, caller)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	if err := h.engine.Delete(r.Context(), r.PathValue("id"), caller); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleListAll must be mounted behind web.AdminOnly.
func (h *Handler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	orders, err := h.engine.ListAll(r.Context())
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	web.WriteJSON(w, h.logger, http.StatusOK, orders)
}

// HandleListMine lists the caller's orders; ?status= narrows to one status.
func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	var orders []domain.Order
	if status := r.URL.Query().Get("status"); status != "" {
		orders, err = h.engine.ListByStatus(r.Context(), domain.OrderStatus(status), caller)
	} else {
		orders, err = h.engine.ListMine(r.Context(), caller)
	}
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, orders)
}
