package clients

import (
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/salesflow/internal/web"
)

type Handler struct {
	dir    *Directory
	auth   web.Identifier
	logger *slog.Logger
}

func NewHandler(dir *Directory, auth web.Identifier, logger *slog.Logger) *Handler {
	return &Handler{
		dir:    dir,
		auth:   auth,
		logger: logger,
	}
}

// HandleListAll must be mounted behind web.AdminOnly.
func (h *Handler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	clients, err := h.dir.ListAll(r.Context())
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, clients)
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	clients, err := h.dir.ListMine(r.Context(), caller)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, clients)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	client, err := h.dir.Get(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, client)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	var in ClientInput
	if err := web.Decode(r, &in); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	client, err := h.dir.Create(r.Context(), in, caller)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusCreated, client)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	var in ClientInput
	if err := web.Decode(r, &in); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	client, err := h.dir.Update(r.Context(), r.PathValue("id"), in, caller)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, client)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	caller, err := web.Caller(r, h.auth)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	if err := h.dir.Delete(r.Context(), r.PathValue("id"), caller); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, map[string]string{"status": "deleted"})
}
