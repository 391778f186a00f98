package auth

import (
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/salesflow/internal/web"
)

type Handler struct {
	accounts *Accounts
	logger   *slog.Logger
}

func NewHandler(accounts *Accounts, logger *slog.Logger) *Handler {
	return &Handler{
		accounts: accounts,
		logger:   logger,
	}
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := web.Decode(r, &in); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	seller, err := h.accounts.Register(r.Context(), in)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusCreated, seller)
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if err := web.Decode(r, &in); err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	token, err := h.accounts.Login(r.Context(), in)
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, tokenResponse{Token: token})
}

func (h *Handler) HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	seller, err := h.accounts.WhoAmI(r.Context(), web.BearerToken(r))
	if err != nil {
		web.WriteError(w, h.logger, err)
		return
	}

	web.WriteJSON(w, h.logger, http.StatusOK, seller)
}
