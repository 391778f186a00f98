// Package web carries the JSON plumbing shared by every HTTP handler.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joao-fontenele/salesflow/internal/access"
	"github.com/joao-fontenele/salesflow/internal/domain"
)

// Identifier resolves a bearer credential into a caller. An empty token
// yields access.Anonymous without error.
type Identifier interface {
	Identify(token string) (access.Caller, error)
}

func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func Caller(r *http.Request, id Identifier) (access.Caller, error) {
	return id.Identify(BearerToken(r))
}

func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Invalid("body", err.Error())
	}
	return nil
}

// Limit parses the "limit" query parameter, falling back to def when it is
// absent. Zero is passed through for the caller to treat as its default.
func Limit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.Invalid("limit", "must be a non-negative integer")
	}
	return n, nil
}

func WriteJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Entity string `json:"entity,omitempty"`
	ID     string `json:"id,omitempty"`
	Field  string `json:"field,omitempty"`
}

// WriteError renders err with the status of its taxonomy class. Errors
// outside the taxonomy are logged and reported as a bare 500.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, body := describe(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	if status == http.StatusServiceUnavailable {
		logger.Warn("store unavailable", "error", err)
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, logger, status, body)
}

func describe(err error) (int, errorBody) {
	var notFound *domain.NotFoundError
	var stock *domain.InsufficientStockError
	var invalid *domain.InvalidInputError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, errorBody{Error: notFound.Error(), Kind: "NotFound", Entity: notFound.Entity, ID: notFound.ID}
	case errors.As(err, &stock):
		return http.StatusConflict, errorBody{Error: stock.Error(), Kind: "InsufficientStock", ID: stock.ProductID}
	case errors.As(err, &invalid):
		return http.StatusBadRequest, errorBody{Error: invalid.Error(), Kind: "InvalidInput", Field: invalid.Field}
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, errorBody{Error: "service temporarily unavailable", Kind: "StoreUnavailable"}
	case errors.Is(err, domain.ErrInvalidToken):
		return http.StatusUnauthorized, errorBody{Error: "invalid token", Kind: "InvalidToken"}
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, errorBody{Error: "authentication required", Kind: "Unauthenticated"}
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorBody{Error: "invalid email or password", Kind: "InvalidCredentials"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: "forbidden", Kind: "Forbidden"}
	case errors.Is(err, domain.ErrDuplicateEmail):
		return http.StatusConflict, errorBody{Error: "email already registered", Kind: "DuplicateEmail"}
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, errorBody{Error: err.Error(), Kind: "AlreadyExists"}
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, errorBody{Error: err.Error(), Kind: "InvalidTransition"}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Kind: "NotFound"}
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "InvalidInput"}
	case errors.Is(err, context.Canceled):
		// 499 in nginx terms; nobody is listening anymore.
		return 499, errorBody{Error: "request cancelled", Kind: "Cancelled"}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal server error", Kind: "Internal"}
}

// WithTimeout bounds every request context so store calls cannot block
// indefinitely.
func WithTimeout(d time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnly guards privileged, unscoped listings behind a shared key sent in
// X-Admin-Key. An empty key disables the wrapped routes entirely.
func AdminOnly(key string, logger *slog.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		given := r.Header.Get("X-Admin-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
			WriteError(w, logger, domain.ErrForbidden)
			return
		}
		next(w, r)
	}
}
