package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/exchange"
	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/security"
	"peerlend-backend/internal/service"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP side of the API: health, metrics and token images.
type Handler struct {
	custody service.CustodyService
	tokens  security.TokenManager
	store   Pinger
	metrics http.Handler
}

func NewHandler(custody service.CustodyService, tokens security.TokenManager, store Pinger, metrics http.Handler) *Handler {
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	return &Handler{custody: custody, tokens: tokens, store: store, metrics: metrics}
}

// RegisterRoutes mounts every route on router.
func RegisterRoutes(router *mux.Router, h *Handler) {
	router.HandleFunc("/healthz", h.HandleHealth).Methods("GET")
	router.Handle("/metrics", h.metrics).Methods("GET")
	router.HandleFunc("/api/v1/transactions/{id}/tokens/{type}.png", h.HandleTokenImage).Methods("GET")
}

// HandleHealth reports store reachability.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		logger.Warn("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleTokenImage renders the current exchange token of a transaction as a
// PNG for the calling party. Size is optional and capped.
func (h *Handler) HandleTokenImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	size := exchange.DefaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < exchange.MinQRSize {
			http.Error(w, "Invalid size parameter", http.StatusBadRequest)
			return
		}
		size = min(n, exchange.MaxQRSize)
	}

	png, err := h.custody.TokenImage(r.Context(), vars["id"], userID, domain.TokenType(vars["type"]), size)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		http.Error(w, "Missing bearer token", http.StatusUnauthorized)
		return "", false
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil || claims.Type != security.TokenTypeAccess {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return "", false
	}
	return claims.UserID, true
}

func httpStatus(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindState, domain.KindPolicy:
		return http.StatusUnprocessableEntity
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindCollaborator:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		logger.Error("Unhandled HTTP error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"code": string(domain.CodeUnknown), "message": "internal error"})
		return
	}
	writeJSON(w, httpStatus(de.Kind()), map[string]string{"code": string(de.Code), "message": de.Message})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write response", "error", err)
	}
}
