// Package httpapi exposes the sync and recommend operations over HTTP.
//
// Every route except /health expects an Authorization: Bearer <token>
// header resolving to an agent session.
//
// Routes:
//
//	POST /sync?connection_id=&dry_run=   → sync the caller's brokerage
//	POST /recommend                      → top up a client's recommendation queue
//	GET  /health                         → liveness
//
// OPTIONS on /sync and /recommend answers the CORS preflight.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"hayvn/listing-pipeline/internal/auth"
	"hayvn/listing-pipeline/internal/ingest"
	"hayvn/listing-pipeline/internal/match"
)

const maxBodyBytes = 1 << 20

// Syncer runs the listing sync path.
type Syncer interface {
	Sync(ctx context.Context, req ingest.Request) (*ingest.Report, error)
}

// Recommender runs the match path.
type Recommender interface {
	Recommend(ctx context.Context, p auth.Principal, req match.Request) (*match.Result, error)
}

// Handler holds shared dependencies.
type Handler struct {
	syncer      Syncer
	recommender Recommender
	verifier    auth.Verifier
	corsOrigin  string
	version     string
	logger      *slog.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(syncer Syncer, recommender Recommender, verifier auth.Verifier, corsOrigin, version string, logger *slog.Logger) *Handler {
	return &Handler{
		syncer:      syncer,
		recommender: recommender,
		verifier:    verifier,
		corsOrigin:  corsOrigin,
		version:     version,
		logger:      logger,
	}
}

// RegisterRoutes mounts all routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.health)
	mux.Handle("/sync", h.wrap(h.handleSync))
	mux.Handle("/recommend", h.wrap(h.handleRecommend))
}

// ─── Middleware ──────────────────────────────────────────────────────────────

// wrap adds CORS headers, answers preflight, enforces POST and turns a
// panic into a 500.
func (h *Handler) wrap(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("handler panic", "path", r.URL.Path, "panic", fmt.Sprint(rec))
				jsonError(w, "internal error", http.StatusInternalServerError)
			}
		}()

		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", h.corsOrigin)
		hdr.Set("Access-Control-Allow-Headers", "authorization, content-type")
		hdr.Set("Access-Control-Allow-Methods", "POST, OPTIONS")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodPost:
			next(w, r)
		default:
			hdr.Set("Allow", "POST, OPTIONS")
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func (h *Handler) principal(r *http.Request) (*auth.Principal, error) {
	token, ok := auth.BearerToken(r)
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return h.verifier.Verify(r.Context(), token)
}

// ─── Individual handlers ─────────────────────────────────────────────────────

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	p, err := h.principal(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if p.BrokerageID == "" {
		jsonError(w, "agent is not attached to a brokerage", http.StatusForbidden)
		return
	}

	q := r.URL.Query()
	connectionID := strings.TrimSpace(q.Get("connection_id"))
	if connectionID != "" {
		if _, err := uuid.Parse(connectionID); err != nil {
			jsonError(w, "connection_id must be a UUID", http.StatusBadRequest)
			return
		}
	}

	dryRun := false
	if v := strings.TrimSpace(q.Get("dry_run")); v != "" {
		if dryRun, err = strconv.ParseBool(v); err != nil {
			jsonError(w, "dry_run must be a boolean", http.StatusBadRequest)
			return
		}
	}

	report, err := h.syncer.Sync(r.Context(), ingest.Request{
		BrokerageID:  p.BrokerageID,
		ConnectionID: connectionID,
		DryRun:       dryRun,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	jsonOK(w, report)
}

func (h *Handler) handleRecommend(w http.ResponseWriter, r *http.Request) {
	p, err := h.principal(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	var body match.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		jsonError(w, "body must be a JSON object with client_id", http.StatusBadRequest)
		return
	}
	if _, err := uuid.Parse(strings.TrimSpace(body.ClientID)); err != nil {
		jsonError(w, "client_id must be a UUID", http.StatusBadRequest)
		return
	}

	res, err := h.recommender.Recommend(r.Context(), *p, body)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	jsonOK(w, res)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonOK(w, map[string]string{
		"status":  "ok",
		"service": "listing-pipeline",
		"version": h.version,
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// writeServiceError maps domain errors to HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var ve *match.ValidationError
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		jsonError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, match.ErrForbidden):
		jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, match.ErrClientNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &ve):
		jsonError(w, ve.Msg, http.StatusBadRequest)
	default:
		h.logger.Error("request failed", "err", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}
