package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/auth"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/feedback"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/logger"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/metrics"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/service"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/pkg/middleware"
)

const (
	maxBodyBytes   = 1 << 20
	maxImportBytes = 16 << 20
)

// HTTPDeps holds the collaborators of the HTTP surface
type HTTPDeps struct {
	Service       *service.Service
	Feedback      *feedback.Ingest
	Verifier      *auth.Verifier
	Health        http.Handler
	WebSocket     http.Handler
	WebSocketPath string
	Logger        *slog.Logger
	Metrics       metrics.Collector
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service  *service.Service
	feedback *feedback.Ingest
	verifier *auth.Verifier
	metrics  metrics.Collector
	log      *slog.Logger
	router   *mux.Router
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(deps HTTPDeps) *HTTPHandler {
	h := &HTTPHandler{
		service:  deps.Service,
		feedback: deps.Feedback,
		verifier: deps.Verifier,
		metrics:  metrics.OrNop(deps.Metrics),
		log:      logger.OrDiscard(deps.Logger).With("component", "http"),
		router:   mux.NewRouter(),
	}

	h.router.Use(
		middleware.Recovery(deps.Logger),
		middleware.Logging(deps.Logger),
		middleware.Metrics(deps.Metrics),
	)
	h.setupRoutes(deps)

	return h
}

// ServeHTTP implements the http.Handler interface
func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// setupRoutes sets up the HTTP routes
func (h *HTTPHandler) setupRoutes(deps HTTPDeps) {
	if deps.WebSocket != nil {
		path := deps.WebSocketPath
		if path == "" {
			path = "/ws"
		}
		h.router.Handle(path, deps.WebSocket).Methods("GET")
	}

	if deps.Health != nil {
		h.router.Handle("/health", deps.Health).Methods("GET")
	} else {
		h.router.HandleFunc("/health", h.healthCheck).Methods("GET")
	}
	h.router.Handle("/metrics", h.metrics.Handler()).Methods("GET")

	h.router.HandleFunc("/status", h.getStatus).Methods("GET")
	h.router.HandleFunc("/sessions", h.listSessions).Methods("GET")
	h.router.HandleFunc("/playback", h.getPlayback).Methods("GET")

	fb := h.router.PathPrefix("/feedback").Subrouter()
	fb.HandleFunc("", h.submitFeedback).Methods("POST")
	fb.HandleFunc("", h.listFeedback).Methods("GET")
	fb.HandleFunc("/export", h.exportFeedback).Methods("GET")
	fb.HandleFunc("/import", h.importFeedback).Methods("POST")
	fb.HandleFunc("/{id}", h.getFeedback).Methods("GET")
	fb.HandleFunc("/{id}/status", h.updateFeedbackStatus).Methods("PATCH")
}

func (h *HTTPHandler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (h *HTTPHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.service.Status())
}

func (h *HTTPHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.service.Sessions())
}

func (h *HTTPHandler) getPlayback(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.service.Playback())
}

func (h *HTTPHandler) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedback.SubmitRequest
	if err := decodeBody(w, r, maxBodyBytes, &req); err != nil {
		respondWithError(w, model.ErrInvalidRequest.WithDetails(err.Error()))
		return
	}

	// A presented token caps the claimed role like it does on the handshake
	if h.verifier != nil {
		limit, err := h.verifier.RoleCap(auth.ExtractToken(r))
		if err != nil {
			respondWithError(w, model.ErrUnauthorized.WithDetails(err.Error()))
			return
		}
		req.Role = req.Role.Cap(limit)
	}

	msg, err := h.feedback.Submit(r.Context(), req)
	if err != nil {
		respondWithError(w, feedbackError(err))
		return
	}

	respondWithJSON(w, http.StatusCreated, msg)
}

func (h *HTTPHandler) listFeedback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := model.FeedbackFilter{
		Status:   model.FeedbackStatus(query.Get("status")),
		Priority: model.Priority(query.Get("priority")),
		Tag:      query.Get("tag"),
		Author:   query.Get("author"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondWithError(w, model.ErrInvalidRequest.WithDetails(fmt.Sprintf("unknown status %q", filter.Status)))
		return
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		respondWithError(w, model.ErrInvalidRequest.WithDetails(fmt.Sprintf("unknown priority %q", filter.Priority)))
		return
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			respondWithError(w, model.ErrInvalidRequest.WithDetails("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}

	msgs, err := h.feedback.List(r.Context(), filter)
	if err != nil {
		respondWithError(w, feedbackError(err))
		return
	}
	if msgs == nil {
		msgs = []*model.FeedbackMessage{}
	}

	respondWithJSON(w, http.StatusOK, msgs)
}

func (h *HTTPHandler) getFeedback(w http.ResponseWriter, r *http.Request) {
	msg, err := h.feedback.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, feedbackError(err))
		return
	}

	respondWithJSON(w, http.StatusOK, msg)
}

func (h *HTTPHandler) updateFeedbackStatus(w http.ResponseWriter, r *http.Request) {
	if apiErr, ok := h.requireModerator(r); !ok {
		respondWithError(w, apiErr)
		return
	}

	var body struct {
		Status model.FeedbackStatus `json:"status"`
	}
	if err := decodeBody(w, r, maxBodyBytes, &body); err != nil {
		respondWithError(w, model.ErrInvalidRequest.WithDetails(err.Error()))
		return
	}

	msg, err := h.feedback.UpdateStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		respondWithError(w, feedbackError(err))
		return
	}

	respondWithJSON(w, http.StatusOK, msg)
}

func (h *HTTPHandler) exportFeedback(w http.ResponseWriter, r *http.Request) {
	records, err := h.feedback.Export(r.Context())
	if err != nil {
		respondWithError(w, feedbackError(err))
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="feedback.json"`)
	respondWithJSON(w, http.StatusOK, records)
}

func (h *HTTPHandler) importFeedback(w http.ResponseWriter, r *http.Request) {
	if apiErr, ok := h.requireModerator(r); !ok {
		respondWithError(w, apiErr)
		return
	}

	var records []model.FeedbackMessage
	if err := decodeBody(w, r, maxImportBytes, &records); err != nil {
		respondWithError(w, model.ErrInvalidRequest.WithDetails(err.Error()))
		return
	}

	res, err := h.feedback.Import(r.Context(), records)
	if err != nil {
		respondWithError(w, feedbackError(err))
		return
	}

	respondWithJSON(w, http.StatusOK, res)
}

// requireModerator checks the caller's token, if any, allows a
// moderator-class role
func (h *HTTPHandler) requireModerator(r *http.Request) (model.APIError, bool) {
	if h.verifier == nil {
		return model.APIError{}, true
	}
	limit, err := h.verifier.RoleCap(auth.ExtractToken(r))
	if err != nil {
		return model.ErrUnauthorized.WithDetails(err.Error()), false
	}
	if !limit.IsModeratorClass() {
		return model.ErrForbidden, false
	}
	return model.APIError{}, true
}

func feedbackError(err error) model.APIError {
	switch {
	case errors.Is(err, feedback.ErrInvalidRequest):
		return model.ErrInvalidRequest.WithDetails(err.Error())
	case errors.Is(err, feedback.ErrNotModerator):
		return model.ErrForbidden.WithDetails(err.Error())
	case errors.Is(err, feedback.ErrNotFound):
		return model.ErrNotFound
	case errors.Is(err, feedback.ErrInvalidTransition):
		return model.ErrConflict.WithDetails(err.Error())
	case errors.Is(err, feedback.ErrStoreUnavailable):
		return model.ErrServiceUnavailable
	default:
		return model.ErrInternalServer
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}
	return nil
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// respondWithError sends an error response
func respondWithError(w http.ResponseWriter, apiErr model.APIError) {
	code := apiErr.Status
	if code == 0 {
		code = http.StatusInternalServerError
	}
	respondWithJSON(w, code, apiErr)
}
