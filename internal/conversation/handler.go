package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/internal/statestore"
	"github.com/wolfman30/leadqual/pkg/logging"
)

const defaultListLimit = 50

// QueryService is the part of *Service exposed over HTTP.
type QueryService interface {
	ProcessMessage(ctx context.Context, req MessageRequest) (*Result, error)
	GetSummary(ctx context.Context, threadID string) (*Summary, error)
	ListActiveConversations(ctx context.Context, limit int) ([]statestore.Summary, error)
	CleanupOlderThan(ctx context.Context, days int) (int64, error)
	Retention() time.Duration
}

var _ QueryService = (*Service)(nil)

// Handler wires the HTTP query API to the conversation service.
type Handler struct {
	service QueryService
	logger  *logging.Logger
}

// NewHandler creates a conversation handler.
func NewHandler(service QueryService, logger *logging.Logger) *Handler {
	if service == nil {
		panic("conversation: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

type qualifyRequest struct {
	ContactID    string                      `json:"contact_id"`
	Message      string                      `json:"message"`
	ThreadID     string                      `json:"thread_id"`
	Channel      string                      `json:"channel"`
	CustomerInfo *qualification.CustomerInfo `json:"customer_info"`
}

// Qualify handles POST /api/qualify by running the message synchronously.
func (h *Handler) Qualify(w http.ResponseWriter, r *http.Request) {
	var req qualifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := h.service.ProcessMessage(r.Context(), MessageRequest{
		Message:     req.Message,
		ContactID:   req.ContactID,
		ContactInfo: req.CustomerInfo,
		ThreadID:    req.ThreadID,
		Channel:     req.Channel,
	})
	if err != nil {
		if apperrors.IsValidation(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("failed to process qualification request", "error", err)
		http.Error(w, "Failed to process message", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, res)
}

// ListConversations handles GET /api/conversations?limit=N.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	convs, err := h.service.ListActiveConversations(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list conversations", "error", err)
		http.Error(w, "Failed to list conversations", http.StatusInternalServerError)
		return
	}
	if convs == nil {
		convs = []statestore.Summary{}
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"conversations": convs, "count": len(convs)})
}

// GetConversation handles GET /api/conversations/{threadID}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	summary, err := h.service.GetSummary(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		h.logger.WithThread(threadID).Error("failed to load conversation", "error", err)
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, summary)
}

type cleanupRequest struct {
	Days int `json:"days"`
}

// Cleanup handles POST /api/conversations/cleanup. An empty body uses the
// configured retention.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Days == 0 {
		req.Days = int(h.service.Retention().Hours() / 24)
	}
	deleted, err := h.service.CleanupOlderThan(r.Context(), req.Days)
	if err != nil {
		if apperrors.IsValidation(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("conversation cleanup failed", "error", err)
		http.Error(w, "Cleanup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"deleted": deleted, "days": req.Days})
}
