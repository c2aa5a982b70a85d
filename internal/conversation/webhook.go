package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/wolfman30/leadqual/internal/crm"
	"github.com/wolfman30/leadqual/internal/events"
	"github.com/wolfman30/leadqual/internal/observability/metrics"
	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/pkg/logging"
)

const (
	webhookProvider     = "crm"
	maxWebhookBodyBytes = 1 << 20
)

// EventPublisher is the subset of *Publisher the webhook uses.
type EventPublisher interface {
	EnqueueContactCreated(ctx context.Context, eventID string, customer qualification.CustomerInfo) error
	EnqueueMessage(ctx context.Context, eventID string, req MessageRequest) error
	EnqueueContactUpdated(ctx context.Context, eventID, contactID string, update qualification.CustomerUpdate) error
}

var _ EventPublisher = (*Publisher)(nil)

// WebhookHandler accepts CRM webhooks and queues them for the worker.
type WebhookHandler struct {
	verifyToken string
	publisher   EventPublisher
	deduper     events.Deduper
	metrics     *metrics.EngineMetrics
	logger      *logging.Logger
}

// NewWebhookHandler builds the CRM webhook endpoint. deduper and m may be nil.
func NewWebhookHandler(verifyToken string, publisher EventPublisher, deduper events.Deduper, m *metrics.EngineMetrics, logger *logging.Logger) *WebhookHandler {
	if publisher == nil {
		panic("conversation: webhook publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: strings.TrimSpace(verifyToken),
		publisher:   publisher,
		deduper:     deduper,
		metrics:     m,
		logger:      logger,
	}
}

type webhookEvent struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	WebhookID string          `json:"webhookId"`
	Contact   json.RawMessage `json:"contact"`
	Message   *webhookMessage `json:"message"`
}

type webhookMessage struct {
	ContactID string          `json:"contactId"`
	Body      string          `json:"body"`
	Type      string          `json:"type"`
	Contact   json.RawMessage `json:"contact"`
}

// Verify handles GET /webhooks/crm subscription challenges.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge := q.Get("challenge")
	token := q.Get("verify_token")
	if challenge == "" {
		challenge = q.Get("hub.challenge")
		token = q.Get("hub.verify_token")
	}
	if challenge == "" || h.verifyToken == "" || token != h.verifyToken {
		h.logger.Warn("webhook verification failed", "has_challenge", challenge != "")
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// Receive handles POST /webhooks/crm.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	var evt webhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		h.metrics.ObserveWebhook("unknown", "invalid")
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	eventID := webhookEventID(evt, body)
	if h.deduper != nil {
		fresh, err := h.deduper.Claim(ctx, webhookProvider, eventID)
		if err != nil {
			h.logger.Error("webhook dedupe failed", "error", err, "event_id", eventID)
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		if !fresh {
			h.metrics.ObserveWebhook(evt.Type, "duplicate")
			writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "message": "Duplicate event ignored"})
			return
		}
	}

	status, err := h.dispatch(ctx, eventID, evt)
	if err != nil {
		h.metrics.ObserveWebhook(evt.Type, "error")
		h.logger.Error("failed to enqueue webhook event", "error", err, "event_type", evt.Type, "event_id", eventID)
		h.releaseClaim(ctx, eventID)
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveWebhook(evt.Type, status)
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "message": "Webhook processed"})
}

// releaseClaim lets the provider's retry of a failed delivery through.
func (h *WebhookHandler) releaseClaim(ctx context.Context, eventID string) {
	if h.deduper == nil {
		return
	}
	if err := h.deduper.Release(context.WithoutCancel(ctx), webhookProvider, eventID); err != nil {
		h.logger.Error("failed to release webhook claim", "error", err, "event_id", eventID)
	}
}

func (h *WebhookHandler) dispatch(ctx context.Context, eventID string, evt webhookEvent) (string, error) {
	switch evt.Type {
	case "ContactCreate":
		contact, err := decodeWebhookContact(evt.Contact)
		if err != nil || contact.ID == "" {
			h.logger.Warn("ContactCreate without contact id", "event_id", eventID)
			return "invalid", nil
		}
		customer := contact.CustomerInfo()
		if customer.Source == "" {
			customer.Source = "CRM"
		}
		return "accepted", h.publisher.EnqueueContactCreated(ctx, eventID, customer)

	case "InboundMessage":
		if evt.Message == nil || evt.Message.ContactID == "" || strings.TrimSpace(evt.Message.Body) == "" {
			h.logger.Warn("InboundMessage missing contact id or body", "event_id", eventID)
			return "invalid", nil
		}
		req := MessageRequest{
			Message:   evt.Message.Body,
			ContactID: evt.Message.ContactID,
			ThreadID:  ThreadIDForContact(evt.Message.ContactID),
			Channel:   evt.Message.Type,
		}
		if contact, err := decodeWebhookContact(evt.Message.Contact); err == nil && contact.ID+contact.FirstName+contact.Email != "" {
			info := contact.CustomerInfo()
			info.ContactID = evt.Message.ContactID
			if info.Source == "" {
				info.Source = "CRM Inbound Message"
			}
			req.ContactInfo = &info
		}
		if _, err := qualification.ParseChannel(req.Channel); err != nil {
			req.Channel = ""
		}
		return "accepted", h.publisher.EnqueueMessage(ctx, eventID, req)

	case "ContactUpdate":
		contact, err := decodeWebhookContact(evt.Contact)
		if err != nil || contact.ID == "" {
			h.logger.Warn("ContactUpdate without contact id", "event_id", eventID)
			return "invalid", nil
		}
		return "accepted", h.publisher.EnqueueContactUpdated(ctx, eventID, contact.ID, updateFromContact(contact))
	}

	h.logger.Info("unhandled webhook event type", "event_type", evt.Type)
	return "ignored", nil
}

func decodeWebhookContact(raw json.RawMessage) (crm.Contact, error) {
	if len(raw) == 0 {
		return crm.Contact{}, nil
	}
	return crm.DecodeContact(raw)
}

// updateFromContact treats blank fields as absent.
func updateFromContact(c crm.Contact) qualification.CustomerUpdate {
	ptr := func(v string) *string {
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return &v
	}
	return qualification.CustomerUpdate{
		FirstName:    ptr(c.FirstName),
		LastName:     ptr(c.LastName),
		Email:        ptr(c.Email),
		Phone:        ptr(c.Phone),
		CompanyName:  ptr(c.CompanyName),
		Source:       ptr(c.Source),
		Tags:         c.Tags,
		CustomFields: c.CustomFields,
	}
}

// webhookEventID prefers the delivery id and falls back to a body digest so
// retried deliveries of the same payload still dedupe.
func webhookEventID(evt webhookEvent, body []byte) string {
	if evt.ID != "" {
		return evt.ID
	}
	if evt.WebhookID != "" {
		return evt.WebhookID
	}
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func writeJSON(w http.ResponseWriter, logger *logging.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to write JSON response", "error", err)
	}
}
