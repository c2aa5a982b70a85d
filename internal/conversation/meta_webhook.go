package conversation

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
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
	metaProvider        = "meta"
	metaSignatureHeader = "X-Hub-Signature-256"
	metaLeadTag         = "meta-lead"
	metaLeadgenField    = "leadgen"
)

// LeadDirectory is the CRM surface the lead-ads webhook needs to find or
// create the contact behind a form submission.
type LeadDirectory interface {
	SearchContacts(ctx context.Context, query string, field crm.SearchField) ([]crm.Contact, error)
	CreateContact(ctx context.Context, fields map[string]string) (*crm.Contact, error)
	UpdateContact(ctx context.Context, contactID string, fields map[string]string) error
	AddTag(ctx context.Context, contactID, tag string) error
}

var _ LeadDirectory = (*crm.Client)(nil)

// MetaWebhookHandler accepts lead-ads form submissions, resolves each lead
// to a CRM contact and queues the contact's opening turn.
type MetaWebhookHandler struct {
	appSecret   []byte
	verifyToken string
	contacts    LeadDirectory
	publisher   EventPublisher
	deduper     events.Deduper
	metrics     *metrics.EngineMetrics
	logger      *logging.Logger
}

// NewMetaWebhookHandler builds the lead-ads endpoint. Deliveries are only
// accepted with a valid signature, so appSecret is required.
func NewMetaWebhookHandler(appSecret, verifyToken string, contacts LeadDirectory, publisher EventPublisher, deduper events.Deduper, m *metrics.EngineMetrics, logger *logging.Logger) (*MetaWebhookHandler, error) {
	if strings.TrimSpace(appSecret) == "" {
		return nil, errors.New("conversation: meta app secret required")
	}
	if contacts == nil || publisher == nil {
		return nil, errors.New("conversation: meta webhook needs a contact directory and publisher")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MetaWebhookHandler{
		appSecret:   []byte(appSecret),
		verifyToken: strings.TrimSpace(verifyToken),
		contacts:    contacts,
		publisher:   publisher,
		deduper:     deduper,
		metrics:     m,
		logger:      logger,
	}, nil
}

type metaPayload struct {
	Object string      `json:"object"`
	Entry  []metaEntry `json:"entry"`
}

type metaEntry struct {
	ID      string       `json:"id"`
	Changes []metaChange `json:"changes"`
}

type metaChange struct {
	Field string   `json:"field"`
	Value metaLead `json:"value"`
}

type metaLead struct {
	LeadgenID    string          `json:"leadgen_id"`
	CreatedTime  json.RawMessage `json:"created_time"`
	AdID         string          `json:"ad_id"`
	AdName       string          `json:"ad_name"`
	AdsetID      string          `json:"adset_id"`
	AdsetName    string          `json:"adset_name"`
	CampaignID   string          `json:"campaign_id"`
	CampaignName string          `json:"campaign_name"`
	FormID       string          `json:"form_id"`
	FormName     string          `json:"form_name"`
	Platform     string          `json:"platform"`
	FieldData    []metaField     `json:"field_data"`
}

type metaField struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// metaFieldNames maps lead form question keys onto CRM contact keys.
var metaFieldNames = map[string]string{
	"first_name":   "firstName",
	"last_name":    "lastName",
	"full_name":    "fullName",
	"email":        "email",
	"phone_number": "phone",
	"phone":        "phone",
	"company_name": "companyName",
	"job_title":    "jobTitle",
	"city":         "city",
	"state":        "state",
	"zip_code":     "postalCode",
	"country":      "country",
	"website":      "website",
}

// Verify answers the hub.challenge handshake sent when the subscription is
// created.
func (h *MetaWebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge := q.Get("hub.challenge")
	if q.Get("hub.mode") != "subscribe" || challenge == "" || h.verifyToken == "" || q.Get("hub.verify_token") != h.verifyToken {
		h.logger.Warn("meta webhook verification failed", "mode", q.Get("hub.mode"), "has_challenge", challenge != "")
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// Receive handles POST /webhooks/meta. Leads that fail are released so the
// provider's retry can process them; leads already handled stay claimed.
func (h *MetaWebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !h.validSignature(body, r.Header.Get(metaSignatureHeader)) {
		h.metrics.ObserveWebhook(metaLeadgenField, "unauthorized")
		h.logger.Warn("meta webhook signature rejected")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	var payload metaPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.metrics.ObserveWebhook(metaLeadgenField, "invalid")
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	leads := extractLeads(payload)
	if len(leads) == 0 {
		writeJSON(w, h.logger, http.StatusOK, map[string]any{"success": true, "message": "No leads to process", "processed_leads": 0})
		return
	}

	ctx := r.Context()
	processed := 0
	var failures []string
	for _, lead := range leads {
		status, err := h.processLead(ctx, lead)
		h.metrics.ObserveWebhook(metaLeadgenField, status)
		if err != nil {
			h.logger.Error("failed to process meta lead", "error", err, "lead_id", lead.LeadgenID)
			failures = append(failures, lead.LeadgenID)
			continue
		}
		if status == "accepted" {
			processed++
		}
	}

	resp := map[string]any{
		"success":         len(failures) == 0,
		"message":         fmt.Sprintf("%d leads queued for processing", processed),
		"processed_leads": processed,
	}
	if len(failures) > 0 {
		resp["failed_leads"] = failures
		writeJSON(w, h.logger, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// validSignature checks the sha256=<hex> HMAC of the raw body.
func (h *MetaWebhookHandler) validSignature(body []byte, header string) bool {
	provided, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok || provided == "" {
		return false
	}
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.appSecret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func extractLeads(payload metaPayload) []metaLead {
	var leads []metaLead
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field == metaLeadgenField && change.Value.LeadgenID != "" {
				leads = append(leads, change.Value)
			}
		}
	}
	return leads
}

func (h *MetaWebhookHandler) processLead(ctx context.Context, lead metaLead) (string, error) {
	fields := normalizeLeadFields(lead.FieldData)
	if fields["email"] == "" && fields["phone"] == "" {
		h.logger.Warn("meta lead has no email or phone", "lead_id", lead.LeadgenID)
		return "invalid", nil
	}

	eventID := metaProvider + ":" + lead.LeadgenID
	if h.deduper != nil {
		fresh, err := h.deduper.Claim(ctx, metaProvider, lead.LeadgenID)
		if err != nil {
			return "error", err
		}
		if !fresh {
			return "duplicate", nil
		}
	}

	if err := h.enqueueLead(ctx, eventID, lead, fields); err != nil {
		if h.deduper != nil {
			if relErr := h.deduper.Release(context.WithoutCancel(ctx), metaProvider, lead.LeadgenID); relErr != nil {
				h.logger.Error("failed to release meta lead claim", "error", relErr, "lead_id", lead.LeadgenID)
			}
		}
		return "error", err
	}
	return "accepted", nil
}

func (h *MetaWebhookHandler) enqueueLead(ctx context.Context, eventID string, lead metaLead, fields map[string]string) error {
	source := leadSource(lead)
	fields["source"] = source

	contact, err := h.findOrCreateContact(ctx, fields)
	if err != nil {
		return err
	}
	if err := h.contacts.AddTag(ctx, contact.ID, metaLeadTag); err != nil {
		h.logger.Warn("failed to tag meta lead", "error", err, "contact_id", contact.ID)
	}

	customer := contact.CustomerInfo()
	for _, f := range []struct {
		dst *string
		key string
	}{
		{&customer.FirstName, "firstName"},
		{&customer.LastName, "lastName"},
		{&customer.Email, "email"},
		{&customer.Phone, "phone"},
		{&customer.CompanyName, "companyName"},
		{&customer.JobTitle, "jobTitle"},
	} {
		if *f.dst == "" {
			*f.dst = fields[f.key]
		}
	}
	customer.Source = source
	customer.Tags = qualification.MergeUnique(customer.Tags, []string{metaLeadTag})
	if customer.CustomFields == nil {
		customer.CustomFields = make(map[string]string)
	}
	for k, v := range leadCustomFields(lead) {
		customer.CustomFields[k] = v
	}

	h.logger.Info("meta lead resolved", "lead_id", lead.LeadgenID, "contact_id", contact.ID, "campaign", lead.CampaignName)
	return h.publisher.EnqueueContactCreated(ctx, eventID, customer)
}

// findOrCreateContact matches by email, then phone, and refreshes a matched
// contact with the form answers.
func (h *MetaWebhookHandler) findOrCreateContact(ctx context.Context, fields map[string]string) (*crm.Contact, error) {
	lookups := []struct {
		value string
		field crm.SearchField
	}{
		{fields["email"], crm.SearchByEmail},
		{fields["phone"], crm.SearchByPhone},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		found, err := h.contacts.SearchContacts(ctx, l.value, l.field)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 || found[0].ID == "" {
			continue
		}
		contact := found[0]
		if err := h.contacts.UpdateContact(ctx, contact.ID, crmFields(fields)); err != nil {
			return nil, err
		}
		return &contact, nil
	}
	return h.contacts.CreateContact(ctx, crmFields(fields))
}

// normalizeLeadFields keeps the first answer per question. A full name is
// split when the form has no separate first name.
func normalizeLeadFields(data []metaField) map[string]string {
	out := make(map[string]string, len(data))
	for _, f := range data {
		if len(f.Values) == 0 {
			continue
		}
		value := strings.TrimSpace(f.Values[0])
		if value == "" {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(f.Name))
		if mapped, ok := metaFieldNames[name]; ok {
			name = mapped
		}
		out[name] = value
	}
	if full := out["fullName"]; full != "" && out["firstName"] == "" {
		first, last, _ := strings.Cut(full, " ")
		out["firstName"] = first
		if last = strings.TrimSpace(last); last != "" && out["lastName"] == "" {
			out["lastName"] = last
		}
	}
	return out
}

// crmFields drops keys the contact endpoint does not accept.
func crmFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == "fullName" {
			continue
		}
		out[k] = v
	}
	return out
}

func leadSource(lead metaLead) string {
	campaign := lead.CampaignName
	if campaign == "" {
		campaign = "Unknown Campaign"
	}
	return "Meta Ad - " + campaign
}

func leadCustomFields(lead metaLead) map[string]string {
	out := map[string]string{}
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("metaLeadId", lead.LeadgenID)
	put("metaCampaignId", lead.CampaignID)
	put("metaCampaignName", lead.CampaignName)
	put("metaAdId", lead.AdID)
	put("metaAdName", lead.AdName)
	put("metaFormId", lead.FormID)
	put("metaFormName", lead.FormName)
	put("metaPlatform", lead.Platform)
	put("leadCreatedTime", strings.Trim(string(lead.CreatedTime), `"`))
	return out
}
