package conversation

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/leadqual/internal/crm"
	"github.com/wolfman30/leadqual/internal/events"
)

const testAppSecret = "app-secret"

type fakeDirectory struct {
	existing  map[string]crm.Contact
	searches  []string
	created   []map[string]string
	updated   map[string]map[string]string
	tagged    []string
	createErr error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{existing: map[string]crm.Contact{}, updated: map[string]map[string]string{}}
}

func (d *fakeDirectory) SearchContacts(ctx context.Context, query string, field crm.SearchField) ([]crm.Contact, error) {
	d.searches = append(d.searches, string(field)+":"+query)
	if c, ok := d.existing[query]; ok {
		return []crm.Contact{c}, nil
	}
	return nil, nil
}

func (d *fakeDirectory) CreateContact(ctx context.Context, fields map[string]string) (*crm.Contact, error) {
	if d.createErr != nil {
		return nil, d.createErr
	}
	d.created = append(d.created, fields)
	return &crm.Contact{ID: "new-1", Email: fields["email"], Phone: fields["phone"], Source: fields["source"]}, nil
}

func (d *fakeDirectory) UpdateContact(ctx context.Context, contactID string, fields map[string]string) error {
	d.updated[contactID] = fields
	return nil
}

func (d *fakeDirectory) AddTag(ctx context.Context, contactID, tag string) error {
	d.tagged = append(d.tagged, contactID+":"+tag)
	return nil
}

func signMeta(body string) string {
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postMeta(h *MetaWebhookHandler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/meta", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(metaSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.Receive(rec, req)
	return rec
}

func newMetaHandler(t *testing.T, dir LeadDirectory, pub EventPublisher, deduper events.Deduper) *MetaWebhookHandler {
	t.Helper()
	h, err := NewMetaWebhookHandler(testAppSecret, "verify-me", dir, pub, deduper, nil, nil)
	require.NoError(t, err)
	return h
}

const leadgenBody = `{"object":"page","entry":[{"id":"p1","changes":[{"field":"leadgen","value":{
	"leadgen_id":"lead-1","created_time":1760000000,"ad_id":"ad-9","ad_name":"Ops video",
	"campaign_id":"cmp-3","campaign_name":"Spring Automation","form_id":"f-2","form_name":"Ops Audit form",
	"field_data":[
		{"name":"full_name","values":["Dana Reyes"]},
		{"name":"EMAIL","values":["dana@acme.io"]},
		{"name":"phone_number","values":["+15550100"]},
		{"name":"job_title","values":["COO"]},
		{"name":"team_size","values":["15"]}
	]}}]}]}`

func TestMetaWebhookVerify(t *testing.T) {
	h := newMetaHandler(t, newFakeDirectory(), &fakePublisher{}, nil)
	tests := []struct {
		name  string
		query string
		code  int
	}{
		{"subscribe", "?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=1158201444", http.StatusOK},
		{"wrong token", "?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=1", http.StatusForbidden},
		{"wrong mode", "?hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=1", http.StatusForbidden},
		{"no challenge", "?hub.mode=subscribe&hub.verify_token=verify-me", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Verify(rec, httptest.NewRequest(http.MethodGet, "/webhooks/meta"+tt.query, nil))
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "1158201444", rec.Body.String())
			}
		})
	}
}

func TestMetaWebhookRejectsBadSignature(t *testing.T) {
	pub := &fakePublisher{}
	h := newMetaHandler(t, newFakeDirectory(), pub, nil)

	assert.Equal(t, http.StatusUnauthorized, postMeta(h, leadgenBody, "").Code)
	assert.Equal(t, http.StatusUnauthorized, postMeta(h, leadgenBody, "sha256=deadbeef").Code)
	assert.Equal(t, http.StatusUnauthorized, postMeta(h, leadgenBody, strings.TrimPrefix(signMeta(leadgenBody), "sha256=")).Code)
	assert.Equal(t, http.StatusUnauthorized, postMeta(h, leadgenBody+" ", signMeta(leadgenBody)).Code)
	assert.Empty(t, pub.events)
}

func TestMetaWebhookCreatesContactAndQueuesIntro(t *testing.T) {
	dir := newFakeDirectory()
	pub := &fakePublisher{}
	h := newMetaHandler(t, dir, pub, nil)

	rec := postMeta(h, leadgenBody, signMeta(leadgenBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"processed_leads":1`)

	assert.Equal(t, []string{"email:dana@acme.io", "phone:+15550100"}, dir.searches)
	require.Len(t, dir.created, 1)
	created := dir.created[0]
	assert.Equal(t, "Dana", created["firstName"])
	assert.Equal(t, "Reyes", created["lastName"])
	assert.Equal(t, "COO", created["jobTitle"])
	assert.Equal(t, "15", created["team_size"])
	assert.Equal(t, "Meta Ad - Spring Automation", created["source"])
	assert.NotContains(t, created, "fullName")
	assert.Equal(t, []string{"new-1:meta-lead"}, dir.tagged)

	require.Len(t, pub.events, 1)
	evt := pub.events[0]
	assert.Equal(t, eventContactCreated, evt.kind)
	assert.Equal(t, "meta:lead-1", evt.eventID)
	customer := evt.customer
	assert.Equal(t, "new-1", customer.ContactID)
	assert.Equal(t, "Dana", customer.FirstName)
	assert.Equal(t, "COO", customer.JobTitle)
	assert.Equal(t, "Meta Ad - Spring Automation", customer.Source)
	assert.Contains(t, customer.Tags, "meta-lead")
	assert.Equal(t, "lead-1", customer.CustomFields["metaLeadId"])
	assert.Equal(t, "1760000000", customer.CustomFields["leadCreatedTime"])

	assert.Equal(t,
		"Hi! I'm Dana. I just filled out your Ops Audit form from your Spring Automation ad. I'm interested in learning more about automation services.",
		IntroMessage(customer),
	)
}

func TestMetaWebhookUpdatesExistingContactFoundByPhone(t *testing.T) {
	dir := newFakeDirectory()
	dir.existing["+15550100"] = crm.Contact{ID: "c42", FirstName: "Dee", Phone: "+15550100"}
	pub := &fakePublisher{}
	h := newMetaHandler(t, dir, pub, nil)

	rec := postMeta(h, leadgenBody, signMeta(leadgenBody))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, dir.created)
	require.Contains(t, dir.updated, "c42")
	assert.Equal(t, "dana@acme.io", dir.updated["c42"]["email"])
	require.Len(t, pub.events, 1)
	assert.Equal(t, "c42", pub.events[0].customer.ContactID)
	assert.Equal(t, "Dee", pub.events[0].customer.FirstName)
	assert.Equal(t, "dana@acme.io", pub.events[0].customer.Email)
}

func TestMetaWebhookSkipsLeadsWithoutContactDetails(t *testing.T) {
	body := `{"object":"page","entry":[{"changes":[
		{"field":"leadgen","value":{"leadgen_id":"l2","field_data":[{"name":"full_name","values":["No Contact"]}]}},
		{"field":"feed","value":{"leadgen_id":"l3"}}
	]}]}`
	dir := newFakeDirectory()
	pub := &fakePublisher{}
	h := newMetaHandler(t, dir, pub, nil)

	rec := postMeta(h, body, signMeta(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"processed_leads":0`)
	assert.Empty(t, dir.searches)
	assert.Empty(t, pub.events)

	empty := `{"object":"page","entry":[]}`
	rec = postMeta(h, empty, signMeta(empty))
	assert.Contains(t, rec.Body.String(), "No leads to process")
}

func TestMetaWebhookRetriesFailedLeadAndDedupesDone(t *testing.T) {
	dir := newFakeDirectory()
	dir.createErr = errors.New("crm unavailable")
	pub := &fakePublisher{}
	h := newMetaHandler(t, dir, pub, events.NewMemoryDeduper(time.Hour))

	first := postMeta(h, leadgenBody, signMeta(leadgenBody))
	assert.Equal(t, http.StatusInternalServerError, first.Code)
	assert.Contains(t, first.Body.String(), "lead-1")
	assert.Empty(t, pub.events)

	dir.createErr = nil
	retry := postMeta(h, leadgenBody, signMeta(leadgenBody))
	assert.Equal(t, http.StatusOK, retry.Code)
	require.Len(t, pub.events, 1)

	again := postMeta(h, leadgenBody, signMeta(leadgenBody))
	assert.Equal(t, http.StatusOK, again.Code)
	assert.Contains(t, again.Body.String(), `"processed_leads":0`)
	assert.Len(t, pub.events, 1)
}

func TestNewMetaWebhookHandlerRequiresSecret(t *testing.T) {
	_, err := NewMetaWebhookHandler(" ", "v", newFakeDirectory(), &fakePublisher{}, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewMetaWebhookHandler(testAppSecret, "v", nil, &fakePublisher{}, nil, nil, nil)
	assert.Error(t, err)
}
