package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/qualification"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "pit-test-key", WithRetryGap(time.Millisecond))
}

func TestSendMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/conversations/messages", r.URL.Path)
		assert.Equal(t, "Bearer pit-test-key", r.Header.Get("Authorization"))
		assert.Equal(t, apiVersion, r.Header.Get("Version"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "WhatsApp", body["type"])
		assert.Equal(t, "c1", body["contactId"])
		assert.Equal(t, "hello", body["message"])

		_, _ = w.Write([]byte(`{"messageId":"m1","conversationId":"conv1"}`))
	})

	res, err := client.SendMessage(context.Background(), "c1", "hello", qualification.ChannelWhatsApp)
	require.NoError(t, err)
	assert.Equal(t, "m1", res.MessageID)
	assert.Equal(t, "conv1", res.ConversationID)
}

func TestSendMessageIsNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.SendMessage(context.Background(), "c1", "hello", qualification.ChannelSMS)
	var extErr *apperrors.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, http.StatusBadGateway, extErr.StatusCode)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAddTagAndNote(t *testing.T) {
	fixed := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case "/contacts/c1/tags":
			assert.Equal(t, []any{"qualified-lead"}, body["tags"])
		case "/contacts/c1/notes":
			assert.Equal(t, "budget confirmed", body["body"])
			assert.Equal(t, "system", body["userId"])
			assert.Equal(t, "2026-04-01T10:00:00Z", body["dateAdded"])
		}
		w.WriteHeader(http.StatusCreated)
	})
	client.now = func() time.Time { return fixed }

	require.NoError(t, client.AddTag(context.Background(), "c1", "qualified-lead"))
	require.NoError(t, client.CreateNote(context.Background(), "c1", "budget confirmed"))
	assert.Equal(t, []string{"/contacts/c1/tags", "/contacts/c1/notes"}, paths)
}

func TestGetContactRetriesOnce(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "/contacts/c1", r.URL.Path)
		_, _ = w.Write([]byte(`{"contact":{
			"id":"c1","firstName":"Lee","lastName":"Park","email":"lee@example.com",
			"companyName":"Park Studio","source":"Facebook Lead Ad","tags":["fb"],
			"customFields":[{"id":"f1","key":"business_type","value":"studio"},{"id":"f2","value":12}],
			"dateAdded":"2026-03-01T09:00:00Z"}}`))
	})

	contact, err := client.GetContact(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "Lee", contact.FirstName)
	assert.Equal(t, "studio", contact.CustomFields["business_type"])
	assert.Equal(t, "12", contact.CustomFields["f2"])
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), contact.DateAdded)

	info := contact.CustomerInfo()
	assert.Equal(t, "c1", info.ContactID)
	assert.Equal(t, "Park Studio", info.CompanyName)
}

func TestGetContactNotFoundIsNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetContact(context.Background(), "missing")
	var extErr *apperrors.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, http.StatusNotFound, extErr.StatusCode)
	assert.Contains(t, err.Error(), "resource not found")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSearchContacts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contacts/search", r.URL.Path)
		assert.Equal(t, "+15550100", r.URL.Query().Get("query"))
		assert.Equal(t, "phone", r.URL.Query().Get("type"))
		_, _ = w.Write([]byte(`{"contacts":[{"id":"c1","phone":"+15550100"},{"id":"c2","phone":"+15550100"}]}`))
	})

	contacts, err := client.SearchContacts(context.Background(), "+15550100", SearchByPhone)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "c2", contacts[1].ID)
}

func TestCreateContact(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/contacts/", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dana@acme.io", body["email"])
		_, _ = w.Write([]byte(`{"contact":{"id":"c7","email":"dana@acme.io","source":"Meta Ad - Spring"}}`))
	})

	contact, err := client.CreateContact(context.Background(), map[string]string{"email": "dana@acme.io"})
	require.NoError(t, err)
	assert.Equal(t, "c7", contact.ID)
	assert.Equal(t, "Meta Ad - Spring", contact.Source)
}

func TestCreateContactWithoutIDFails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"contact":{}}`))
	})

	_, err := client.CreateContact(context.Background(), map[string]string{"email": "dana@acme.io"})
	var extErr *apperrors.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "create_contact", extErr.Op)
}

func TestUpdateContactSkipsEmpty(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPut, r.Method)
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.UpdateContact(context.Background(), "c1", nil))
	require.NoError(t, client.UpdateContact(context.Background(), "c1", map[string]string{"companyName": "Acme"}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid API key")
	assert.False(t, apperrors.IsRetryable(err))
}
