// Package crm is a small client for the CRM's contact and conversation API.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/pkg/logging"
)

const (
	// DefaultBaseURL is the CRM's public API host.
	DefaultBaseURL = "https://services.leadconnectorhq.com"
	apiVersion     = "2021-07-28"
	defaultTimeout = 15 * time.Second
	lookupRetryGap = 300 * time.Millisecond
	serviceName    = "crm"
)

// Client calls the CRM REST API with a bearer token.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retryGap   time.Duration
	now        func() time.Time
	logger     *logging.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithRetryGap sets the pause before a lookup is retried.
func WithRetryGap(d time.Duration) Option {
	return func(cl *Client) {
		cl.retryGap = d
	}
}

// NewClient builds a client. baseURL defaults to DefaultBaseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	if strings.TrimSpace(apiKey) == "" {
		panic("crm: api key cannot be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		retryGap:   lookupRetryGap,
		now:        time.Now,
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MessageResult identifies a sent message.
type MessageResult struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
}

// SendMessage delivers text to the contact on channel. It is never retried.
func (c *Client) SendMessage(ctx context.Context, contactID, message string, channel qualification.Channel) (MessageResult, error) {
	var out MessageResult
	body := map[string]string{
		"type":      string(channel),
		"contactId": contactID,
		"message":   message,
	}
	err := c.do(ctx, "send_message", http.MethodPost, "/conversations/messages", body, &out, false)
	return out, err
}

// AddTag tags the contact.
func (c *Client) AddTag(ctx context.Context, contactID, tag string) error {
	body := map[string][]string{"tags": {tag}}
	return c.do(ctx, "add_tag", http.MethodPost, "/contacts/"+url.PathEscape(contactID)+"/tags", body, nil, false)
}

// CreateNote attaches a note to the contact.
func (c *Client) CreateNote(ctx context.Context, contactID, note string) error {
	body := map[string]string{
		"body":      note,
		"userId":    "system",
		"dateAdded": c.now().UTC().Format(time.RFC3339),
	}
	return c.do(ctx, "create_note", http.MethodPost, "/contacts/"+url.PathEscape(contactID)+"/notes", body, nil, false)
}

// UpdateContact writes the given contact fields.
func (c *Client) UpdateContact(ctx context.Context, contactID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return c.do(ctx, "update_contact", http.MethodPut, "/contacts/"+url.PathEscape(contactID), fields, nil, false)
}

// CreateContact creates a contact from the given fields and returns the
// stored record. It is never retried.
func (c *Client) CreateContact(ctx context.Context, fields map[string]string) (*Contact, error) {
	var out struct {
		Contact contactPayload `json:"contact"`
	}
	if err := c.do(ctx, "create_contact", http.MethodPost, "/contacts/", fields, &out, false); err != nil {
		return nil, err
	}
	if out.Contact.ID == "" {
		return nil, &apperrors.ExternalServiceError{Service: serviceName, Op: "create_contact", Err: errors.New("response has no contact id")}
	}
	contact := out.Contact.toContact()
	return &contact, nil
}

// GetContact fetches the contact record. Retried once on transient failure.
func (c *Client) GetContact(ctx context.Context, contactID string) (*Contact, error) {
	var out struct {
		Contact contactPayload `json:"contact"`
	}
	if err := c.do(ctx, "get_contact", http.MethodGet, "/contacts/"+url.PathEscape(contactID), nil, &out, true); err != nil {
		return nil, err
	}
	contact := out.Contact.toContact()
	return &contact, nil
}

// SearchContacts finds contacts by email, phone or name.
func (c *Client) SearchContacts(ctx context.Context, query string, field SearchField) ([]Contact, error) {
	if field == "" {
		field = SearchByEmail
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("type", string(field))

	var out struct {
		Contacts []contactPayload `json:"contacts"`
	}
	if err := c.do(ctx, "search_contacts", http.MethodGet, "/contacts/search?"+params.Encode(), nil, &out, true); err != nil {
		return nil, err
	}
	contacts := make([]Contact, 0, len(out.Contacts))
	for _, p := range out.Contacts {
		contacts = append(contacts, p.toContact())
	}
	return contacts, nil
}

// Ping verifies credentials with a one-record listing.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/contacts/?limit=1", nil, nil, false)
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any, retry bool) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("crm: marshal %s: %w", op, err)
		}
		payload = data
	}

	err := c.once(ctx, op, method, path, payload, out)
	if err == nil || !retry || !apperrors.IsRetryable(err) {
		return err
	}
	c.logger.Warn("crm: retrying lookup", "op", op, "error", err)
	select {
	case <-ctx.Done():
		return err
	case <-time.After(c.retryGap):
	}
	return c.once(ctx, op, method, path, payload, out)
}

func (c *Client) once(ctx context.Context, op, method, path string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("crm: build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Version", apiVersion)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &apperrors.ExternalServiceError{Service: serviceName, Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &apperrors.ExternalServiceError{Service: serviceName, Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apperrors.ExternalServiceError{
			Service:    serviceName,
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        statusError(resp.StatusCode, data),
		}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &apperrors.ExternalServiceError{Service: serviceName, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func statusError(code int, body []byte) error {
	switch code {
	case http.StatusUnauthorized:
		return errors.New("invalid API key or expired token")
	case http.StatusForbidden:
		return errors.New("insufficient permissions for this operation")
	case http.StatusNotFound:
		return errors.New("resource not found")
	case http.StatusTooManyRequests:
		return errors.New("rate limit exceeded")
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(code)
	}
	return errors.New(msg)
}
