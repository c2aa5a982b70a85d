package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/leadqual/internal/qualification"
)

type queueClient interface {
	Send(ctx context.Context, msg outgoingMessage) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type outgoingMessage struct {
	// GroupID keeps events of one thread in order on FIFO queues.
	GroupID         string
	DeduplicationID string
	Body            string
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type eventKind string

const (
	eventContactCreated eventKind = "contact_created"
	eventInboundMessage eventKind = "inbound_message"
	eventContactUpdated eventKind = "contact_updated"
)

// ContactEvent carries a CRM contact change.
type ContactEvent struct {
	Customer qualification.CustomerInfo   `json:"customer"`
	Update   qualification.CustomerUpdate `json:"update"`
}

type queuePayload struct {
	ID         string          `json:"id"`
	Kind       eventKind       `json:"kind"`
	ThreadID   string          `json:"thread_id"`
	Message    *MessageRequest `json:"message,omitempty"`
	Contact    *ContactEvent   `json:"contact,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func encodePayload(payload queuePayload) (queuePayload, outgoingMessage, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, outgoingMessage{}, fmt.Errorf("conversation: failed to encode payload: %w", err)
	}
	return payload, outgoingMessage{
		GroupID:         payload.ThreadID,
		DeduplicationID: payload.ID,
		Body:            string(body),
	}, nil
}

func decodePayload(body string) (queuePayload, error) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return queuePayload{}, fmt.Errorf("conversation: failed to decode payload: %w", err)
	}
	if payload.ThreadID == "" {
		return queuePayload{}, fmt.Errorf("conversation: payload %s has no thread id", payload.ID)
	}
	return payload, nil
}
