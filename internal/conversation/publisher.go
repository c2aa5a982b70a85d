package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/pkg/logging"
)

// Publisher enqueues inbound CRM events for asynchronous processing.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// EnqueueContactCreated publishes a new-lead event.
func (p *Publisher) EnqueueContactCreated(ctx context.Context, eventID string, customer qualification.CustomerInfo) error {
	return p.enqueue(ctx, queuePayload{
		ID:       eventID,
		Kind:     eventContactCreated,
		ThreadID: ThreadIDForContact(customer.ContactID),
		Contact:  &ContactEvent{Customer: customer},
	})
}

// EnqueueMessage publishes an inbound customer message.
func (p *Publisher) EnqueueMessage(ctx context.Context, eventID string, req MessageRequest) error {
	if req.ThreadID == "" {
		req.ThreadID = ThreadIDForContact(req.ContactID)
	}
	return p.enqueue(ctx, queuePayload{
		ID:       eventID,
		Kind:     eventInboundMessage,
		ThreadID: req.ThreadID,
		Message:  &req,
	})
}

// EnqueueContactUpdated publishes a contact change.
func (p *Publisher) EnqueueContactUpdated(ctx context.Context, eventID, contactID string, update qualification.CustomerUpdate) error {
	return p.enqueue(ctx, queuePayload{
		ID:       eventID,
		Kind:     eventContactUpdated,
		ThreadID: ThreadIDForContact(contactID),
		Contact:  &ContactEvent{Customer: qualification.CustomerInfo{ContactID: contactID}, Update: update},
	})
}

func (p *Publisher) enqueue(ctx context.Context, payload queuePayload) error {
	payload, msg, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, msg); err != nil {
		return fmt.Errorf("conversation: failed to enqueue event: %w", err)
	}
	p.logger.Debug("conversation event enqueued", "event_id", payload.ID, "kind", payload.Kind, "thread_id", payload.ThreadID)
	return nil
}
