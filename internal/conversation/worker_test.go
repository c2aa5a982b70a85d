package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/crm"
	"github.com/wolfman30/leadqual/internal/generation"
	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/internal/statestore"
	"github.com/wolfman30/leadqual/pkg/logging"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	calls chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{calls: make(chan struct{}, 64)}
}

func (s *recordingSender) SendMessage(ctx context.Context, contactID, message string, channel qualification.Channel) (crm.MessageResult, error) {
	s.mu.Lock()
	s.sent = append(s.sent, fmt.Sprintf("%s|%s|%s", contactID, channel, message))
	s.mu.Unlock()
	s.calls <- struct{}{}
	return crm.MessageResult{MessageID: "sent"}, nil
}

// orderingProcessor records the messages seen per thread.
type orderingProcessor struct {
	mu    sync.Mutex
	seen  map[string][]string
	done  chan struct{}
	total int
}

func (p *orderingProcessor) ProcessMessage(ctx context.Context, req MessageRequest) (*Result, error) {
	p.mu.Lock()
	p.seen[req.ThreadID] = append(p.seen[req.ThreadID], req.Message)
	p.total++
	p.mu.Unlock()
	p.done <- struct{}{}
	return &Result{ReplyText: "ok", ThreadID: req.ThreadID, Delivered: true}, nil
}

func (p *orderingProcessor) CreateConversation(ctx context.Context, threadID string, customer qualification.CustomerInfo) (*qualification.ConversationState, error) {
	return qualification.NewConversationState(threadID, customer, testNow), nil
}

func (p *orderingProcessor) UpdateContact(ctx context.Context, threadID string, update qualification.CustomerUpdate) (*qualification.ConversationState, error) {
	return nil, statestore.ErrNotFound
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out after %d of %d events", i, n)
		}
	}
}

func TestWorker_PreservesPerThreadOrder(t *testing.T) {
	queue := NewMemoryQueue(64)
	pub := NewPublisher(queue, logging.Default())
	proc := &orderingProcessor{seen: map[string][]string{}, done: make(chan struct{}, 64)}
	worker := NewWorker(proc, queue, logging.Default(), WithWorkerCount(3), WithReceiveWaitSeconds(1), WithReceiveBatchSize(10))

	ctx := context.Background()
	const perThread = 5
	for i := 0; i < perThread; i++ {
		for _, contact := range []string{"a", "b", "c", "d"} {
			req := MessageRequest{Message: fmt.Sprintf("%s-%d", contact, i), ContactID: contact}
			require.NoError(t, pub.EnqueueMessage(ctx, "", req))
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	worker.Start(runCtx)
	waitFor(t, proc.done, 4*perThread)
	cancel()
	worker.Wait()

	for _, contact := range []string{"a", "b", "c", "d"} {
		got := proc.seen[ThreadIDForContact(contact)]
		require.Len(t, got, perThread)
		for i, msg := range got {
			assert.Equal(t, fmt.Sprintf("%s-%d", contact, i), msg)
		}
	}
}

func TestWorker_ContactCreatedRunsIntroAndDeliversReply(t *testing.T) {
	store := statestore.NewMemoryStore()
	svc := newTestService(t, store, &stubGenerator{reply: generation.Reply{Text: "Welcome, Dana!"}})
	queue := NewMemoryQueue(8)
	sender := newRecordingSender()
	worker := NewWorker(svc, queue, logging.Default(), WithWorkerCount(1), WithReceiveWaitSeconds(1), WithReplySender(sender))

	ctx := context.Background()
	customer := qualification.CustomerInfo{ContactID: "c1", FirstName: "Dana", Source: "Facebook Lead Ad"}
	require.NoError(t, NewPublisher(queue, nil).EnqueueContactCreated(ctx, "evt-1", customer))

	runCtx, cancel := context.WithCancel(ctx)
	worker.Start(runCtx)
	waitFor(t, sender.calls, 1)
	cancel()
	worker.Wait()

	assert.Equal(t, []string{"c1|SMS|Welcome, Dana!"}, sender.sent)
	state, err := store.Get(ctx, "contact_c1_conversation")
	require.NoError(t, err)
	assert.Equal(t, "Dana", state.Customer.FirstName)
	assert.Equal(t, 1, state.Metrics.MessageCount)
}

func TestWorker_ContactUpdatedForUnknownThreadIsIgnored(t *testing.T) {
	proc := &orderingProcessor{seen: map[string][]string{}, done: make(chan struct{}, 1)}
	worker := NewWorker(proc, NewMemoryQueue(1), logging.Default())

	company := "Acme"
	payload := queuePayload{
		Kind:     eventContactUpdated,
		ThreadID: ThreadIDForContact("c1"),
		Contact:  &ContactEvent{Update: qualification.CustomerUpdate{CompanyName: &company}},
	}
	assert.NoError(t, worker.handleContactUpdated(context.Background(), payload))
}

type failingProcessor struct {
	orderingProcessor
	err error
}

func (p *failingProcessor) ProcessMessage(ctx context.Context, req MessageRequest) (*Result, error) {
	return nil, p.err
}

func TestWorker_HandleEventProcessesSynchronously(t *testing.T) {
	proc := &orderingProcessor{seen: map[string][]string{}, done: make(chan struct{}, 4)}
	sender := newRecordingSender()
	worker := NewWorker(proc, NewMemoryQueue(1), logging.Default(), WithReplySender(sender))

	_, msg, err := encodePayload(queuePayload{
		Kind:     eventInboundMessage,
		ThreadID: ThreadIDForContact("c1"),
		Message:  &MessageRequest{Message: "We have 12 staff", ContactID: "c1"},
	})
	require.NoError(t, err)

	require.NoError(t, worker.HandleEvent(context.Background(), msg.Body))
	assert.Equal(t, []string{"We have 12 staff"}, proc.seen[ThreadIDForContact("c1")])
	assert.NoError(t, worker.HandleEvent(context.Background(), "{not json"))
}

func TestWorker_HandleEventReturnsProcessingErrors(t *testing.T) {
	storeErr := &apperrors.StoreError{Op: "put", ThreadID: "contact_c1_conversation", Err: errors.New("throttled")}
	proc := &failingProcessor{orderingProcessor: orderingProcessor{seen: map[string][]string{}}, err: storeErr}
	worker := NewWorker(proc, NewMemoryQueue(1), logging.Default())

	_, msg, err := encodePayload(queuePayload{
		Kind:     eventInboundMessage,
		ThreadID: ThreadIDForContact("c1"),
		Message:  &MessageRequest{Message: "hello", ContactID: "c1"},
	})
	require.NoError(t, err)

	err = worker.HandleEvent(context.Background(), msg.Body)
	assert.ErrorIs(t, err, storeErr)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestWorker_SkipsDeliveryWhenAlreadySent(t *testing.T) {
	sender := newRecordingSender()
	worker := NewWorker(&orderingProcessor{seen: map[string][]string{}, done: make(chan struct{}, 1)}, NewMemoryQueue(1), nil, WithReplySender(sender))

	worker.deliver(context.Background(), MessageRequest{ContactID: "c1"}, &Result{ReplyText: "hi", Delivered: true})
	worker.deliver(context.Background(), MessageRequest{ContactID: "c1", Channel: "email"}, &Result{ReplyText: "hello"})

	assert.Equal(t, []string{"c1|Email|hello"}, sender.sent)
}

func TestShardFor_IsStable(t *testing.T) {
	a := shardFor("contact_a_conversation", 4)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, shardFor("contact_a_conversation", 4))
	}
	assert.GreaterOrEqual(t, a, 0)
	assert.Less(t, a, 4)
}

func TestIntroMessage(t *testing.T) {
	assert.Equal(t, "Hi there! I'm interested in your automation services.", IntroMessage(qualification.CustomerInfo{}))
	assert.Equal(t,
		"Hi! I'm Dana. I just filled out your form from your Facebook ad. I'm interested in learning more about automation services.",
		IntroMessage(qualification.CustomerInfo{FirstName: "Dana", Source: "instagram"}),
	)
	assert.Equal(t,
		"Hi there! I just filled out your Ops Audit form from your Spring Automation ad. I'm interested in learning more about automation services.",
		IntroMessage(qualification.CustomerInfo{
			Source:       "Meta Ad - Spring Automation",
			CustomFields: map[string]string{"metaFormName": "Ops Audit form", "metaCampaignName": "Spring Automation"},
		}),
	)
}

func TestDecodePayload_RequiresThread(t *testing.T) {
	_, msg, err := encodePayload(queuePayload{Kind: eventInboundMessage})
	require.NoError(t, err)
	_, err = decodePayload(msg.Body)
	assert.Error(t, err)

	_, err = decodePayload("{not json")
	assert.Error(t, err)
}
