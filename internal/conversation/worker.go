package conversation

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/crm"
	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/internal/statestore"
	"github.com/wolfman30/leadqual/pkg/logging"
)

// Processor is the subset of *Service the worker drives.
type Processor interface {
	ProcessMessage(ctx context.Context, req MessageRequest) (*Result, error)
	CreateConversation(ctx context.Context, threadID string, customer qualification.CustomerInfo) (*qualification.ConversationState, error)
	UpdateContact(ctx context.Context, threadID string, update qualification.CustomerUpdate) (*qualification.ConversationState, error)
}

var _ Processor = (*Service)(nil)

// ReplySender delivers replies the pipeline did not already send through a
// send_message action. *crm.Client implements it.
type ReplySender interface {
	SendMessage(ctx context.Context, contactID, message string, channel qualification.Channel) (crm.MessageResult, error)
}

// Worker consumes inbound events and dispatches them to per-thread shards,
// so events of one thread are processed one at a time in arrival order.
type Worker struct {
	processor Processor
	queue     queueClient
	replies   ReplySender
	logger    *logging.Logger
	cfg       workerConfig
	wg        sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	shardBuffer      int
	replies          ReplySender
}

const (
	defaultWorkerCount   = 4
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	defaultShardBuffer   = 16
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	replyTimeout         = 15 * time.Second
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of thread shards.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithReplySender wires outbound delivery of pipeline replies.
func WithReplySender(sender ReplySender) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.replies = sender
	}
}

// NewWorker constructs a queue consumer around the provided processor.
func NewWorker(processor Processor, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("conversation: processor cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		shardBuffer:      defaultShardBuffer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		processor: processor,
		queue:     queue,
		replies:   cfg.replies,
		logger:    logger,
		cfg:       cfg,
	}
}

type shardItem struct {
	msg     queueMessage
	payload queuePayload
}

// Start launches the poller and shard goroutines until ctx is cancelled.
// Events already handed to a shard are finished after cancellation.
func (w *Worker) Start(ctx context.Context) {
	shards := make([]chan shardItem, w.cfg.workers)
	work := context.WithoutCancel(ctx)
	for i := range shards {
		shards[i] = make(chan shardItem, w.cfg.shardBuffer)
		w.wg.Add(1)
		go w.runShard(work, i+1, shards[i])
	}
	w.wg.Add(1)
	go w.poll(ctx, shards)
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) poll(ctx context.Context, shards []chan shardItem) {
	defer w.wg.Done()
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
	}()
	w.logger.Debug("conversation poller started", "shards", len(shards))

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("conversation poller stopping")
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive conversation events", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			payload, err := decodePayload(msg.Body)
			if err != nil {
				w.logger.Error("dropping undecodable conversation event", "error", err, "msg_id", msg.ID)
				w.deleteMessage(context.Background(), msg.ReceiptHandle)
				continue
			}
			shard := shards[shardFor(payload.ThreadID, len(shards))]
			select {
			case shard <- shardItem{msg: msg, payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) runShard(ctx context.Context, shardID int, items <-chan shardItem) {
	defer w.wg.Done()
	for item := range items {
		w.handle(ctx, item.payload)
		w.deleteMessage(ctx, item.msg.ReceiptHandle)
	}
	w.logger.Debug("conversation shard stopped", "shard", shardID)
}

// HandleEvent decodes one queued event body and processes it synchronously,
// for consumers that receive messages themselves such as an SQS-triggered
// function. Undecodable bodies are logged and dropped.
func (w *Worker) HandleEvent(ctx context.Context, body string) error {
	payload, err := decodePayload(body)
	if err != nil {
		w.logger.Error("dropping undecodable conversation event", "error", err)
		return nil
	}
	return w.handle(ctx, payload)
}

func (w *Worker) handle(ctx context.Context, payload queuePayload) error {
	logger := w.logger.WithThread(payload.ThreadID)
	logger.Info("worker processing event", "event_id", payload.ID, "kind", payload.Kind)

	var err error
	switch payload.Kind {
	case eventContactCreated:
		err = w.handleContactCreated(ctx, payload)
	case eventInboundMessage:
		err = w.handleInboundMessage(ctx, payload)
	case eventContactUpdated:
		err = w.handleContactUpdated(ctx, payload)
	default:
		err = fmt.Errorf("conversation: unknown event kind %q", payload.Kind)
	}
	if err != nil {
		logger.Error("conversation event failed", "error", err, "event_id", payload.ID, "kind", payload.Kind)
	}
	return err
}

func (w *Worker) handleContactCreated(ctx context.Context, payload queuePayload) error {
	if payload.Contact == nil {
		return errors.New("conversation: contact event missing contact")
	}
	customer := payload.Contact.Customer
	if _, err := w.processor.CreateConversation(ctx, payload.ThreadID, customer); err != nil {
		return err
	}
	req := MessageRequest{
		Message:      IntroMessage(customer),
		ContactID:    customer.ContactID,
		ContactInfo:  &customer,
		ThreadID:     payload.ThreadID,
		ContactAdded: payload.EnqueuedAt,
	}
	return w.process(ctx, req)
}

func (w *Worker) handleInboundMessage(ctx context.Context, payload queuePayload) error {
	if payload.Message == nil {
		return errors.New("conversation: message event missing message")
	}
	req := *payload.Message
	req.ThreadID = payload.ThreadID
	return w.process(ctx, req)
}

func (w *Worker) handleContactUpdated(ctx context.Context, payload queuePayload) error {
	if payload.Contact == nil {
		return errors.New("conversation: contact event missing contact")
	}
	_, err := w.processor.UpdateContact(ctx, payload.ThreadID, payload.Contact.Update)
	if errors.Is(err, statestore.ErrNotFound) {
		w.logger.WithThread(payload.ThreadID).Info("no conversation for contact update")
		return nil
	}
	return err
}

func (w *Worker) process(ctx context.Context, req MessageRequest) error {
	res, err := w.processor.ProcessMessage(ctx, req)
	if err != nil {
		if apperrors.IsValidation(err) {
			w.logger.WithThread(req.ThreadID).Warn("rejected inbound message", "error", err)
			return nil
		}
		return err
	}
	w.deliver(ctx, req, res)
	return nil
}

func (w *Worker) deliver(ctx context.Context, req MessageRequest, res *Result) {
	if w.replies == nil || res == nil || res.Delivered || strings.TrimSpace(res.ReplyText) == "" {
		return
	}
	channel, err := qualification.ParseChannel(req.Channel)
	if err != nil {
		channel = qualification.ChannelSMS
	}
	sendCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	if _, err := w.replies.SendMessage(sendCtx, req.ContactID, res.ReplyText, channel); err != nil {
		w.logger.WithThread(req.ThreadID).Error("failed to deliver reply", "error", err, "channel", channel)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation event", "error", err)
	}
}

func shardFor(threadID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(threadID))
	return int(h.Sum32() % uint32(n))
}

// IntroMessage is the synthetic first message for a newly created lead,
// phrased from the lead's point of view.
func IntroMessage(c qualification.CustomerInfo) string {
	greeting := "Hi there!"
	if name := strings.TrimSpace(c.FirstName); name != "" {
		greeting = "Hi! I'm " + name + "."
	}
	if qualification.IsFromAdvertising(c.Source) {
		form, campaign := "form", "Facebook"
		if v := strings.TrimSpace(c.CustomFields["metaFormName"]); v != "" {
			form = v
		}
		if v := strings.TrimSpace(c.CustomFields["metaCampaignName"]); v != "" {
			campaign = v
		}
		return greeting + " I just filled out your " + form + " from your " + campaign + " ad. I'm interested in learning more about automation services."
	}
	return greeting + " I'm interested in your automation services."
}
