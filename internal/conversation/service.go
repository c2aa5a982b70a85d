// Package conversation is the engine's service layer: it serializes runs
// per thread, loads and persists conversation states around the dialogue
// pipeline, and exposes the inbound queue, webhook and query surfaces.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/capability"
	"github.com/wolfman30/leadqual/internal/generation"
	"github.com/wolfman30/leadqual/internal/observability/metrics"
	"github.com/wolfman30/leadqual/internal/pipeline"
	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/internal/statestore"
	"github.com/wolfman30/leadqual/internal/threadlock"
	"github.com/wolfman30/leadqual/pkg/logging"
)

const (
	defaultActiveWindow   = 7 * 24 * time.Hour
	defaultRetention      = 30 * 24 * time.Hour
	maxConflictRetries    = 3
	archivePageSize       = 100
	defaultThreadIDLayout = "20060102_150405"
)

// ErrInvalidRequest is wrapped by request validation failures.
var ErrInvalidRequest = errors.New("conversation: invalid request")

// ThreadIDForContact is the stable thread used for a CRM contact.
func ThreadIDForContact(contactID string) string {
	return fmt.Sprintf("contact_%s_conversation", contactID)
}

// DefaultThreadID names a fresh thread when the caller supplied none.
func DefaultThreadID(contactID string, now time.Time) string {
	return fmt.Sprintf("contact_%s_%s", contactID, now.UTC().Format(defaultThreadIDLayout))
}

// MessageRequest is one inbound customer message.
type MessageRequest struct {
	Message      string                      `json:"message"`
	ContactID    string                      `json:"contact_id"`
	ContactInfo  *qualification.CustomerInfo `json:"customer_info,omitempty"`
	ThreadID     string                      `json:"thread_id,omitempty"`
	Channel      string                      `json:"channel,omitempty"`
	ContactAdded time.Time                   `json:"contact_added,omitempty"`
}

// Result is the outcome of ProcessMessage. ReplyText is always set.
type Result struct {
	ReplyText           string                           `json:"response"`
	QualificationStatus qualification.Status             `json:"qualification_status"`
	ConversationStage   qualification.Stage              `json:"conversation_stage"`
	QualificationScore  int                              `json:"qualification_score"`
	ThreadID            string                           `json:"thread_id"`
	Delivered           bool                             `json:"delivered"`
	Error               string                           `json:"error,omitempty"`
	State               *qualification.ConversationState `json:"-"`
}

// Summary is the qualification snapshot of a thread.
type Summary struct {
	ThreadID            string                     `json:"thread_id"`
	ContactID           string                     `json:"contact_id"`
	QualificationStatus qualification.Status       `json:"qualification_status"`
	ConversationStage   qualification.Stage        `json:"conversation_stage"`
	QualificationScore  int                        `json:"qualification_score"`
	BusinessInfo        qualification.BusinessInfo `json:"business_info"`
	PainPoints          []string                   `json:"pain_points"`
	BudgetRange         string                     `json:"budget_range,omitempty"`
	Timeline            string                     `json:"timeline,omitempty"`
	NextActions         []string                   `json:"next_steps,omitempty"`
	MessageCount        int                        `json:"message_count"`
	ContextSummary      string                     `json:"context_summary"`
	FollowUpScheduled   bool                       `json:"follow_up_scheduled"`
	NeedsHumanHandoff   bool                       `json:"needs_human_handoff"`
	LastActivity        time.Time                  `json:"last_activity"`
}

// Alerter notifies the sales team about notable transitions.
type Alerter interface {
	LeadQualified(ctx context.Context, state *qualification.ConversationState) error
	HandoffRequested(ctx context.Context, state *qualification.ConversationState) error
}

// Archiver keeps a copy of a state before it is reaped.
type Archiver interface {
	Archive(ctx context.Context, state *qualification.ConversationState) error
}

// Service drives conversation threads through the pipeline.
type Service struct {
	store        statestore.Store
	engine       *pipeline.Engine
	locker       threadlock.Locker
	transcript   Transcript
	alerts       Alerter
	archiver     Archiver
	metrics      *metrics.EngineMetrics
	logger       *logging.Logger
	now          func() time.Time
	activeWindow time.Duration
	retention    time.Duration
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

func WithLocker(l threadlock.Locker) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithTranscript(t Transcript) ServiceOption {
	return func(s *Service) {
		s.transcript = t
	}
}

func WithAlerter(a Alerter) ServiceOption {
	return func(s *Service) {
		s.alerts = a
	}
}

func WithArchiver(a Archiver) ServiceOption {
	return func(s *Service) {
		s.archiver = a
	}
}

func WithMetrics(m *metrics.EngineMetrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithServiceLogger(l *logging.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithActiveWindow sets how far back ListActiveConversations looks.
func WithActiveWindow(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.activeWindow = d
		}
	}
}

// WithRetention sets the default age used by the reaper.
func WithRetention(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

// NewService wires the engine service.
func NewService(store statestore.Store, engine *pipeline.Engine, opts ...ServiceOption) *Service {
	if store == nil {
		panic("conversation: state store cannot be nil")
	}
	if engine == nil {
		panic("conversation: pipeline engine cannot be nil")
	}
	s := &Service{
		store:        store,
		engine:       engine,
		locker:       threadlock.NewLocalLocker(),
		logger:       logging.Default(),
		now:          time.Now,
		activeWindow: defaultActiveWindow,
		retention:    defaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retention is the age after which the reaper deletes threads.
func (s *Service) Retention() time.Duration { return s.retention }

// ProcessMessage runs one customer message through the pipeline and
// persists the result. Only request validation produces an error; every
// other failure yields a Result carrying the fallback reply.
func (s *Service) ProcessMessage(ctx context.Context, req MessageRequest) (*Result, error) {
	req.Message = strings.TrimSpace(req.Message)
	req.ContactID = strings.TrimSpace(req.ContactID)
	if req.Message == "" {
		return nil, invalidRequest("message", req.Message, "required")
	}
	if req.ContactID == "" {
		return nil, invalidRequest("contact_id", req.ContactID, "required")
	}
	channel, err := qualification.ParseChannel(req.Channel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.ThreadID == "" {
		req.ThreadID = DefaultThreadID(req.ContactID, s.now())
	}
	logger := s.logger.WithThread(req.ThreadID)

	unlock, err := s.locker.Lock(ctx, req.ThreadID)
	if err != nil {
		logger.Error("failed to acquire thread lock", "error", err)
		return fallbackResult(req.ThreadID, err), nil
	}
	defer unlock()

	state, err := s.loadOrCreate(ctx, req)
	if err != nil {
		logger.Error("failed to load conversation state", "error", err)
		return fallbackResult(req.ThreadID, err), nil
	}
	prevStatus := state.Qualification.Status
	prevHandoff := state.NeedsHumanHandoff

	history, err := s.transcriptFor(ctx, req.ThreadID)
	if err != nil {
		logger.Warn("transcript unavailable, continuing without history", "error", err)
	}

	in := pipeline.Input{
		Message:      req.Message,
		Channel:      channel,
		History:      history,
		ContactAdded: req.ContactAdded,
	}
	out := s.engine.Run(ctx, state, in)
	s.metrics.ObservePipelineRun(out.Failed())

	state, err = s.persist(ctx, state, req, in, out)
	result := &Result{
		ReplyText:           out.Reply,
		QualificationStatus: state.Qualification.Status,
		ConversationStage:   state.Stage,
		QualificationScore:  state.Qualification.Score,
		ThreadID:            req.ThreadID,
		Delivered:           deliveredReply(out),
		State:               state,
	}
	if out.Err != nil {
		result.Error = out.Err.Error()
	}
	if err != nil {
		logger.Error("failed to persist conversation state", "error", err)
		result.Error = err.Error()
		return result, nil
	}

	s.recordTranscript(ctx, req.ThreadID, req.Message, out.Reply)
	s.metrics.ObserveStatusTransition(string(prevStatus), string(state.Qualification.Status))
	s.notify(ctx, state, prevStatus, prevHandoff)

	logger.Info("message processed",
		"qualification_status", state.Qualification.Status,
		"conversation_stage", state.Stage,
		"qualification_score", state.Qualification.Score,
		"fallback", out.Failed(),
	)
	return result, nil
}

func (s *Service) loadOrCreate(ctx context.Context, req MessageRequest) (*qualification.ConversationState, error) {
	state, err := s.store.Get(ctx, req.ThreadID)
	switch {
	case err == nil:
	case errors.Is(err, statestore.ErrNotFound):
		customer := qualification.CustomerInfo{ContactID: req.ContactID}
		state = qualification.NewConversationState(req.ThreadID, customer, s.now())
	default:
		return nil, err
	}
	if state.Customer.ContactID == "" {
		state.Customer.ContactID = req.ContactID
	}
	if req.ContactInfo != nil {
		state.FillCustomer(*req.ContactInfo)
	}
	return state, nil
}

// persist writes the state, rebasing onto the stored copy when another
// writer got there first. The rebase replays only local effects.
func (s *Service) persist(ctx context.Context, state *qualification.ConversationState, req MessageRequest, in pipeline.Input, out pipeline.Outcome) (*qualification.ConversationState, error) {
	for attempt := 0; ; attempt++ {
		err := s.store.Put(ctx, state)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, statestore.ErrVersionConflict) || attempt >= maxConflictRetries {
			return state, err
		}
		s.metrics.ObserveVersionConflict()
		s.logger.WithThread(state.ThreadID).Warn("version conflict, rebasing", "attempt", attempt+1)

		fresh, err := s.store.Get(ctx, state.ThreadID)
		if err != nil {
			return state, err
		}
		if req.ContactInfo != nil {
			fresh.FillCustomer(*req.ContactInfo)
		}
		s.engine.Reapply(fresh, in, out)
		state = fresh
	}
}

func (s *Service) transcriptFor(ctx context.Context, threadID string) ([]generation.Turn, error) {
	if s.transcript == nil {
		return nil, nil
	}
	return s.transcript.Recent(ctx, threadID)
}

func (s *Service) recordTranscript(ctx context.Context, threadID, message, reply string) {
	if s.transcript == nil {
		return
	}
	now := s.now().UTC()
	err := s.transcript.Append(ctx, threadID,
		generation.Turn{Role: generation.RoleUser, Content: message, At: now},
		generation.Turn{Role: generation.RoleAssistant, Content: reply, At: now},
	)
	if err != nil {
		s.logger.WithThread(threadID).Warn("failed to append transcript", "error", err)
	}
}

func (s *Service) notify(ctx context.Context, state *qualification.ConversationState, prevStatus qualification.Status, prevHandoff bool) {
	if s.alerts == nil {
		return
	}
	if prevStatus != qualification.StatusQualified && state.Qualification.Status == qualification.StatusQualified {
		err := s.alerts.LeadQualified(ctx, state)
		s.metrics.ObserveAlert("qualified", err)
		if err != nil {
			s.logger.WithThread(state.ThreadID).Warn("qualified lead alert failed", "error", err)
		}
	}
	if !prevHandoff && state.NeedsHumanHandoff {
		err := s.alerts.HandoffRequested(ctx, state)
		s.metrics.ObserveAlert("handoff", err)
		if err != nil {
			s.logger.WithThread(state.ThreadID).Warn("handoff alert failed", "error", err)
		}
	}
}

// CreateConversation stores a new thread for a contact. An existing thread
// is returned unchanged apart from blank customer fields being filled.
func (s *Service) CreateConversation(ctx context.Context, threadID string, customer qualification.CustomerInfo) (*qualification.ConversationState, error) {
	customer.ContactID = strings.TrimSpace(customer.ContactID)
	if customer.ContactID == "" {
		return nil, invalidRequest("contact_id", "", "required")
	}
	if threadID == "" {
		threadID = ThreadIDForContact(customer.ContactID)
	}

	unlock, err := s.locker.Lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	state, err := s.store.Get(ctx, threadID)
	switch {
	case err == nil:
		state.FillCustomer(customer)
	case errors.Is(err, statestore.ErrNotFound):
		state = qualification.NewConversationState(threadID, customer, s.now())
		state.RefreshContextSummary()
	default:
		return nil, err
	}
	if err := s.store.Put(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// UpdateContact merges a partial customer update into an existing thread.
// It reports statestore.ErrNotFound when the thread does not exist.
func (s *Service) UpdateContact(ctx context.Context, threadID string, update qualification.CustomerUpdate) (*qualification.ConversationState, error) {
	if threadID == "" {
		return nil, invalidRequest("thread_id", "", "required")
	}
	unlock, err := s.locker.Lock(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		state, err := s.store.Get(ctx, threadID)
		if err != nil {
			return nil, err
		}
		if update.Empty() {
			return state, nil
		}
		state.ApplyCustomerUpdate(update)
		state.Touch(s.now())
		state.RefreshContextSummary()
		err = s.store.Put(ctx, state)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, statestore.ErrVersionConflict) || attempt >= maxConflictRetries {
			return nil, err
		}
		s.metrics.ObserveVersionConflict()
	}
}

// GetSummary returns the qualification snapshot of a thread.
func (s *Service) GetSummary(ctx context.Context, threadID string) (*Summary, error) {
	state, err := s.store.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return &Summary{
		ThreadID:            state.ThreadID,
		ContactID:           state.Customer.ContactID,
		QualificationStatus: state.Qualification.Status,
		ConversationStage:   state.Stage,
		QualificationScore:  state.Qualification.Score,
		BusinessInfo:        state.Business,
		PainPoints:          append([]string{}, state.Business.PainPoints...),
		BudgetRange:         state.Qualification.BudgetRange,
		Timeline:            state.Qualification.Timeline,
		NextActions:         state.NextActions,
		MessageCount:        state.Metrics.MessageCount,
		ContextSummary:      state.ContextSummary,
		FollowUpScheduled:   state.FollowUpScheduled,
		NeedsHumanHandoff:   state.NeedsHumanHandoff,
		LastActivity:        state.LastActivity,
	}, nil
}

// ListActiveConversations lists threads active within the active window,
// most recent first.
func (s *Service) ListActiveConversations(ctx context.Context, limit int) ([]statestore.Summary, error) {
	return s.store.Scan(ctx, s.now().Add(-s.activeWindow), limit)
}

// CleanupOlderThan deletes threads whose last activity is strictly older
// than now minus days, archiving each one first when an archiver is set.
func (s *Service) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, invalidRequest("days", fmt.Sprint(days), "must be positive")
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	if s.archiver == nil {
		return s.store.DeleteOlderThan(ctx, cutoff)
	}

	var total int64
	for {
		page, err := s.store.ListExpired(ctx, cutoff, archivePageSize)
		if err != nil {
			return total, err
		}
		for _, state := range page {
			if err := s.archiver.Archive(ctx, state); err != nil {
				return total, fmt.Errorf("conversation: archive %s: %w", state.ThreadID, err)
			}
		}
		if len(page) < archivePageSize {
			n, err := s.store.DeleteOlderThan(ctx, cutoff)
			return total + n, err
		}
		// Everything strictly older than the page's newest entry is archived.
		boundary := page[len(page)-1].LastActivity
		n, err := s.store.DeleteOlderThan(ctx, boundary)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			s.logger.Warn("cleanup stalled on a page sharing one timestamp; remaining threads kept for the next run",
				"boundary", boundary)
			return total, nil
		}
	}
}

func fallbackResult(threadID string, err error) *Result {
	return &Result{
		ReplyText:           pipeline.FallbackReply,
		QualificationStatus: qualification.StatusInitial,
		ConversationStage:   qualification.StageGreeting,
		ThreadID:            threadID,
		Error:               err.Error(),
	}
}

func deliveredReply(out pipeline.Outcome) bool {
	for _, a := range out.Applied {
		if a.Name() == capability.NameSendMessage {
			return true
		}
	}
	return false
}

func invalidRequest(field, value, reason string) error {
	return fmt.Errorf("%w: %w", ErrInvalidRequest, &apperrors.ValidationError{Field: field, Value: value, Reason: reason})
}
