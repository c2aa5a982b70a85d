// Package pipeline runs one dialogue turn against a conversation state:
// compose a reply, execute any requested actions, extract facts from the
// inbound message, rescore, and finalize the reply.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/capability"
	"github.com/wolfman30/leadqual/internal/generation"
	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/pkg/logging"
)

// Step names a pipeline step.
type Step string

const (
	StepCompose  Step = "compose"
	StepActions  Step = "actions"
	StepExtract  Step = "extract"
	StepScore    Step = "score"
	StepFinalize Step = "finalize"
)

const (
	// FallbackReply is returned whenever a run fails.
	FallbackReply = "I apologize, but I'm having a technical issue. Let me help you - could you tell me about your business and what challenges you're facing?"
	// DefaultReply is used when the model answered only with tool calls.
	DefaultReply = "I'm here to help! Could you tell me more about your business?"
)

const (
	defaultGenerationTimeout = 30 * time.Second
	defaultAttempts          = 2
	defaultBackoff           = 500 * time.Millisecond
	defaultDeadline          = 45 * time.Second
)

// Observer receives per-step and per-call measurements.
// *metrics.EngineMetrics satisfies it.
type Observer interface {
	ObserveStep(step string, d time.Duration, err error)
	ObserveAction(action string, err error)
	ObserveGeneration(provider string, d time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveStep(string, time.Duration, error)       {}
func (noopObserver) ObserveAction(string, error)                    {}
func (noopObserver) ObserveGeneration(string, time.Duration, error) {}

// Input is one inbound message with the context compose needs.
type Input struct {
	Message      string
	Channel      qualification.Channel
	History      []generation.Turn
	ContactAdded time.Time
}

// Outcome describes a finished run. Err is a *apperrors.PipelineError when
// the run fell back; Reply is always populated.
type Outcome struct {
	Reply      string
	Provider   string
	Results    []capability.Result
	Applied    []capability.Action
	FailedStep Step
	Err        error
}

// Failed reports whether the run fell back.
func (o Outcome) Failed() bool { return o.Err != nil }

// Engine executes pipeline runs. It holds no per-thread state and is safe
// for concurrent use; callers serialize runs for the same thread.
type Engine struct {
	generator         generation.Generator
	executor          capability.Executor
	logger            *logging.Logger
	tracer            trace.Tracer
	observer          Observer
	tools             []capability.ToolSpec
	now               func() time.Time
	generationTimeout time.Duration
	attempts          int
	backoff           time.Duration
	deadline          time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithGenerationTimeout bounds each generator call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.generationTimeout = d
		}
	}
}

// WithAttempts sets how many times compose calls the generator on retryable errors.
func WithAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.attempts = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.backoff = d
		}
	}
}

// WithDeadline sets the soft deadline for a whole run.
func WithDeadline(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.deadline = d
		}
	}
}

// NewEngine wires a pipeline engine.
func NewEngine(gen generation.Generator, exec capability.Executor, opts ...Option) *Engine {
	if gen == nil {
		panic("pipeline: generator cannot be nil")
	}
	if exec == nil {
		panic("pipeline: executor cannot be nil")
	}
	e := &Engine{
		generator:         gen,
		executor:          exec,
		logger:            logging.Default(),
		tracer:            otel.Tracer("leadqual.internal.pipeline"),
		observer:          noopObserver{},
		tools:             capability.Specs(),
		now:               time.Now,
		generationTimeout: defaultGenerationTimeout,
		attempts:          defaultAttempts,
		backoff:           defaultBackoff,
		deadline:          defaultDeadline,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type run struct {
	state *qualification.ConversationState
	in    Input
	reply generation.Reply
	out   Outcome
	sent  map[string]bool
}

// Run executes one turn, mutating state in place. Whatever happened, the
// returned Outcome carries a reply and state remains safe to persist.
func (e *Engine) Run(ctx context.Context, state *qualification.ConversationState, in Input) Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("thread_id", state.ThreadID),
		attribute.String("stage", string(state.Stage)),
	))
	defer span.End()

	r := &run{state: state, in: in, sent: map[string]bool{}}
	steps := []struct {
		name Step
		fn   func(context.Context, *run) error
	}{
		{StepCompose, e.compose},
		{StepActions, e.actions},
		{StepExtract, e.extract},
		{StepScore, e.score},
		{StepFinalize, e.finalize},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return e.fail(span, r, step.name, fmt.Errorf("pipeline: deadline reached before %s: %w", step.name, err))
		}
		// The only branch: actions run only when the reply asked for them.
		if step.name == StepActions && len(r.reply.Actions) == 0 {
			continue
		}
		start := time.Now()
		err := e.runStep(ctx, step.name, step.fn, r)
		e.observer.ObserveStep(string(step.name), time.Since(start), err)
		if err != nil {
			return e.fail(span, r, step.name, err)
		}
	}
	return r.out
}

func (e *Engine) runStep(ctx context.Context, name Step, fn func(context.Context, *run) error, r *run) error {
	ctx, span := e.tracer.Start(ctx, "pipeline."+string(name))
	defer span.End()
	if err := fn(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (e *Engine) fail(span trace.Span, r *run, step Step, err error) Outcome {
	perr := &apperrors.PipelineError{
		ThreadID: r.state.ThreadID,
		Stage:    string(r.state.Stage),
		Step:     string(step),
		Err:      err,
	}
	span.RecordError(perr)
	span.SetStatus(codes.Error, perr.Error())
	e.logger.WithThread(r.state.ThreadID).Error("pipeline run failed",
		"stage", r.state.Stage,
		"step", step,
		"error", err,
	)

	r.state.Touch(e.now())
	r.state.RefreshContextSummary()
	r.out.Reply = FallbackReply
	r.out.FailedStep = step
	r.out.Err = perr
	return r.out
}

func (e *Engine) compose(ctx context.Context, r *run) error {
	req := generation.Request{
		System: generation.BuildSystemPrompt(generation.PromptContext{
			State:        r.state,
			Tools:        e.tools,
			ContactAdded: r.in.ContactAdded,
		}),
		History:     r.in.History,
		Message:     r.in.Message,
		Tools:       e.tools,
		MaxTokens:   1024,
		Temperature: 0.7,
	}

	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		reply, err := e.generate(ctx, req)
		if err == nil {
			r.reply = reply
			r.out.Provider = reply.Provider
			return nil
		}
		lastErr = err
		if attempt == e.attempts || !apperrors.IsRetryable(err) {
			break
		}
		e.logger.WithThread(r.state.ThreadID).Warn("generation failed, retrying",
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("pipeline: generation retry aborted: %w", ctx.Err())
		case <-time.After(e.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("pipeline: generate reply: %w", lastErr)
}

func (e *Engine) generate(ctx context.Context, req generation.Request) (generation.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, e.generationTimeout)
	defer cancel()
	start := time.Now()
	reply, err := e.generator.Generate(ctx, req)
	e.observer.ObserveGeneration(reply.Provider, time.Since(start), err)
	return reply, err
}

func (e *Engine) actions(ctx context.Context, r *run) error {
	contactID := r.state.Customer.ContactID
	for _, requested := range r.reply.Actions {
		action := capability.Bind(requested, contactID)
		if send, ok := action.(capability.SendMessage); ok {
			key := string(send.Channel) + "\x00" + send.Message
			if r.sent[key] {
				continue
			}
			r.sent[key] = true
		}

		res, err := capability.Execute(ctx, e.executor, action)
		e.observer.ObserveAction(string(action.Name()), err)
		if err != nil {
			return fmt.Errorf("pipeline: %s: %w", action.Name(), err)
		}
		applyResult(r.state, action, res)
		r.out.Applied = append(r.out.Applied, action)
		r.out.Results = append(r.out.Results, res)
	}
	return nil
}

func (e *Engine) extract(_ context.Context, r *run) error {
	applyInbound(r.state, r.in.Message, e.now())
	return nil
}

func (e *Engine) score(_ context.Context, r *run) error {
	r.state.Recompute()
	r.state.Advance()
	return nil
}

func (e *Engine) finalize(_ context.Context, r *run) error {
	text := r.reply.Text
	if text == "" {
		text = DefaultReply
	}
	r.out.Reply = text
	finalizeState(r.state)
	return nil
}

// Reapply replays the local effects of a finished run onto a freshly
// loaded state: action results, extraction and scoring. No generator or
// CRM calls are made, so it is safe to use when rebasing after a version
// conflict.
func (e *Engine) Reapply(state *qualification.ConversationState, in Input, out Outcome) {
	for i, action := range out.Applied {
		var res capability.Result
		if i < len(out.Results) {
			res = out.Results[i]
		}
		applyResult(state, action, res)
	}
	if out.Failed() && stepIndex(out.FailedStep) <= stepIndex(StepExtract) {
		state.Touch(e.now())
		state.RefreshContextSummary()
		return
	}
	applyInbound(state, in.Message, e.now())
	state.Recompute()
	state.Advance()
	finalizeState(state)
}

func stepIndex(s Step) int {
	switch s {
	case StepCompose:
		return 0
	case StepActions:
		return 1
	case StepExtract:
		return 2
	case StepScore:
		return 3
	case StepFinalize:
		return 4
	}
	return -1
}

func applyInbound(state *qualification.ConversationState, message string, now time.Time) {
	state.ApplySignals(qualification.ExtractSignals(message))
	state.RecordInbound(now)
}

func finalizeState(state *qualification.ConversationState) {
	if state.Stage == qualification.StagePresentation {
		state.WowMomentDelivered = true
	}
	state.RefreshEngagement()
	state.RefreshContextSummary()
}
