package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/leadqual/internal/crm"
	"github.com/wolfman30/leadqual/internal/generation"
	"github.com/wolfman30/leadqual/internal/pipeline"
	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/internal/statestore"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

const qualifyingMessage = "We have 15 employees and we're making $50k a month. Manual processes, repetitive tasks and growth are our problems. Budget is $2k and we need it ASAP. I'm the owner."

type stubGenerator struct {
	mu    sync.Mutex
	reply generation.Reply
	err   error
	calls int
}

func (g *stubGenerator) Generate(ctx context.Context, req generation.Request) (generation.Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.reply, g.err
}

type stubExecutor struct {
	mu    sync.Mutex
	sends []string
}

func (e *stubExecutor) SendMessage(ctx context.Context, contactID, message string, channel qualification.Channel) (crm.MessageResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sends = append(e.sends, contactID+":"+message)
	return crm.MessageResult{MessageID: "m"}, nil
}

func (e *stubExecutor) AddTag(ctx context.Context, contactID, tag string) error       { return nil }
func (e *stubExecutor) CreateNote(ctx context.Context, contactID, note string) error { return nil }
func (e *stubExecutor) UpdateContact(ctx context.Context, contactID string, fields map[string]string) error {
	return nil
}
func (e *stubExecutor) GetContact(ctx context.Context, contactID string) (*crm.Contact, error) {
	return &crm.Contact{ID: contactID}, nil
}
func (e *stubExecutor) SearchContacts(ctx context.Context, query string, field crm.SearchField) ([]crm.Contact, error) {
	return nil, nil
}

func clock() time.Time { return testNow }

func newTestService(t *testing.T, store statestore.Store, gen generation.Generator, opts ...ServiceOption) *Service {
	t.Helper()
	engine := pipeline.NewEngine(gen, &stubExecutor{}, pipeline.WithClock(clock), pipeline.WithBackoff(0))
	opts = append([]ServiceOption{WithServiceClock(clock)}, opts...)
	return NewService(store, engine, opts...)
}
