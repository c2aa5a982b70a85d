// Package generation adapts language-model providers to the dialogue
// pipeline: a request carries the system prompt, the recent transcript and
// the capability declarations; a reply carries text and requested actions.
package generation

import (
	"context"
	"time"

	"github.com/wolfman30/leadqual/internal/capability"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one transcript entry.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// TokenUsage reports provider token accounting.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Request is a single generation call.
type Request struct {
	System      []string
	History     []Turn
	Message     string
	Tools       []capability.ToolSpec
	MaxTokens   int32
	Temperature float32
}

// Reply is the model's answer. Actions are already decoded into the closed
// capability set; tool calls that failed to decode are listed in Rejected.
type Reply struct {
	Text       string
	Actions    []capability.Action
	Rejected   []string
	StopReason string
	Usage      TokenUsage
	Provider   string
}

// Generator produces a reply for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}
