package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/leadqual/cmd/mainconfig"
	"github.com/wolfman30/leadqual/internal/app/bootstrap"
	"github.com/wolfman30/leadqual/internal/capability"
	appconfig "github.com/wolfman30/leadqual/internal/config"
	"github.com/wolfman30/leadqual/internal/generation"
	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/pkg/logging"
)

// llmtest sends one lead message through the configured providers with the
// real system prompt and tool declarations, then prints the reply and any
// requested actions. Nothing is persisted and no CRM call is made.
func main() {
	message := flag.String("message", "We're a 15 person agency drowning in manual follow-ups. Budget is around $2k a month and we need something asap.", "inbound lead message")
	timeout := flag.Duration("timeout", 45*time.Second, "overall timeout")
	flag.Parse()

	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load aws config: %v\n", err)
		os.Exit(1)
	}
	gen, closeGen, err := bootstrap.BuildGenerator(ctx, cfg, awsCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build generator: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = closeGen() }()

	now := time.Now()
	state := qualification.NewConversationState("llmtest", qualification.CustomerInfo{
		ContactID:   "llmtest",
		FirstName:   "Dana",
		CompanyName: "Northwind Agency",
		Source:      "Facebook Lead Ad",
	}, now)

	tools := capability.Specs()
	req := generation.Request{
		System:      generation.BuildSystemPrompt(generation.PromptContext{State: state, Tools: tools, ContactAdded: now}),
		Message:     *message,
		Tools:       tools,
		MaxTokens:   1024,
		Temperature: 0.7,
	}

	start := time.Now()
	reply, err := gen.Generate(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("provider: %s (%s)\n", reply.Provider, time.Since(start).Round(time.Millisecond))
	fmt.Printf("tokens: in=%d out=%d\n", reply.Usage.InputTokens, reply.Usage.OutputTokens)
	fmt.Printf("reply: %s\n", reply.Text)
	for _, a := range reply.Actions {
		fmt.Printf("action: %s %+v\n", a.Name(), a)
	}
	for _, r := range reply.Rejected {
		fmt.Printf("rejected tool call: %s\n", r)
	}

	state.ApplySignals(qualification.ExtractSignals(*message))
	state.RecordInbound(now)
	state.Recompute()
	state.Advance()
	fmt.Printf("score: %d status: %s stage: %s\n", state.Qualification.Score, state.Qualification.Status, state.Stage)
}
