// Package notify emails the sales team when a lead qualifies or asks for a
// human.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/leadqual/internal/qualification"
	"github.com/wolfman30/leadqual/pkg/logging"
)

const (
	categoryQualified = "lead_qualified"
	categoryHandoff   = "handoff_requested"
)

// LeadAlerter sends qualified-lead and handoff alerts to one inbox.
type LeadAlerter struct {
	email  EmailSender
	to     string
	logger *logging.Logger
}

// NewLeadAlerter returns nil when no sender or recipient is configured.
func NewLeadAlerter(email EmailSender, to string, logger *logging.Logger) *LeadAlerter {
	to = strings.TrimSpace(to)
	if email == nil || to == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LeadAlerter{email: email, to: to, logger: logger}
}

// LeadQualified alerts that a thread reached the qualified status.
func (a *LeadAlerter) LeadQualified(ctx context.Context, state *qualification.ConversationState) error {
	if state == nil {
		return errors.New("notify: nil conversation state")
	}
	subject := fmt.Sprintf("Qualified lead: %s (score %d)", leadName(state), state.Qualification.Score)
	return a.send(ctx, state, categoryQualified, subject, "A lead just qualified.")
}

// HandoffRequested alerts that a thread needs a human to take over.
func (a *LeadAlerter) HandoffRequested(ctx context.Context, state *qualification.ConversationState) error {
	if state == nil {
		return errors.New("notify: nil conversation state")
	}
	subject := fmt.Sprintf("Handoff requested: %s", leadName(state))
	return a.send(ctx, state, categoryHandoff, subject, "A lead asked to speak with a person.")
}

func (a *LeadAlerter) send(ctx context.Context, state *qualification.ConversationState, category, subject, intro string) error {
	if a == nil {
		return nil
	}
	err := a.email.Send(ctx, EmailMessage{
		To:       a.to,
		ReplyTo:  strings.TrimSpace(state.Customer.Email),
		Subject:  subject,
		Body:     alertBody(state, intro),
		Category: category,
		ThreadID: state.ThreadID,
	})
	if err != nil {
		return fmt.Errorf("notify: send alert for %s: %w", state.ThreadID, err)
	}
	a.logger.WithThread(state.ThreadID).Info("sales alert sent", "subject", subject)
	return nil
}

func leadName(state *qualification.ConversationState) string {
	c := state.Customer
	switch {
	case c.FullName() != "" && c.CompanyName != "":
		return c.FullName() + " at " + c.CompanyName
	case c.FullName() != "":
		return c.FullName()
	case c.CompanyName != "":
		return c.CompanyName
	}
	return "contact " + c.ContactID
}

func alertBody(state *qualification.ConversationState, intro string) string {
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n\n")

	line := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	c := state.Customer
	line("Name", c.FullName())
	line("Company", c.CompanyName)
	line("Email", c.Email)
	line("Phone", c.Phone)
	line("Lead source", c.Source)
	line("Status", string(state.Qualification.Status))
	line("Score", fmt.Sprint(state.Qualification.Score))
	line("Stage", string(state.Stage))
	if state.Business.TeamSize != nil {
		line("Team size", fmt.Sprint(*state.Business.TeamSize))
	}
	line("Monthly revenue", state.Business.MonthlyRevenue)
	line("Pain points", strings.Join(state.Business.PainPoints, ", "))
	line("Budget", state.Qualification.BudgetRange)
	line("Timeline", state.Qualification.Timeline)
	line("Summary", state.ContextSummary)
	line("Thread", state.ThreadID)
	return b.String()
}
