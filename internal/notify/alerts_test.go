package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/leadqual/internal/qualification"
)

type recordingSender struct {
	sent []EmailMessage
	err  error
}

func (r *recordingSender) Send(ctx context.Context, msg EmailMessage) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func qualifiedState() *qualification.ConversationState {
	state := qualification.NewConversationState("contact_c1_conversation", qualification.CustomerInfo{
		ContactID:   "c1",
		FirstName:   "Dana",
		LastName:    "Reyes",
		CompanyName: "Acme Roofing",
		Email:       "dana@example.com",
	}, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	team := 15
	state.Business.TeamSize = &team
	state.Business.PainPoints = []string{"manual processes", "growth"}
	state.Qualification.Status = qualification.StatusQualified
	state.Qualification.Score = 17
	state.Qualification.Timeline = "asap"
	return state
}

func TestLeadAlerter_LeadQualified(t *testing.T) {
	sender := &recordingSender{}
	alerter := NewLeadAlerter(sender, "sales@example.com", nil)
	require.NotNil(t, alerter)

	require.NoError(t, alerter.LeadQualified(context.Background(), qualifiedState()))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "sales@example.com", msg.To)
	assert.Equal(t, "Qualified lead: Dana Reyes at Acme Roofing (score 17)", msg.Subject)
	assert.Contains(t, msg.Body, "Team size: 15")
	assert.Contains(t, msg.Body, "Pain points: manual processes, growth")
	assert.Contains(t, msg.Body, "Timeline: asap")
	assert.NotContains(t, msg.Body, "Budget:")
	assert.Equal(t, "dana@example.com", msg.ReplyTo)
	assert.Equal(t, "lead_qualified", msg.Category)
	assert.Equal(t, "contact_c1_conversation", msg.ThreadID)
}

func TestLeadAlerter_HandoffRequested(t *testing.T) {
	sender := &recordingSender{}
	alerter := NewLeadAlerter(sender, "sales@example.com", nil)
	state := qualification.NewConversationState("t2", qualification.CustomerInfo{ContactID: "c2"}, time.Now())

	require.NoError(t, alerter.HandoffRequested(context.Background(), state))
	assert.Equal(t, "Handoff requested: contact c2", sender.sent[0].Subject)
	assert.Equal(t, "handoff_requested", sender.sent[0].Category)
	assert.Empty(t, sender.sent[0].ReplyTo)
}

func TestLeadAlerter_SendFailure(t *testing.T) {
	alerter := NewLeadAlerter(&recordingSender{err: errors.New("smtp down")}, "sales@example.com", nil)

	err := alerter.LeadQualified(context.Background(), qualifiedState())
	assert.ErrorContains(t, err, "contact_c1_conversation")
	assert.Error(t, alerter.LeadQualified(context.Background(), nil))
}

func TestNewLeadAlerter_Unconfigured(t *testing.T) {
	assert.Nil(t, NewLeadAlerter(nil, "sales@example.com", nil))
	assert.Nil(t, NewLeadAlerter(&recordingSender{}, " ", nil))
}
