package statestore

import (
	"time"

	"github.com/wolfman30/leadqual/internal/qualification"
)

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func newTestState(threadID string, lastActivity time.Time) *qualification.ConversationState {
	state := qualification.NewConversationState(threadID, qualification.CustomerInfo{
		ContactID: "contact-" + threadID,
		FirstName: "Jo",
		Email:     threadID + "@example.com",
	}, lastActivity.Add(-time.Hour))
	team := 12
	state.ApplyBusinessUpdate(qualification.BusinessUpdate{TeamSize: &team, PainPoints: []string{"growth"}})
	state.Recompute()
	state.Touch(lastActivity)
	state.RefreshContextSummary()
	return state
}
