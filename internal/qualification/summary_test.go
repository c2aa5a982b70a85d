package qualification

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestBuildContextSummary(t *testing.T) {
	state := NewConversationState("t1", CustomerInfo{ContactID: "c1", FirstName: "Ana", LastName: "Bell", CompanyName: "Bell Dental"}, fixedNow)
	state.ApplyBusinessUpdate(BusinessUpdate{
		TeamSize:   intPtr(9),
		PainPoints: []string{"growth", "efficiency", "human error", "manual processes"},
	})
	state.Recompute()

	got := state.BuildContextSummary(MaxContextSummaryLen)
	assert.Equal(t, "Customer: Ana Bell | Company: Bell Dental | Team size: 9 | Pain points: growth, efficiency, human error | Status: qualifying | Stage: greeting | Score: 6", got)
}

func TestBuildContextSummaryTruncates(t *testing.T) {
	state := NewConversationState("t1", CustomerInfo{ContactID: "c1", CompanyName: strings.Repeat("é", 600)}, fixedNow)
	got := state.BuildContextSummary(MaxContextSummaryLen)
	assert.Equal(t, MaxContextSummaryLen, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestRecordInboundUpdatesMetrics(t *testing.T) {
	state := NewConversationState("t1", CustomerInfo{ContactID: "c1"}, fixedNow)
	state.RecordInbound(fixedNow)
	state.RecordInbound(fixedNow.Add(60 * time.Second))
	state.RecordInbound(fixedNow.Add(180 * time.Second))

	assert.Equal(t, 3, state.Metrics.MessageCount)
	assert.InDelta(t, 90.0, state.Metrics.ResponseTimeAvg, 0.001)
	assert.Equal(t, fixedNow.Add(180*time.Second), state.LastActivity)
	assert.InDelta(t, 0.3+0.5, state.Metrics.EngagementScore, 0.0001)
}

func TestEngagementScoreIsCapped(t *testing.T) {
	state := NewConversationState("t1", CustomerInfo{ContactID: "c1"}, fixedNow)
	state.Metrics.MessageCount = 200
	state.Stage = StageCompleted
	state.Qualification.Score = 40
	state.RefreshEngagement()
	assert.Equal(t, 10.0, state.Metrics.EngagementScore)
}

func TestWowMomentContext(t *testing.T) {
	c := CustomerInfo{
		FirstName:    "Sam",
		Source:       "Facebook Lead Ad",
		Tags:         []string{"automation", "webinar"},
		CustomFields: map[string]string{"business_type": "clinic", "favorite_color": "blue", "team_size": "12"},
	}
	got := WowMomentContext(c, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "Contact: Sam | Lead source: Facebook Lead Ad | Interests/Tags: automation, webinar | Business context: business_type: clinic, team_size: 12 | Became a lead: 2026-01-05", got)
	assert.True(t, IsFromAdvertising(c.Source))
	assert.False(t, IsFromAdvertising("website form"))
}
