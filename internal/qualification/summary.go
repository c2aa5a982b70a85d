package qualification

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// MaxContextSummaryLen bounds the stored context summary.
const MaxContextSummaryLen = 500

// BuildContextSummary renders a one-line digest of the thread for prompts
// and dashboards, truncated to maxLen runes with a trailing ellipsis.
func (s *ConversationState) BuildContextSummary(maxLen int) string {
	var parts []string
	if name := s.Customer.FullName(); name != "" {
		parts = append(parts, "Customer: "+name)
	}
	if s.Customer.CompanyName != "" {
		parts = append(parts, "Company: "+s.Customer.CompanyName)
	}
	if s.Business.TeamSize != nil {
		parts = append(parts, fmt.Sprintf("Team size: %d", *s.Business.TeamSize))
	}
	if len(s.Business.PainPoints) > 0 {
		points := s.Business.PainPoints
		if len(points) > 3 {
			points = points[:3]
		}
		parts = append(parts, "Pain points: "+strings.Join(points, ", "))
	}
	parts = append(parts,
		"Status: "+string(s.Qualification.Status),
		"Stage: "+string(s.Stage),
		fmt.Sprintf("Score: %d", s.Qualification.Score),
	)
	return truncate(strings.Join(parts, " | "), maxLen)
}

// RefreshContextSummary regenerates the stored summary.
func (s *ConversationState) RefreshContextSummary() {
	s.ContextSummary = s.BuildContextSummary(MaxContextSummaryLen)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// RecordInbound counts an inbound message received at now and updates the
// rolling customer response time and the engagement score.
func (s *ConversationState) RecordInbound(now time.Time) {
	now = now.UTC()
	m := &s.Metrics
	if m.MessageCount > 0 && !s.LastActivity.IsZero() && now.After(s.LastActivity) {
		gap := now.Sub(s.LastActivity).Seconds()
		m.ResponseTimeAvg += (gap - m.ResponseTimeAvg) / float64(m.MessageCount)
	}
	m.MessageCount++
	s.Touch(now)
	s.RefreshEngagement()
}

// RecordTool notes that a capability action ran during the thread.
func (s *ConversationState) RecordTool(name string) {
	s.Metrics.ToolsUsed = MergeUnique(s.Metrics.ToolsUsed, []string{name})
}

// RefreshEngagement recomputes the 0–10 engagement score from message
// volume, stage progress and qualification score.
func (s *ConversationState) RefreshEngagement() {
	volume := math.Min(float64(s.Metrics.MessageCount)*0.1, 5)
	score := volume + s.Stage.weight()*0.5 + float64(s.Qualification.Score)*0.1
	s.Metrics.EngagementScore = math.Min(score, 10)
}
