// Package qualification holds the conversation state model and the pure
// rules that score a lead and move the dialogue forward.
package qualification

import (
	"strings"
	"time"
)

// CustomerInfo describes the contact. ContactID is stable for the thread.
type CustomerInfo struct {
	ContactID    string            `json:"contact_id"`
	FirstName    string            `json:"first_name,omitempty"`
	LastName     string            `json:"last_name,omitempty"`
	Email        string            `json:"email,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	CompanyName  string            `json:"company_name,omitempty"`
	JobTitle     string            `json:"job_title,omitempty"`
	Source       string            `json:"source,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// FullName joins first and last name.
func (c CustomerInfo) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// BusinessInfo is what has been learned about the customer's business.
type BusinessInfo struct {
	Industry             string   `json:"industry,omitempty"`
	TeamSize             *int     `json:"team_size,omitempty"`
	MonthlyRevenue       string   `json:"monthly_revenue,omitempty"`
	BusinessType         string   `json:"business_type,omitempty"`
	CurrentTools         []string `json:"current_tools,omitempty"`
	PainPoints           []string `json:"pain_points,omitempty"`
	AutomationExperience string   `json:"automation_experience,omitempty"`
}

// QualificationData carries the facts the score is computed from.
// Score and Status are derived and only written by Recompute.
type QualificationData struct {
	Status              Status   `json:"status"`
	Score               int      `json:"score"`
	BudgetRange         string   `json:"budget_range,omitempty"`
	Timeline            string   `json:"timeline,omitempty"`
	DecisionMaker       *bool    `json:"decision_maker,omitempty"`
	AutomationReadiness *int     `json:"automation_readiness,omitempty"`
	FitScore            *int     `json:"fit_score,omitempty"`
	Notes               []string `json:"notes,omitempty"`
}

// ConversationMetrics tracks engagement for the thread.
type ConversationMetrics struct {
	MessageCount    int      `json:"message_count"`
	ResponseTimeAvg float64  `json:"response_time_avg"`
	EngagementScore float64  `json:"engagement_score"`
	SentimentScore  float64  `json:"sentiment_score"`
	TopicsDiscussed []string `json:"topics_discussed,omitempty"`
	QuestionsAsked  int      `json:"questions_asked"`
	ToolsUsed       []string `json:"tools_used,omitempty"`
}

// ConversationState is the aggregate persisted per thread.
type ConversationState struct {
	ThreadID           string              `json:"thread_id"`
	Version            int64               `json:"version"`
	Customer           CustomerInfo        `json:"customer_info"`
	Business           BusinessInfo        `json:"business_info"`
	Qualification      QualificationData   `json:"qualification"`
	Metrics            ConversationMetrics `json:"metrics"`
	Stage              Stage               `json:"conversation_stage"`
	CreatedAt          time.Time           `json:"created_at"`
	LastActivity       time.Time           `json:"last_activity"`
	ContextSummary     string              `json:"context_summary,omitempty"`
	KeyInsights        []string            `json:"key_insights,omitempty"`
	NextActions        []string            `json:"next_actions,omitempty"`
	WowMomentDelivered bool                `json:"wow_moment_delivered"`
	FollowUpScheduled  bool                `json:"follow_up_scheduled"`
	NeedsHumanHandoff  bool                `json:"needs_human_handoff"`
}

// NewConversationState starts a thread in the greeting stage.
func NewConversationState(threadID string, customer CustomerInfo, now time.Time) *ConversationState {
	now = now.UTC()
	customer.Tags = MergeUnique(customer.Tags, nil)
	return &ConversationState{
		ThreadID:      threadID,
		Customer:      customer,
		Qualification: QualificationData{Status: StatusInitial},
		Stage:         StageGreeting,
		CreatedAt:     now,
		LastActivity:  now,
	}
}

// Flags returns the dialogue flags consulted by stage advancement.
func (s *ConversationState) Flags() Flags {
	return Flags{
		FollowUpScheduled: s.FollowUpScheduled,
		NeedsHumanHandoff: s.NeedsHumanHandoff,
	}
}

// Touch records activity at now.
func (s *ConversationState) Touch(now time.Time) {
	s.LastActivity = now.UTC()
}

// Clone returns a deep copy.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.Customer.Tags = cloneStrings(s.Customer.Tags)
	if s.Customer.CustomFields != nil {
		out.Customer.CustomFields = make(map[string]string, len(s.Customer.CustomFields))
		for k, v := range s.Customer.CustomFields {
			out.Customer.CustomFields[k] = v
		}
	}
	out.Business.TeamSize = cloneInt(s.Business.TeamSize)
	out.Business.CurrentTools = cloneStrings(s.Business.CurrentTools)
	out.Business.PainPoints = cloneStrings(s.Business.PainPoints)
	out.Qualification.DecisionMaker = cloneBool(s.Qualification.DecisionMaker)
	out.Qualification.AutomationReadiness = cloneInt(s.Qualification.AutomationReadiness)
	out.Qualification.FitScore = cloneInt(s.Qualification.FitScore)
	out.Qualification.Notes = cloneStrings(s.Qualification.Notes)
	out.Metrics.TopicsDiscussed = cloneStrings(s.Metrics.TopicsDiscussed)
	out.Metrics.ToolsUsed = cloneStrings(s.Metrics.ToolsUsed)
	out.KeyInsights = cloneStrings(s.KeyInsights)
	out.NextActions = cloneStrings(s.NextActions)
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), b)
}
