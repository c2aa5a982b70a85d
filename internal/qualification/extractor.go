package qualification

import (
	"regexp"
	"strconv"
	"strings"
)

// Signals are the facts a single inbound message revealed. Zero values mean
// nothing was found for that field.
type Signals struct {
	TeamSize       *int
	MonthlyRevenue string
	PainPoints     []string
	CurrentTools   []string
	BudgetRange    string
	Timeline       string
	DecisionMaker  *bool
	Topics         []string
	Questions      int
}

// Empty reports whether no signal was extracted.
func (s Signals) Empty() bool {
	return s.TeamSize == nil && s.MonthlyRevenue == "" && len(s.PainPoints) == 0 &&
		len(s.CurrentTools) == 0 && s.BudgetRange == "" && s.Timeline == "" && s.DecisionMaker == nil
}

var (
	teamSizeWords = []string{"employees", "employee", "team", "staff", "people", "workers", "person"}
	revenueWords  = []string{"revenue", "sales", "income", "profit", "making", "bring in", "turnover"}
	budgetWords   = []string{"budget", "investment", "invest", "cost", "price", "spend", "afford"}
	urgentPhrases  = []string{"asap", "as soon as possible", "urgent", "immediately", "right away"}
	monthPhrases   = []string{"this month", "next month", "within a month", "in a month", "few weeks", "this week", "next week", "soon"}
	quarterPhrases = []string{"this quarter", "next quarter", "end of the quarter"}
	yearPhrases    = []string{"this year", "next year", "later this year"}

	// ReadinessPhrases are the pain points that indicate automation readiness.
	ReadinessPhrases = []string{
		"repetitive tasks",
		"manual processes",
		"scaling challenges",
		"time consuming",
		"human error",
		"efficiency",
		"growth",
	}

	knownTools = []string{
		"zapier", "hubspot", "salesforce", "excel", "google sheets", "quickbooks",
		"shopify", "slack", "calendly", "mailchimp", "gohighlevel",
	}

	decisionMakerYes = []string{"i'm the owner", "i am the owner", "i own ", "founder", "ceo", "i make the decisions", "i decide", "my company", "my business"}
	decisionMakerNo  = []string{"my boss", "check with", "run it by", "not the decision maker", "not my call", "need approval"}

	integerPattern = regexp.MustCompile(`\b\d{1,6}\b`)
	moneyPattern   = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d+)?\s?(?:k|m|mm)?\b|\b\d[\d,]*(?:\.\d+)?\s?(?:k|m)\b|\$\s?\d[\d,]*`)
	figurePattern  = regexp.MustCompile(`\b(?:five|six|seven|eight)[ -]figures?\b`)
)

// ExtractSignals scans a human-authored message for qualification facts.
// It never fails; unrecognised text yields an empty result.
func ExtractSignals(message string) Signals {
	text := strings.ToLower(strings.TrimSpace(message))
	var sig Signals
	if text == "" {
		return sig
	}

	if containsAny(text, teamSizeWords) {
		if m := integerPattern.FindString(text); m != "" {
			if n, err := strconv.Atoi(m); err == nil && n >= 0 {
				sig.TeamSize = &n
				sig.Topics = append(sig.Topics, "team")
			}
		}
	}

	if containsAny(text, revenueWords) {
		if rev := moneyNear(text, revenueWords); rev != "" {
			sig.MonthlyRevenue = rev
			sig.Topics = append(sig.Topics, "revenue")
		}
	}

	for _, phrase := range ReadinessPhrases {
		if strings.Contains(text, phrase) {
			sig.PainPoints = append(sig.PainPoints, phrase)
		}
	}
	if len(sig.PainPoints) > 0 {
		sig.Topics = append(sig.Topics, "pain_points")
	}

	for _, tool := range knownTools {
		if strings.Contains(text, tool) {
			sig.CurrentTools = append(sig.CurrentTools, tool)
		}
	}
	if len(sig.CurrentTools) > 0 {
		sig.Topics = append(sig.Topics, "tools")
	}

	if containsAny(text, budgetWords) {
		switch token := moneyNear(text, budgetWords); {
		case token != "":
			sig.BudgetRange = token
		case strings.Contains(text, "thousand"), strings.Contains(text, "grand"):
			sig.BudgetRange = "discussed"
		}
		if sig.BudgetRange != "" {
			sig.Topics = append(sig.Topics, "budget")
		}
	}

	if tl := timelineDescriptor(text); tl != "" {
		sig.Timeline = tl
		sig.Topics = append(sig.Topics, "timeline")
	}

	switch {
	case containsAny(text, decisionMakerNo):
		v := false
		sig.DecisionMaker = &v
	case containsAny(text, decisionMakerYes):
		v := true
		sig.DecisionMaker = &v
	}
	if sig.DecisionMaker != nil {
		sig.Topics = append(sig.Topics, "decision_maker")
	}

	sig.Questions = strings.Count(text, "?")
	return sig
}

// moneyNear prefers the first amount after the first keyword so that
// "revenue is $50k and our budget is $5k" attributes each amount correctly.
func moneyNear(text string, keywords []string) string {
	start := -1
	for _, k := range keywords {
		if i := strings.Index(text, k); i >= 0 && (start < 0 || i < start) {
			start = i
		}
	}
	if start >= 0 {
		if token := moneyToken(text[start:]); token != "" {
			return token
		}
	}
	return moneyToken(text)
}

func moneyToken(text string) string {
	if m := moneyPattern.FindString(text); m != "" {
		return strings.ReplaceAll(strings.TrimSpace(m), " ", "")
	}
	if m := figurePattern.FindString(text); m != "" {
		return strings.Replace(strings.TrimSuffix(m, "s"), "-", " ", 1)
	}
	return ""
}

func timelineDescriptor(text string) string {
	switch {
	case containsAny(text, urgentPhrases):
		return "asap"
	case containsAny(text, monthPhrases):
		return "within a month"
	case containsAny(text, quarterPhrases):
		return "next quarter"
	case containsAny(text, yearPhrases):
		return "later this year"
	}
	return ""
}

// ApplySignals merges extracted facts into the state. Scalars overwrite only
// with non-empty values; lists merge as ordered sets.
func (s *ConversationState) ApplySignals(sig Signals) {
	s.ApplyBusinessUpdate(BusinessUpdate{
		TeamSize:       sig.TeamSize,
		MonthlyRevenue: sig.MonthlyRevenue,
		CurrentTools:   sig.CurrentTools,
		PainPoints:     sig.PainPoints,
	})
	q := &s.Qualification
	overwrite(&q.BudgetRange, sig.BudgetRange)
	overwrite(&q.Timeline, sig.Timeline)
	if sig.DecisionMaker != nil {
		q.DecisionMaker = cloneBool(sig.DecisionMaker)
	}
	s.Metrics.TopicsDiscussed = MergeUnique(s.Metrics.TopicsDiscussed, sig.Topics)
	s.Metrics.QuestionsAsked += sig.Questions
}
