package generation

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/leadqual/internal/capability"
	"github.com/wolfman30/leadqual/internal/qualification"
)

const basePrompt = `You are a friendly business automation consultant talking with a prospective customer.
Your goal is to understand their business, uncover where automation would help, and decide whether they are a good fit.
Keep replies short and conversational: two to four sentences, one question at a time.
Never invent facts about the customer. Use the tools when you need to send messages, tag the contact, record notes or look up details.`

var stagePrompts = map[qualification.Stage]string{
	qualification.StageGreeting: `STAGE: GREETING
Welcome the customer warmly. If contact context is available, mention something specific about them.
Ask an open question about their business and what prompted them to reach out.`,
	qualification.StageDiscovery: `STAGE: DISCOVERY
Learn how the business runs: team size, monthly revenue, the tools they use today and where time is lost.
Dig into the pain points they mention.`,
	qualification.StageQualification: `STAGE: QUALIFICATION
Confirm budget, timeline and who makes the buying decision. Be direct but respectful.`,
	qualification.StagePresentation: `STAGE: PRESENTATION
This customer looks like a strong fit. Connect their pain points to concrete automation outcomes
and give them a clear moment of insight about what changes for their team.
Offer a follow-up call; tag the contact "follow-up" when they accept or "needs-human" if they ask for a person.`,
	qualification.StageClosing: `STAGE: CLOSING
Confirm next steps, thank the customer and make sure they know what happens next.`,
	qualification.StageCompleted: `STAGE: COMPLETED
The qualification conversation is over. Answer politely and briefly, without restarting discovery.`,
}

// PromptContext is the state the system prompt is rendered from.
type PromptContext struct {
	State        *qualification.ConversationState
	Tools        []capability.ToolSpec
	ContactAdded time.Time
}

// BuildSystemPrompt renders the system blocks for a compose call: the
// persona, the stage instructions and a facts block.
func BuildSystemPrompt(pc PromptContext) []string {
	blocks := []string{basePrompt}
	if pc.State == nil {
		return blocks
	}
	s := pc.State

	stage := s.Stage
	if stage == "" {
		stage = qualification.StageGreeting
	}
	if sp, ok := stagePrompts[stage]; ok {
		blocks = append(blocks, sp)
	}

	var facts []string
	if stage == qualification.StageGreeting && !s.WowMomentDelivered {
		if wow := qualification.WowMomentContext(s.Customer, pc.ContactAdded); wow != "" {
			facts = append(facts, "CONTACT CONTEXT: "+wow)
		}
		if qualification.IsFromAdvertising(s.Customer.Source) {
			facts = append(facts, "This lead came from a social media ad; acknowledge that they found us there.")
		}
	}
	if s.Business.TeamSize != nil {
		facts = append(facts, fmt.Sprintf("Team size: %d", *s.Business.TeamSize))
	}
	if s.Business.MonthlyRevenue != "" {
		facts = append(facts, "Monthly revenue: "+s.Business.MonthlyRevenue)
	}
	if len(s.Business.PainPoints) > 0 {
		facts = append(facts, "Known pain points: "+strings.Join(s.Business.PainPoints, ", "))
	}
	if len(s.Business.CurrentTools) > 0 {
		facts = append(facts, "Current tools: "+strings.Join(s.Business.CurrentTools, ", "))
	}
	if s.Qualification.BudgetRange != "" {
		facts = append(facts, "Budget: "+s.Qualification.BudgetRange)
	}
	if s.Qualification.Timeline != "" {
		facts = append(facts, "Timeline: "+s.Qualification.Timeline)
	}
	facts = append(facts, fmt.Sprintf("Qualification status: %s (score %d)", s.Qualification.Status, s.Qualification.Score))
	blocks = append(blocks, strings.Join(facts, "\n"))

	if len(pc.Tools) > 0 {
		names := make([]string, 0, len(pc.Tools))
		for _, t := range pc.Tools {
			names = append(names, string(t.Name))
		}
		blocks = append(blocks, "Available tools: "+strings.Join(names, ", "))
	}
	return blocks
}
