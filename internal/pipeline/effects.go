package pipeline

import (
	"strings"

	"github.com/wolfman30/leadqual/internal/capability"
	"github.com/wolfman30/leadqual/internal/qualification"
)

var (
	followUpTagHints = []string{"follow-up", "followup", "follow up", "call-scheduled", "demo-scheduled"}
	handoffTagHints  = []string{"human", "handoff", "hand-off"}
)

// applyResult folds the local consequences of an executed action into the
// state. It never calls out, so it can be replayed.
func applyResult(state *qualification.ConversationState, action capability.Action, res capability.Result) {
	state.RecordTool(string(action.Name()))

	switch a := action.(type) {
	case capability.AddTag:
		state.Customer.Tags = qualification.MergeUnique(state.Customer.Tags, []string{a.Tag})
		tag := strings.ToLower(a.Tag)
		if hasAny(tag, followUpTagHints) {
			state.FollowUpScheduled = true
		}
		if hasAny(tag, handoffTagHints) {
			state.NeedsHumanHandoff = true
		}
	case capability.CreateNote:
		state.AddNote(a.Note)
	case capability.UpdateContact:
		state.ApplyCustomerUpdate(customerUpdateFromFields(a.Fields))
	case capability.GetContactDetails:
		if res.Contact != nil {
			state.FillCustomer(res.Contact.CustomerInfo())
		}
	case capability.SendMessage, capability.SearchContacts:
	}
}

// customerFieldKeys are the CRM contact keys with a dedicated CustomerInfo
// field. Any other key is kept as a custom field.
var customerFieldKeys = map[string]func(*qualification.CustomerUpdate, *string){
	"firstName":   func(u *qualification.CustomerUpdate, v *string) { u.FirstName = v },
	"lastName":    func(u *qualification.CustomerUpdate, v *string) { u.LastName = v },
	"email":       func(u *qualification.CustomerUpdate, v *string) { u.Email = v },
	"phone":       func(u *qualification.CustomerUpdate, v *string) { u.Phone = v },
	"companyName": func(u *qualification.CustomerUpdate, v *string) { u.CompanyName = v },
	"jobTitle":    func(u *qualification.CustomerUpdate, v *string) { u.JobTitle = v },
	"source":      func(u *qualification.CustomerUpdate, v *string) { u.Source = v },
}

func customerUpdateFromFields(fields map[string]string) qualification.CustomerUpdate {
	var u qualification.CustomerUpdate
	for key, v := range fields {
		if v == "" {
			continue
		}
		if set, ok := customerFieldKeys[key]; ok {
			value := v
			set(&u, &value)
			continue
		}
		if u.CustomFields == nil {
			u.CustomFields = make(map[string]string)
		}
		u.CustomFields[key] = v
	}
	return u
}

func hasAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
