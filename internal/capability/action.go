// Package capability defines the closed set of CRM actions the language
// model may request, how they are decoded from tool calls, and how they run.
package capability

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/leadqual/internal/apperrors"
	"github.com/wolfman30/leadqual/internal/crm"
	"github.com/wolfman30/leadqual/internal/qualification"
)

// Name identifies an action in tool calls and metrics.
type Name string

const (
	NameSendMessage       Name = "send_message"
	NameAddTag            Name = "add_contact_tag"
	NameCreateNote        Name = "create_contact_note"
	NameUpdateContact     Name = "update_contact"
	NameGetContactDetails Name = "get_contact_details"
	NameSearchContacts    Name = "search_contacts"
)

// Action is one requested capability. The set of implementations is closed:
// every variant lives in this file and Execute handles each of them.
type Action interface {
	Name() Name
	action()
}

// SendMessage sends text to the contact on a channel.
type SendMessage struct {
	ContactID string                `json:"contact_id"`
	Message   string                `json:"message"`
	Channel   qualification.Channel `json:"channel"`
}

// AddTag tags the contact.
type AddTag struct {
	ContactID string `json:"contact_id"`
	Tag       string `json:"tag"`
}

// CreateNote records a note on the contact.
type CreateNote struct {
	ContactID string `json:"contact_id"`
	Note      string `json:"note"`
}

// UpdateContact writes contact fields such as firstName or companyName.
type UpdateContact struct {
	ContactID string            `json:"contact_id"`
	Fields    map[string]string `json:"fields"`
}

// GetContactDetails fetches the contact record.
type GetContactDetails struct {
	ContactID string `json:"contact_id"`
}

// SearchContacts looks contacts up by email, phone or name.
type SearchContacts struct {
	Query string          `json:"query"`
	Field crm.SearchField `json:"search_type"`
}

func (SendMessage) Name() Name       { return NameSendMessage }
func (AddTag) Name() Name            { return NameAddTag }
func (CreateNote) Name() Name        { return NameCreateNote }
func (UpdateContact) Name() Name     { return NameUpdateContact }
func (GetContactDetails) Name() Name { return NameGetContactDetails }
func (SearchContacts) Name() Name    { return NameSearchContacts }

func (SendMessage) action()       {}
func (AddTag) action()            {}
func (CreateNote) action()        {}
func (UpdateContact) action()     {}
func (GetContactDetails) action() {}
func (SearchContacts) action()    {}

type decoder func(json.RawMessage) (Action, error)

var decoders = map[Name]decoder{
	NameSendMessage: func(raw json.RawMessage) (Action, error) {
		var in struct {
			ContactID   string `json:"contact_id"`
			Message     string `json:"message"`
			MessageType string `json:"message_type"`
		}
		if err := unmarshal(raw, &in); err != nil {
			return nil, err
		}
		if strings.TrimSpace(in.Message) == "" {
			return nil, invalid(NameSendMessage, "message", "required")
		}
		channel, err := qualification.ParseChannel(in.MessageType)
		if err != nil {
			return nil, err
		}
		return SendMessage{ContactID: in.ContactID, Message: in.Message, Channel: channel}, nil
	},
	NameAddTag: func(raw json.RawMessage) (Action, error) {
		var a AddTag
		if err := unmarshal(raw, &a); err != nil {
			return nil, err
		}
		if a.Tag = strings.TrimSpace(a.Tag); a.Tag == "" {
			return nil, invalid(NameAddTag, "tag", "required")
		}
		return a, nil
	},
	NameCreateNote: func(raw json.RawMessage) (Action, error) {
		var a CreateNote
		if err := unmarshal(raw, &a); err != nil {
			return nil, err
		}
		if strings.TrimSpace(a.Note) == "" {
			return nil, invalid(NameCreateNote, "note", "required")
		}
		return a, nil
	},
	NameUpdateContact: func(raw json.RawMessage) (Action, error) {
		var in struct {
			ContactID   string `json:"contact_id"`
			FirstName   string `json:"first_name"`
			LastName    string `json:"last_name"`
			Email       string `json:"email"`
			Phone       string `json:"phone"`
			CompanyName string `json:"company_name"`
			JobTitle    string `json:"job_title"`
			Source      string `json:"source"`
		}
		if err := unmarshal(raw, &in); err != nil {
			return nil, err
		}
		fields := map[string]string{}
		put := func(k, v string) {
			if v = strings.TrimSpace(v); v != "" {
				fields[k] = v
			}
		}
		put("firstName", in.FirstName)
		put("lastName", in.LastName)
		put("email", in.Email)
		put("phone", in.Phone)
		put("companyName", in.CompanyName)
		put("jobTitle", in.JobTitle)
		put("source", in.Source)
		if len(fields) == 0 {
			return nil, invalid(NameUpdateContact, "fields", "at least one field required")
		}
		return UpdateContact{ContactID: in.ContactID, Fields: fields}, nil
	},
	NameGetContactDetails: func(raw json.RawMessage) (Action, error) {
		var a GetContactDetails
		if err := unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	},
	NameSearchContacts: func(raw json.RawMessage) (Action, error) {
		var a SearchContacts
		if err := unmarshal(raw, &a); err != nil {
			return nil, err
		}
		if strings.TrimSpace(a.Query) == "" {
			return nil, invalid(NameSearchContacts, "query", "required")
		}
		switch a.Field {
		case "":
			a.Field = crm.SearchByEmail
		case crm.SearchByEmail, crm.SearchByPhone, crm.SearchByName:
		default:
			return nil, invalid(NameSearchContacts, "search_type", "must be email, phone or name")
		}
		return a, nil
	},
}

// Decode turns a tool call into an Action. Unknown names and malformed
// arguments fail with *apperrors.ValidationError.
func Decode(name string, args json.RawMessage) (Action, error) {
	dec, ok := decoders[Name(name)]
	if !ok {
		return nil, &apperrors.ValidationError{Field: "tool", Value: name, Reason: "unknown capability"}
	}
	return dec(args)
}

// Bind pins contact-scoped actions to the conversation's contact so the
// model cannot act on other records.
func Bind(a Action, contactID string) Action {
	switch v := a.(type) {
	case SendMessage:
		v.ContactID = contactID
		return v
	case AddTag:
		v.ContactID = contactID
		return v
	case CreateNote:
		v.ContactID = contactID
		return v
	case UpdateContact:
		v.ContactID = contactID
		return v
	case GetContactDetails:
		v.ContactID = contactID
		return v
	}
	return a
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &apperrors.ValidationError{Field: "arguments", Reason: fmt.Sprintf("malformed tool input: %v", err)}
	}
	return nil
}

func invalid(name Name, field, reason string) error {
	return &apperrors.ValidationError{Field: string(name) + "." + field, Reason: reason}
}
