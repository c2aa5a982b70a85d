package capability

import (
	"context"
	"fmt"

	"github.com/wolfman30/leadqual/internal/crm"
	"github.com/wolfman30/leadqual/internal/qualification"
)

// Executor performs actions against the CRM. *crm.Client implements it.
type Executor interface {
	SendMessage(ctx context.Context, contactID, message string, channel qualification.Channel) (crm.MessageResult, error)
	AddTag(ctx context.Context, contactID, tag string) error
	CreateNote(ctx context.Context, contactID, note string) error
	UpdateContact(ctx context.Context, contactID string, fields map[string]string) error
	GetContact(ctx context.Context, contactID string) (*crm.Contact, error)
	SearchContacts(ctx context.Context, query string, field crm.SearchField) ([]crm.Contact, error)
}

var _ Executor = (*crm.Client)(nil)

// Result is the outcome of one executed action.
type Result struct {
	Action   Name
	Summary  string
	Contact  *crm.Contact
	Contacts []crm.Contact
}

// Execute runs a against exec.
func Execute(ctx context.Context, exec Executor, a Action) (Result, error) {
	res := Result{Action: a.Name()}
	switch v := a.(type) {
	case SendMessage:
		sent, err := exec.SendMessage(ctx, v.ContactID, v.Message, v.Channel)
		if err != nil {
			return res, err
		}
		res.Summary = fmt.Sprintf("%s message sent (id %s)", v.Channel, sent.MessageID)
	case AddTag:
		if err := exec.AddTag(ctx, v.ContactID, v.Tag); err != nil {
			return res, err
		}
		res.Summary = fmt.Sprintf("tag %q added", v.Tag)
	case CreateNote:
		if err := exec.CreateNote(ctx, v.ContactID, v.Note); err != nil {
			return res, err
		}
		res.Summary = "note created"
	case UpdateContact:
		if err := exec.UpdateContact(ctx, v.ContactID, v.Fields); err != nil {
			return res, err
		}
		res.Summary = fmt.Sprintf("%d contact fields updated", len(v.Fields))
	case GetContactDetails:
		contact, err := exec.GetContact(ctx, v.ContactID)
		if err != nil {
			return res, err
		}
		res.Contact = contact
		res.Summary = "contact details retrieved"
	case SearchContacts:
		contacts, err := exec.SearchContacts(ctx, v.Query, v.Field)
		if err != nil {
			return res, err
		}
		res.Contacts = contacts
		res.Summary = fmt.Sprintf("%d contacts found", len(contacts))
	default:
		return res, fmt.Errorf("capability: unhandled action %T", a)
	}
	return res, nil
}
