package crm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wolfman30/leadqual/internal/qualification"
)

// SearchField selects how SearchContacts interprets the query.
type SearchField string

const (
	SearchByEmail SearchField = "email"
	SearchByPhone SearchField = "phone"
	SearchByName  SearchField = "name"
)

// Contact is the subset of the CRM contact record the engine uses.
type Contact struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	CompanyName  string
	Source       string
	Tags         []string
	CustomFields map[string]string
	DateAdded    time.Time
}

// CustomerInfo maps the contact onto the conversation's customer record.
func (c Contact) CustomerInfo() qualification.CustomerInfo {
	return qualification.CustomerInfo{
		ContactID:    c.ID,
		FirstName:    c.FirstName,
		LastName:     c.LastName,
		Email:        c.Email,
		Phone:        c.Phone,
		CompanyName:  c.CompanyName,
		Source:       c.Source,
		Tags:         c.Tags,
		CustomFields: c.CustomFields,
	}
}

type customFieldPayload struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type contactPayload struct {
	ID           string               `json:"id"`
	FirstName    string               `json:"firstName"`
	LastName     string               `json:"lastName"`
	Email        string               `json:"email"`
	Phone        string               `json:"phone"`
	CompanyName  string               `json:"companyName"`
	Source       string               `json:"source"`
	Tags         []string             `json:"tags"`
	CustomFields []customFieldPayload `json:"customFields"`
	DateAdded    string               `json:"dateAdded"`
}

func (p contactPayload) toContact() Contact {
	c := Contact{
		ID:          p.ID,
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		Email:       p.Email,
		Phone:       p.Phone,
		CompanyName: p.CompanyName,
		Source:      p.Source,
		Tags:        p.Tags,
	}
	if len(p.CustomFields) > 0 {
		c.CustomFields = make(map[string]string, len(p.CustomFields))
		for _, f := range p.CustomFields {
			name := f.Key
			if name == "" {
				name = f.ID
			}
			if name == "" || f.Value == nil {
				continue
			}
			c.CustomFields[name] = fmt.Sprint(f.Value)
		}
	}
	if t, err := time.Parse(time.RFC3339, p.DateAdded); err == nil {
		c.DateAdded = t.UTC()
	}
	return c
}

// DecodeContact parses a contact object as the CRM sends it in API
// responses and webhook payloads.
func DecodeContact(raw json.RawMessage) (Contact, error) {
	var p contactPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Contact{}, fmt.Errorf("crm: decode contact: %w", err)
	}
	return p.toContact(), nil
}
