package capability

// Param describes one string argument of a tool.
type Param struct {
	Name        string
	Description string
	Required    bool
	Enum        []string
}

// ToolSpec is the provider-neutral declaration of a capability.
type ToolSpec struct {
	Name        Name
	Description string
	Params      []Param
}

// JSONSchema renders the parameters as a JSON Schema object.
func (t ToolSpec) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Params))
	required := make([]string, 0, len(t.Params))
	for _, p := range t.Params {
		prop := map[string]any{
			"type":        "string",
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

var specs = []ToolSpec{
	{
		Name:        NameSendMessage,
		Description: "Send a message to the contact by SMS, email or WhatsApp.",
		Params: []Param{
			{Name: "message", Description: "Message text to send", Required: true},
			{Name: "message_type", Description: "Delivery channel", Enum: []string{"SMS", "Email", "WhatsApp"}},
		},
	},
	{
		Name:        NameAddTag,
		Description: "Add a tag to the contact, for example qualified-lead, follow-up or needs-human.",
		Params: []Param{
			{Name: "tag", Description: "Tag to add", Required: true},
		},
	},
	{
		Name:        NameCreateNote,
		Description: "Record a note about the conversation on the contact.",
		Params: []Param{
			{Name: "note", Description: "Note text", Required: true},
		},
	},
	{
		Name:        NameUpdateContact,
		Description: "Update contact details the customer has shared.",
		Params: []Param{
			{Name: "first_name", Description: "First name"},
			{Name: "last_name", Description: "Last name"},
			{Name: "email", Description: "Email address"},
			{Name: "phone", Description: "Phone number"},
			{Name: "company_name", Description: "Company name"},
			{Name: "job_title", Description: "Job title"},
			{Name: "source", Description: "Lead source"},
		},
	},
	{
		Name:        NameGetContactDetails,
		Description: "Fetch the contact's CRM record, including lead source and custom fields.",
	},
	{
		Name:        NameSearchContacts,
		Description: "Search CRM contacts by email, phone or name.",
		Params: []Param{
			{Name: "query", Description: "Search term", Required: true},
			{Name: "search_type", Description: "Field to search", Enum: []string{"email", "phone", "name"}},
		},
	},
}

// Specs returns the declarations of every capability.
func Specs() []ToolSpec {
	out := make([]ToolSpec, len(specs))
	copy(out, specs)
	return out
}
