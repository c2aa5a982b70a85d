package qualification

import "strings"

// MergeUnique appends items from add that are not already present, keeping
// the order of existing entries first. Duplicates already in existing are
// collapsed and blank items from add are skipped.
func MergeUnique(existing, add []string) []string {
	if existing == nil && len(add) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, v := range existing {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for _, v := range add {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// CustomerUpdate is a partial customer record. Nil fields are left untouched.
type CustomerUpdate struct {
	FirstName    *string
	LastName     *string
	Email        *string
	Phone        *string
	CompanyName  *string
	JobTitle     *string
	Source       *string
	Tags         []string
	CustomFields map[string]string
}

// Empty reports whether the update carries no fields.
func (u CustomerUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Email == nil && u.Phone == nil &&
		u.CompanyName == nil && u.JobTitle == nil && u.Source == nil &&
		len(u.Tags) == 0 && len(u.CustomFields) == 0
}

// ApplyCustomerUpdate merges u into the customer record.
func (s *ConversationState) ApplyCustomerUpdate(u CustomerUpdate) {
	c := &s.Customer
	setIfPresent(&c.FirstName, u.FirstName)
	setIfPresent(&c.LastName, u.LastName)
	setIfPresent(&c.Email, u.Email)
	setIfPresent(&c.Phone, u.Phone)
	setIfPresent(&c.CompanyName, u.CompanyName)
	setIfPresent(&c.JobTitle, u.JobTitle)
	setIfPresent(&c.Source, u.Source)
	c.Tags = MergeUnique(c.Tags, u.Tags)
	if len(u.CustomFields) > 0 {
		if c.CustomFields == nil {
			c.CustomFields = make(map[string]string, len(u.CustomFields))
		}
		for k, v := range u.CustomFields {
			c.CustomFields[k] = v
		}
	}
}

// FillCustomer copies fields from other only where the record is blank.
// Used when a CRM lookup returns details the webhook did not carry.
func (s *ConversationState) FillCustomer(other CustomerInfo) {
	c := &s.Customer
	fillBlank(&c.FirstName, other.FirstName)
	fillBlank(&c.LastName, other.LastName)
	fillBlank(&c.Email, other.Email)
	fillBlank(&c.Phone, other.Phone)
	fillBlank(&c.CompanyName, other.CompanyName)
	fillBlank(&c.JobTitle, other.JobTitle)
	fillBlank(&c.Source, other.Source)
	c.Tags = MergeUnique(c.Tags, other.Tags)
	for k, v := range other.CustomFields {
		if c.CustomFields == nil {
			c.CustomFields = make(map[string]string, len(other.CustomFields))
		}
		if _, ok := c.CustomFields[k]; !ok {
			c.CustomFields[k] = v
		}
	}
}

// BusinessUpdate is a partial business record.
type BusinessUpdate struct {
	Industry             string
	TeamSize             *int
	MonthlyRevenue       string
	BusinessType         string
	CurrentTools         []string
	PainPoints           []string
	AutomationExperience string
}

// ApplyBusinessUpdate overwrites scalars with non-empty values and unions lists.
func (s *ConversationState) ApplyBusinessUpdate(u BusinessUpdate) {
	b := &s.Business
	overwrite(&b.Industry, u.Industry)
	overwrite(&b.MonthlyRevenue, u.MonthlyRevenue)
	overwrite(&b.BusinessType, u.BusinessType)
	overwrite(&b.AutomationExperience, u.AutomationExperience)
	if u.TeamSize != nil && *u.TeamSize >= 0 {
		b.TeamSize = cloneInt(u.TeamSize)
	}
	b.CurrentTools = MergeUnique(b.CurrentTools, u.CurrentTools)
	b.PainPoints = MergeUnique(b.PainPoints, u.PainPoints)
}

// QualificationUpdate is a partial set of qualification facts.
type QualificationUpdate struct {
	BudgetRange         string
	Timeline            string
	DecisionMaker       *bool
	AutomationReadiness *int
	FitScore            *int
	Notes               []string
}

// ApplyQualificationUpdate merges u and recomputes score and status.
func (s *ConversationState) ApplyQualificationUpdate(u QualificationUpdate) {
	q := &s.Qualification
	overwrite(&q.BudgetRange, u.BudgetRange)
	overwrite(&q.Timeline, u.Timeline)
	if u.DecisionMaker != nil {
		q.DecisionMaker = cloneBool(u.DecisionMaker)
	}
	if u.AutomationReadiness != nil {
		v := clamp(*u.AutomationReadiness, 1, 10)
		q.AutomationReadiness = &v
	}
	if u.FitScore != nil {
		v := clamp(*u.FitScore, 1, 10)
		q.FitScore = &v
	}
	for _, note := range u.Notes {
		s.AddNote(note)
	}
	s.Recompute()
}

// AddNote appends a note. Notes are append-only.
func (s *ConversationState) AddNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	s.Qualification.Notes = append(s.Qualification.Notes, note)
}

func setIfPresent(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func overwrite(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func fillBlank(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
