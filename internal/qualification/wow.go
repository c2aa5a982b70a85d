package qualification

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

var businessFieldHints = []string{"business", "company", "revenue", "industry", "employee", "team"}

// WowMomentContext summarises what is already known about a contact so the
// first reply can show the lead we did our homework. addedAt may be zero.
func WowMomentContext(c CustomerInfo, addedAt time.Time) string {
	var parts []string
	if name := c.FullName(); name != "" {
		parts = append(parts, "Contact: "+name)
	}
	if c.CompanyName != "" {
		parts = append(parts, "Company: "+c.CompanyName)
	}
	if c.JobTitle != "" {
		parts = append(parts, "Role: "+c.JobTitle)
	}
	if c.Source != "" {
		parts = append(parts, "Lead source: "+c.Source)
	}
	if len(c.Tags) > 0 {
		parts = append(parts, "Interests/Tags: "+strings.Join(c.Tags, ", "))
	}

	keys := make([]string, 0, len(c.CustomFields))
	for k := range c.CustomFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var fields []string
	for _, k := range keys {
		if c.CustomFields[k] == "" {
			continue
		}
		if containsAny(strings.ToLower(k), businessFieldHints) {
			fields = append(fields, fmt.Sprintf("%s: %s", k, c.CustomFields[k]))
		}
	}
	if len(fields) > 0 {
		parts = append(parts, "Business context: "+strings.Join(fields, ", "))
	}

	if !addedAt.IsZero() {
		parts = append(parts, "Became a lead: "+addedAt.UTC().Format("2006-01-02"))
	}
	return strings.Join(parts, " | ")
}

// IsFromAdvertising reports whether the lead source looks like a paid social ad.
func IsFromAdvertising(source string) bool {
	s := strings.ToLower(source)
	return strings.Contains(s, "facebook") || strings.Contains(s, "meta") || strings.Contains(s, "instagram")
}
