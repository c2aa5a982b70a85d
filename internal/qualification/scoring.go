package qualification

import (
	"regexp"
	"strconv"
	"strings"
)

const maxPainPointPoints = 5

// Score thresholds.
const (
	QualifiedThreshold    = 10
	QualifyingThreshold   = 6
	NotQualifiedThreshold = 2
)

var (
	highRevenueMarkers = []string{"100k", "50k", "six figure", "six-figure", "seven figure", "seven-figure", "million"}
	midRevenueMarkers  = []string{"20k", "15k", "10k", "five figure", "five-figure"}
	lowRevenueMarkers  = []string{"5k", "3k"}

	amountPattern = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s?(mm|m|k)?\b`)
)

// Revenue tiers for amounts that parse to a number.
const (
	highRevenueFloor = 50_000
	midRevenueFloor  = 10_000
	lowRevenueFloor  = 3_000
)

// ComputeQualification scores the known facts. It is total and pure: the
// same inputs always produce the same score and status.
//
// Status follows StatusForScore once any fact is known. A lead with no facts
// at all stays INITIAL even though its score of 0 would map to NOT_QUALIFIED,
// so status is a function of score and evidence, not of score alone.
func ComputeQualification(b BusinessInfo, q QualificationData) (int, Status) {
	score := 0

	if b.TeamSize != nil {
		switch size := *b.TeamSize; {
		case size > 10:
			score += 3
		case size > 5:
			score += 2
		case size > 1:
			score += 1
		}
	}

	score += revenuePoints(b.MonthlyRevenue)

	painPoints := len(distinct(b.PainPoints))
	if painPoints > maxPainPointPoints {
		painPoints = maxPainPointPoints
	}
	score += painPoints

	if strings.TrimSpace(q.BudgetRange) != "" {
		score += 2
	}

	score += timelinePoints(q.Timeline)

	if q.DecisionMaker != nil {
		if *q.DecisionMaker {
			score += 2
		} else {
			score--
		}
	}

	if !hasEvidence(b, q) {
		return score, StatusInitial
	}
	return score, StatusForScore(score)
}

// StatusForScore applies the threshold table.
func StatusForScore(score int) Status {
	switch {
	case score >= QualifiedThreshold:
		return StatusQualified
	case score >= QualifyingThreshold:
		return StatusQualifying
	case score <= NotQualifiedThreshold:
		return StatusNotQualified
	default:
		return StatusInitial
	}
}

// Recompute refreshes score and status from the current facts.
func (s *ConversationState) Recompute() {
	s.Qualification.Score, s.Qualification.Status = ComputeQualification(s.Business, s.Qualification)
}

// revenuePoints scores a parsed amount by magnitude ("$100,000", "1.2m",
// "$75k") and falls back to the marker phrases for worded buckets.
func revenuePoints(revenue string) int {
	r := strings.ToLower(revenue)
	if r == "" {
		return 0
	}
	if amount, ok := parseAmount(r); ok && amount >= lowRevenueFloor {
		switch {
		case amount >= highRevenueFloor:
			return 4
		case amount >= midRevenueFloor:
			return 3
		default:
			return 2
		}
	}
	switch {
	case containsAny(r, highRevenueMarkers):
		return 4
	case containsAny(r, midRevenueMarkers):
		return 3
	case containsAny(r, lowRevenueMarkers):
		return 2
	}
	return 0
}

// parseAmount reads the first number in s, applying k/m suffixes.
func parseAmount(s string) (float64, bool) {
	m := amountPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch m[2] {
	case "k":
		n *= 1_000
	case "m", "mm":
		n *= 1_000_000
	}
	return n, true
}

func timelinePoints(timeline string) int {
	t := strings.ToLower(timeline)
	switch {
	case strings.Contains(t, "asap"), strings.Contains(t, "urgent"):
		return 3
	case strings.Contains(t, "month"):
		return 2
	case strings.Contains(t, "quarter"):
		return 1
	}
	return 0
}

// A lead we know nothing about has not been assessed yet.
func hasEvidence(b BusinessInfo, q QualificationData) bool {
	return b.TeamSize != nil ||
		strings.TrimSpace(b.MonthlyRevenue) != "" ||
		len(b.PainPoints) > 0 ||
		strings.TrimSpace(q.BudgetRange) != "" ||
		strings.TrimSpace(q.Timeline) != "" ||
		q.DecisionMaker != nil
}

func distinct(items []string) []string {
	return MergeUnique(nil, items)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
