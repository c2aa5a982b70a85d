package qualification

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestComputeQualification(t *testing.T) {
	tests := []struct {
		name       string
		business   BusinessInfo
		qual       QualificationData
		wantScore  int
		wantStatus Status
	}{
		{
			name: "fully qualified lead",
			business: BusinessInfo{
				TeamSize:       intPtr(15),
				MonthlyRevenue: "$50k",
				PainPoints:     []string{"manual processes", "human error", "growth"},
			},
			qual: QualificationData{
				BudgetRange:   "$10k",
				Timeline:      "asap",
				DecisionMaker: boolPtr(true),
			},
			wantScore:  17,
			wantStatus: StatusQualified,
		},
		{
			name:       "no facts",
			wantScore:  0,
			wantStatus: StatusInitial,
		},
		{
			name:       "solo operator scores zero with evidence",
			business:   BusinessInfo{TeamSize: intPtr(1)},
			wantScore:  0,
			wantStatus: StatusNotQualified,
		},
		{
			name: "decision maker false drops below qualified",
			business: BusinessInfo{
				TeamSize:       intPtr(15),
				MonthlyRevenue: "six figure",
				PainPoints:     []string{"efficiency"},
			},
			qual: QualificationData{
				Timeline:      "within a month",
				DecisionMaker: boolPtr(false),
			},
			wantScore:  9,
			wantStatus: StatusQualifying,
		},
		{
			name:       "weak evidence is not qualified",
			business:   BusinessInfo{TeamSize: intPtr(1)},
			wantScore:  0,
			wantStatus: StatusNotQualified,
		},
		{
			name:       "middle band stays initial",
			business:   BusinessInfo{TeamSize: intPtr(3), MonthlyRevenue: "10k"},
			wantScore:  4,
			wantStatus: StatusInitial,
		},
		{
			name: "pain points capped at five",
			business: BusinessInfo{
				PainPoints: []string{"a", "b", "c", "d", "e", "f", "g"},
			},
			wantScore:  5,
			wantStatus: StatusInitial,
		},
		{
			name:       "duplicate pain points count once",
			business:   BusinessInfo{PainPoints: []string{"growth", "growth", "efficiency"}},
			wantScore:  2,
			wantStatus: StatusNotQualified,
		},
		{
			name:       "low revenue and quarter timeline",
			business:   BusinessInfo{MonthlyRevenue: "about 5k"},
			qual:       QualificationData{Timeline: "next quarter", BudgetRange: "discussed"},
			wantScore:  2 + 1 + 2,
			wantStatus: StatusInitial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, status := ComputeQualification(tt.business, tt.qual)
			assert.Equal(t, tt.wantScore, score)
			assert.Equal(t, tt.wantStatus, status)

			again, againStatus := ComputeQualification(tt.business, tt.qual)
			assert.Equal(t, score, again, "scoring must be deterministic")
			assert.Equal(t, status, againStatus)
		})
	}
}

func TestStatusForScoreIsTotal(t *testing.T) {
	for score := -5; score <= 30; score++ {
		status := StatusForScore(score)
		switch {
		case score >= 10:
			assert.Equal(t, StatusQualified, status, "score %d", score)
		case score >= 6:
			assert.Equal(t, StatusQualifying, status, "score %d", score)
		case score <= 2:
			assert.Equal(t, StatusNotQualified, status, "score %d", score)
		default:
			assert.Equal(t, StatusInitial, status, "score %d", score)
		}
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	state := NewConversationState("t1", CustomerInfo{ContactID: "c1"}, fixedNow)
	state.ApplyBusinessUpdate(BusinessUpdate{TeamSize: intPtr(12), PainPoints: []string{"growth"}})
	state.Recompute()
	first := state.Qualification
	state.Recompute()
	assert.Equal(t, first, state.Qualification)
}

func TestRevenuePointsFromExtractedAmounts(t *testing.T) {
	tests := []struct {
		message    string
		wantRev    string
		wantPoints int
	}{
		{"our monthly revenue is $100,000", "$100,000", 4},
		{"revenue is about 1.2m", "1.2m", 4},
		{"revenue is around $12k monthly", "$12k", 3},
		{"we do $75k in sales", "$75k", 4},
		{"revenue is $4,000", "$4,000", 2},
		{"we're making six figures", "six figure", 4},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			sig := ExtractSignals(tt.message)
			assert.Equal(t, tt.wantRev, sig.MonthlyRevenue)
			assert.Equal(t, tt.wantPoints, revenuePoints(sig.MonthlyRevenue))

			score, _ := ComputeQualification(BusinessInfo{MonthlyRevenue: sig.MonthlyRevenue}, QualificationData{})
			assert.Equal(t, tt.wantPoints, score)
		})
	}
}

func TestRevenuePointsFallsBackToMarkers(t *testing.T) {
	assert.Equal(t, 4, revenuePoints("2 million"))
	assert.Equal(t, 3, revenuePoints("five figure"))
	assert.Equal(t, 0, revenuePoints("not sure"))
}
