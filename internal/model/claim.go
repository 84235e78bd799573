package model

// Category buckets a framework topic along the E/S/G axes.
type Category string

const (
	CategoryEnvironmental Category = "E"
	CategorySocial        Category = "S"
	CategoryGovernance    Category = "G"
)

// Claim is one assessable statement extracted from a sustainability report,
// tied to a framework topic. A topic with material weight that the report
// never addresses still yields a claim, marked as an omission.
type Claim struct {
	ID       string   `json:"id"`
	Topic    string   `json:"topic"`
	Category Category `json:"category"`
	Text     string   `json:"text"`           // the claim as stated in the report
	Page     string   `json:"page,omitempty"` // where in the report it appears
	Omission bool     `json:"omission,omitempty"`

	// RiskScore is the 0-4 greenwashing risk from extraction; Adjustment is
	// the delta applied after cross-checking against external sources.
	RiskScore  int    `json:"risk_score"`
	Adjustment int    `json:"adjustment,omitempty"`
	Factor     string `json:"factor,omitempty"` // which greenwashing pattern the score reflects
	Consistent bool   `json:"consistent"`       // report vs external sources

	// Keywords seed the tiered news search for this claim.
	Keywords string `json:"keywords,omitempty"`

	Evidence []Evidence `json:"evidence,omitempty"`
}

// FinalScore is the cross-checked risk for the claim, clamped to 0-4.
func (c Claim) FinalScore() int {
	s := c.RiskScore + c.Adjustment
	if s < 0 {
		return 0
	}
	if s > 4 {
		return 4
	}
	return s
}

// Liveness is the validation status of an evidence link.
type Liveness string

const (
	LivenessUnchecked Liveness = "unchecked"
	LivenessLive      Liveness = "live"
	LivenessDead      Liveness = "dead"
)

// Evidence is a citation attached to a claim during external verification.
// Links start unchecked; source validation settles each one to live or
// drops it when no replacement can be found.
type Evidence struct {
	ID          string   `json:"id"`
	ClaimID     string   `json:"claim_id"`
	Title       string   `json:"title,omitempty"`
	URL         string   `json:"url"`
	Snippet     string   `json:"snippet,omitempty"`
	Stance      string   `json:"stance,omitempty"` // "supports" or "contradicts"
	Liveness    Liveness `json:"liveness"`
	Repaired    bool     `json:"repaired,omitempty"` // URL was replaced during validation
	OriginalURL string   `json:"original_url,omitempty"`
}
