package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/verdant-group/greenwash-cli/internal/model"
)

const extractSystem = `You are an ESG disclosure analyst. You read sustainability reports and
extract assessable claims tied to the industry's material topics, scoring each
for greenwashing risk from 0 (substantiated, specific, verifiable) to 4
(vague, unverifiable, or contradicted by the report itself).

For every material topic the report never addresses, emit an omission entry
with "omission": true.

Reply with a JSON array only. Each element:
{"topic": "...", "category": "E|S|G", "claim": "...", "page": "...",
 "risk_score": 0-4, "factor": "...", "keywords": "...", "omission": false}

"keywords" is a short phrase suited to a news search about the claim.`

func extractPrompt(in ExtractInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s (%s)\nIndustry: %s\nReporting period: %s\n\n",
		in.Company.Name, in.Company.Code, in.Company.Industry, in.Period)
	fmt.Fprintf(&b, "Material topics and weights for this industry:\n%s\n\n", in.Framework)
	b.WriteString("Report text:\n")
	b.WriteString(in.ReportText)
	return b.String()
}

const crossCheckSystem = `You are an ESG disclosure analyst verifying report claims against
independent news coverage. For each claim, decide whether the coverage is
consistent with the claim and adjust its greenwashing risk: -2 to +2, where
positive means the coverage contradicts or undercuts the claim.

Cite only URLs from the provided coverage.

Reply with a JSON array only. Each element:
{"claim_id": "...", "adjustment": -2..2, "consistent": true|false,
 "factor": "...", "evidence": [{"url": "...", "stance": "supports|contradicts"}]}`

func crossCheckPrompt(in CrossCheckInput) string {
	type coverageEntry struct {
		ClaimID string           `json:"claim_id"`
		Topic   string           `json:"topic"`
		Claim   string           `json:"claim"`
		Risk    int              `json:"risk_score"`
		News    []model.NewsItem `json:"news"`
	}

	entries := make([]coverageEntry, 0, len(in.Claims))
	for _, c := range in.Claims {
		entries = append(entries, coverageEntry{
			ClaimID: c.ID,
			Topic:   c.Topic,
			Claim:   c.Text,
			Risk:    c.RiskScore,
			News:    in.Coverage[c.ID],
		})
	}
	payload, _ := json.MarshalIndent(entries, "", "  ")

	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\nReporting period: %s\n\nClaims and coverage:\n",
		in.Company.Name, in.Period)
	b.Write(payload)
	return b.String()
}
