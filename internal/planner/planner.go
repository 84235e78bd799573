// Package planner builds the tiered search queries used to cross-check a
// claim against news coverage. Tiers run narrow to broad; the caller stops
// at the first tier that returns results.
package planner

import (
	"fmt"
	"strings"

	"github.com/verdant-group/greenwash-cli/internal/model"
)

// Query is one planned search, tagged with the tier it belongs to.
type Query struct {
	Tier int
	Text string
}

// Planner turns a topic into its ordered query ladder.
type Planner struct{}

func New() *Planner {
	return &Planner{}
}

// Plan returns the queries for a topic, narrowest first:
//
//	tier 1: the claim keywords as an exact phrase, scoped to the period
//	tier 2: industry plus topic label, unquoted
//	tier 3: the company name alone
//
// Tiers whose inputs are missing are skipped, so the ladder is always
// deterministic for a given topic. Plan never returns an empty slice as long
// as the topic names a company.
func (p *Planner) Plan(t model.Topic) []Query {
	var queries []Query

	if kw := collapse(t.Keywords); kw != "" {
		text := fmt.Sprintf("%q", kw)
		if t.Period != "" {
			text += " " + t.Period
		}
		queries = append(queries, Query{Tier: 1, Text: text})
	}

	if t.Industry != "" && t.Name != "" {
		text := collapse(t.Industry + " " + t.Name)
		if t.Period != "" {
			text += " " + t.Period
		}
		queries = append(queries, Query{Tier: 2, Text: text})
	}

	if company := collapse(t.Company); company != "" {
		queries = append(queries, Query{Tier: 3, Text: company})
	}

	return queries
}

// collapse trims and folds runs of whitespace to single spaces so that
// equal inputs always plan equal queries.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
