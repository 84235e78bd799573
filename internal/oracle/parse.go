package oracle

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/verdant-group/greenwash-cli/internal/model"
)

// claimPayload is the wire shape the extraction prompt asks for.
type claimPayload struct {
	Topic     string `json:"topic"`
	Category  string `json:"category"`
	Claim     string `json:"claim"`
	Page      string `json:"page"`
	RiskScore int    `json:"risk_score"`
	Factor    string `json:"factor"`
	Keywords  string `json:"keywords"`
	Omission  bool   `json:"omission"`
}

// verdictPayload is the wire shape the cross-check prompt asks for.
type verdictPayload struct {
	ClaimID    string `json:"claim_id"`
	Adjustment int    `json:"adjustment"`
	Consistent bool   `json:"consistent"`
	Factor     string `json:"factor"`
	Evidence   []struct {
		URL    string `json:"url"`
		Stance string `json:"stance"`
	} `json:"evidence"`
}

// decodeArray parses a JSON array out of a model reply, working through
// three strategies in order: the raw text as-is, the text with markdown
// fences stripped, and finally the text re-closed at the last complete
// element. The last one recovers arrays cut off at the token limit.
func decodeArray[T any](raw string) ([]T, error) {
	var out []T

	candidates := []string{raw, stripFences(raw)}
	if repaired, ok := recloseArray(stripFences(raw)); ok {
		candidates = append(candidates, repaired)
	}

	var lastErr error
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c), &out); err == nil {
			return out, nil
		} else {
			lastErr = err
		}
	}
	return nil, eris.Wrap(lastErr, "decode array")
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.LastIndex(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	return strings.TrimSpace(s)
}

// recloseArray truncates a broken JSON array after its last complete object
// and closes it. Reports false when the text never looked like an array.
func recloseArray(s string) (string, bool) {
	start := strings.Index(s, "[")
	if start < 0 {
		return "", false
	}
	s = s[start:]
	end := strings.LastIndex(s, "}")
	if end < 0 {
		return "", false
	}
	return s[:end+1] + "]", true
}

// parseClaims decodes and strictly validates an extraction reply. Every
// payload must carry a known category and a risk score in range; one bad
// element rejects the whole reply.
func parseClaims(raw string) ([]claimPayload, error) {
	payloads, err := decodeArray[claimPayload](raw)
	if err != nil {
		return nil, eris.Wrap(model.ErrMalformedOutput, err.Error())
	}
	if len(payloads) == 0 {
		return nil, eris.Wrap(model.ErrMalformedOutput, "empty claim array")
	}

	for i, p := range payloads {
		if p.Topic == "" {
			return nil, eris.Wrapf(model.ErrMalformedOutput, "claim %d: missing topic", i)
		}
		switch model.Category(p.Category) {
		case model.CategoryEnvironmental, model.CategorySocial, model.CategoryGovernance:
		default:
			return nil, eris.Wrapf(model.ErrMalformedOutput, "claim %d: bad category %q", i, p.Category)
		}
		if p.RiskScore < 0 || p.RiskScore > 4 {
			return nil, eris.Wrapf(model.ErrMalformedOutput, "claim %d: risk score %d out of range", i, p.RiskScore)
		}
		if !p.Omission && p.Claim == "" {
			return nil, eris.Wrapf(model.ErrMalformedOutput, "claim %d: missing claim text", i)
		}
	}
	return payloads, nil
}

// parseVerdicts decodes and strictly validates a cross-check reply against
// the claims that were submitted.
func parseVerdicts(raw string, claimIDs map[string]bool) ([]verdictPayload, error) {
	payloads, err := decodeArray[verdictPayload](raw)
	if err != nil {
		return nil, eris.Wrap(model.ErrMalformedOutput, err.Error())
	}

	for i, p := range payloads {
		if !claimIDs[p.ClaimID] {
			return nil, eris.Wrapf(model.ErrMalformedOutput, "verdict %d: unknown claim id %q", i, p.ClaimID)
		}
		if p.Adjustment < -2 || p.Adjustment > 2 {
			return nil, eris.Wrapf(model.ErrMalformedOutput, "verdict %d: adjustment %d out of range", i, p.Adjustment)
		}
	}
	return payloads, nil
}

// abnormal reports whether an extraction looks like the model got stuck in
// a loop: far more claims than distinct topics.
func abnormal(payloads []claimPayload) bool {
	topics := make(map[string]bool, len(payloads))
	for _, p := range payloads {
		topics[p.Topic] = true
	}
	return len(payloads) > 2*len(topics)
}

// dedupeByTopic keeps one claim per topic, preferring the highest risk
// score, and preserves first-seen topic order.
func dedupeByTopic(payloads []claimPayload) []claimPayload {
	best := make(map[string]int, len(payloads))
	var order []string
	for i, p := range payloads {
		j, seen := best[p.Topic]
		if !seen {
			best[p.Topic] = i
			order = append(order, p.Topic)
			continue
		}
		if p.RiskScore > payloads[j].RiskScore {
			best[p.Topic] = i
		}
	}

	out := make([]claimPayload, 0, len(order))
	for _, topic := range order {
		out = append(out, payloads[best[topic]])
	}
	return out
}
