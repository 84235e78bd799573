// Package wordcloud builds the word-frequency side artifact that accompanies
// an assessment. It runs alongside claim extraction and is allowed to fail
// without blocking the pipeline.
package wordcloud

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/verdant-group/greenwash-cli/internal/model"
)

// Entry is one word with its occurrence count.
type Entry struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Config tunes generation.
type Config struct {
	DataDir string
	TopN    int // default 100
}

// Generator produces word-frequency artifacts from report text.
type Generator struct {
	cfg Config
}

func New(cfg Config) *Generator {
	if cfg.TopN <= 0 {
		cfg.TopN = 100
	}
	return &Generator{cfg: cfg}
}

// Generate counts the report's significant words and writes the top entries
// as a JSON artifact, returning the file path. Regenerating for the same
// job overwrites the previous artifact.
func (g *Generator) Generate(ctx context.Context, key model.JobKey, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "wordcloud")
	}

	entries := g.Count(text)
	if len(entries) == 0 {
		return "", eris.New("wordcloud: no countable words in report text")
	}

	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "wordcloud: marshal entries")
	}

	if err := os.MkdirAll(g.cfg.DataDir, 0o755); err != nil {
		return "", eris.Wrap(err, "wordcloud: create data dir")
	}
	path := filepath.Join(g.cfg.DataDir, key.String()+"_wordcloud.json")
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", eris.Wrapf(err, "wordcloud: write %s", path)
	}

	zap.L().Debug("wordcloud artifact written",
		zap.String("job", key.String()),
		zap.String("path", path),
		zap.Int("words", len(entries)),
	)
	return path, nil
}

// Count tokenizes the text and returns the top words by frequency, ties
// broken alphabetically for a stable artifact.
func (g *Generator) Count(text string) []Entry {
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		counts[tok]++
	}

	entries := make([]Entry, 0, len(counts))
	for w, n := range counts {
		entries = append(entries, Entry{Word: w, Count: n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Word < entries[j].Word
	})

	if len(entries) > g.cfg.TopN {
		entries = entries[:g.cfg.TopN]
	}
	return entries
}

// tokenize normalizes the text and splits it into lowercase words, keeping
// CJK characters intact so Chinese-language reports still produce terms.
func tokenize(text string) []string {
	text = norm.NFKC.String(text)
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len([]rune(w)) < 2 || stopwords[w] || numeric(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func numeric(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// stopwords covers the high-frequency function words that would otherwise
// dominate any report's cloud.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "have": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "our": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "we": true, "were": true, "which": true, "will": true, "with": true,
	"的": true, "了": true, "及": true, "與": true, "並": true, "在": true,
	"為": true, "和": true, "是": true, "以": true, "於": true, "等": true,
}
