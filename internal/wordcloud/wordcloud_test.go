package wordcloud

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdant-group/greenwash-cli/internal/model"
)

func TestCount(t *testing.T) {
	g := New(Config{TopN: 10})
	text := "Emissions fell. The emissions target for 2024 is ambitious, and emissions reporting improved. Target met."

	entries := g.Count(text)
	require.NotEmpty(t, entries)
	assert.Equal(t, Entry{Word: "emissions", Count: 3}, entries[0])
	assert.Equal(t, Entry{Word: "target", Count: 2}, entries[1])

	for _, e := range entries {
		assert.NotEqual(t, "the", e.Word)
		assert.NotEqual(t, "2024", e.Word, "bare numbers are noise, not terms")
	}
}

func TestCountTopN(t *testing.T) {
	g := New(Config{TopN: 2})
	entries := g.Count("alpha alpha alpha beta beta gamma")
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].Word)
	assert.Equal(t, "beta", entries[1].Word)
}

func TestCountStableTieBreak(t *testing.T) {
	g := New(Config{TopN: 10})
	entries := g.Count("zebra apple")
	require.Len(t, entries, 2)
	assert.Equal(t, "apple", entries[0].Word)
	assert.Equal(t, "zebra", entries[1].Word)
}

func TestGenerate(t *testing.T) {
	dir := t.TempDir()
	g := New(Config{DataDir: dir, TopN: 50})
	key := model.JobKey{CompanyCode: "1101", Period: "2024"}

	path, err := g.Generate(context.Background(), key, "carbon capture pilot reduced carbon intensity")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2024-1101_wordcloud.json"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries []Entry
	require.NoError(t, json.Unmarshal(raw, &entries))
	assert.Equal(t, Entry{Word: "carbon", Count: 2}, entries[0])

	// Regeneration overwrites rather than failing.
	again, err := g.Generate(context.Background(), key, "carbon capture pilot")
	require.NoError(t, err)
	assert.Equal(t, path, again)
}

func TestGenerateEmptyText(t *testing.T) {
	g := New(Config{DataDir: t.TempDir()})
	_, err := g.Generate(context.Background(), model.JobKey{CompanyCode: "1101", Period: "2024"}, "   the   ")
	require.Error(t, err)
}
