// Package framework loads the industry topic-weight tables that steer claim
// extraction. Weights run 0-2: 0 immaterial, 1 relevant, 2 material. A
// material topic the report never addresses becomes an omission claim.
package framework

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/verdant-group/greenwash-cli/internal/model"
)

// defaultIndustry is the column used when a company's industry has no
// column of its own.
const defaultIndustry = "Default"

// TopicWeight is one framework topic with its materiality for an industry.
type TopicWeight struct {
	Topic    string         `json:"topic"`
	Category model.Category `json:"category"`
	Weight   int            `json:"weight"`
}

// Table holds per-industry topic weights.
type Table struct {
	industries map[string][]TopicWeight
}

// Load reads a weight table, dispatching on the file extension. XLSX
// follows the published framework workbook layout; YAML is the hand-edited
// equivalent.
func Load(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return loadXLSX(path)
	case ".yaml", ".yml":
		return loadYAML(path)
	default:
		return nil, eris.Errorf("framework: unsupported table format %q", filepath.Ext(path))
	}
}

// Industries lists the industries the table covers, sorted.
func (t *Table) Industries() []string {
	out := make([]string, 0, len(t.industries))
	for ind := range t.industries {
		out = append(out, ind)
	}
	sort.Strings(out)
	return out
}

// ForIndustry returns the weighted topics for an industry, falling back to
// the default column for industries the table does not name. Topics with
// weight 0 are excluded.
func (t *Table) ForIndustry(industry string) []TopicWeight {
	weights, ok := t.industries[industry]
	if !ok {
		weights = t.industries[defaultIndustry]
	}
	out := make([]TopicWeight, 0, len(weights))
	for _, w := range weights {
		if w.Weight > 0 {
			out = append(out, w)
		}
	}
	return out
}

// PromptJSON renders an industry's weights as compact JSON for embedding in
// an extraction prompt.
func (t *Table) PromptJSON(industry string) (string, error) {
	weights := t.ForIndustry(industry)
	if len(weights) == 0 {
		return "", eris.Errorf("framework: no topics for industry %q", industry)
	}
	raw, err := json.Marshal(weights)
	if err != nil {
		return "", eris.Wrap(err, "framework: marshal weights")
	}
	return string(raw), nil
}

// xlsx layout: row 0 is "Topic", "Category", then one column per industry.
// Each following row is one topic with its category and per-industry
// weights.
func loadXLSX(path string) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "framework: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("framework: %s has no sheets", path)
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) < 2 {
		return nil, eris.Errorf("framework: %s has no topic rows", path)
	}

	header := sheet.Rows[0]
	if len(header.Cells) < 3 {
		return nil, eris.Errorf("framework: %s header needs topic, category, and at least one industry", path)
	}

	t := &Table{industries: make(map[string][]TopicWeight)}
	for _, row := range sheet.Rows[1:] {
		if len(row.Cells) < 2 {
			continue
		}
		topic := strings.TrimSpace(row.Cells[0].String())
		if topic == "" {
			continue
		}
		category, err := parseCategory(row.Cells[1].String())
		if err != nil {
			return nil, eris.Wrapf(err, "framework: topic %q", topic)
		}

		for col := 2; col < len(header.Cells); col++ {
			industry := strings.TrimSpace(header.Cells[col].String())
			if industry == "" {
				continue
			}
			weight := 0
			if col < len(row.Cells) {
				weight, err = parseWeight(row.Cells[col].String())
				if err != nil {
					return nil, eris.Wrapf(err, "framework: topic %q industry %q", topic, industry)
				}
			}
			t.industries[industry] = append(t.industries[industry], TopicWeight{
				Topic:    topic,
				Category: category,
				Weight:   weight,
			})
		}
	}
	return t, nil
}

// yamlTable is the on-disk YAML shape: industries keyed by name, each a
// list of topic entries.
type yamlTable struct {
	Industries map[string][]struct {
		Topic    string `yaml:"topic"`
		Category string `yaml:"category"`
		Weight   int    `yaml:"weight"`
	} `yaml:"industries"`
}

func loadYAML(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "framework: read %s", path)
	}

	var doc yamlTable
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrapf(err, "framework: parse %s", path)
	}
	if len(doc.Industries) == 0 {
		return nil, eris.Errorf("framework: %s defines no industries", path)
	}

	t := &Table{industries: make(map[string][]TopicWeight, len(doc.Industries))}
	for industry, topics := range doc.Industries {
		for _, entry := range topics {
			category, err := parseCategory(entry.Category)
			if err != nil {
				return nil, eris.Wrapf(err, "framework: industry %q topic %q", industry, entry.Topic)
			}
			if entry.Weight < 0 || entry.Weight > 2 {
				return nil, eris.Errorf("framework: industry %q topic %q: weight %d out of range", industry, entry.Topic, entry.Weight)
			}
			t.industries[industry] = append(t.industries[industry], TopicWeight{
				Topic:    entry.Topic,
				Category: category,
				Weight:   entry.Weight,
			})
		}
	}
	return t, nil
}

func parseCategory(s string) (model.Category, error) {
	c := model.Category(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case model.CategoryEnvironmental, model.CategorySocial, model.CategoryGovernance:
		return c, nil
	}
	return "", eris.Errorf("bad category %q", s)
}

func parseWeight(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	w, err := strconv.Atoi(s)
	if err != nil || w < 0 || w > 2 {
		return 0, eris.Errorf("bad weight %q", s)
	}
	return w, nil
}
