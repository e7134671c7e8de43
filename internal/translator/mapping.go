package translator

import (
	"sort"
	"strings"
)

// defaultModelMap translates public model names into upstream model ids.
var defaultModelMap = map[string]string{
	"auto":                       "claude-sonnet-4.5",
	"claude-opus-4-5":            "claude-opus-4.5",
	"claude-opus-4-5-20251101":   "claude-opus-4.5",
	"claude-haiku-4-5":           "claude-haiku-4.5",
	"claude-haiku-4-5-20251001":  "claude-haiku-4.5",
	"claude-sonnet-4-5":          "CLAUDE_SONNET_4_5_20250929_V1_0",
	"claude-sonnet-4-5-20250929": "CLAUDE_SONNET_4_5_20250929_V1_0",
	"claude-sonnet-4":            "CLAUDE_SONNET_4_20250514_V1_0",
	"claude-sonnet-4-20250514":   "CLAUDE_SONNET_4_20250514_V1_0",
	"claude-3-7-sonnet-20250219": "CLAUDE_3_7_SONNET_20250219_V1_0",
}

// ModelMapper resolves public model ids to upstream ids. Unknown ids pass
// through unchanged.
type ModelMapper struct {
	table map[string]string
}

// NewModelMapper builds a mapper from the built-in table overlaid with aliases.
func NewModelMapper(aliases map[string]string) *ModelMapper {
	table := make(map[string]string, len(defaultModelMap)+len(aliases))
	for k, v := range defaultModelMap {
		table[k] = v
	}
	for k, v := range aliases {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		table[k] = v
	}
	return &ModelMapper{table: table}
}

// Map returns the upstream id for model.
func (m *ModelMapper) Map(model string) string {
	if target, ok := m.table[model]; ok {
		return target
	}
	return model
}

// Aliases lists the public ids with their targets, sorted by public id.
func (m *ModelMapper) Aliases() [][2]string {
	out := make([][2]string, 0, len(m.table))
	for k, v := range m.table {
		out = append(out, [2]string{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
