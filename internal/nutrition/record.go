// internal/nutrition/record.go
package nutrition

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Record is one canonical nutrition entry produced from model output.
type Record struct {
	Food        string `json:"food"`
	ServingText string `json:"serving_text"`
	Grams       int    `json:"grams"`
	Calories    int    `json:"calories"`
	ProteinG    int    `json:"protein_g"`
	CarbsG      int    `json:"carbs_g"`
	FatG        int    `json:"fat_g"`
	// RawTextUsed marks values mined from prose rather than a structured reply.
	RawTextUsed bool `json:"raw_text_used,omitempty"`
}

// IsTotal reports whether the record is the aggregate row for the given marker.
func (r Record) IsTotal(marker string) bool {
	return strings.EqualFold(strings.TrimSpace(r.Food), marker)
}

type StrategyName string

const (
	StrategyStructuredJSON StrategyName = "structured_json"
	StrategyDelimitedLines StrategyName = "delimited_lines"
	StrategyTextMined      StrategyName = "text_mined"
	StrategyNone           StrategyName = "none"
)

// ParsedResponse is the result of normalizing one model reply. Items never
// contain the total row, and RawText is always the verbatim input.
type ParsedResponse struct {
	Items        []Record     `json:"items"`
	Total        *Record      `json:"total"`
	RawText      string       `json:"raw_text"`
	StrategyUsed StrategyName `json:"strategy_used"`
}

// Parsed reports whether any strategy produced a result.
func (p ParsedResponse) Parsed() bool {
	return p.StrategyUsed != StrategyNone && len(p.Items) > 0
}

// Dominant returns the item with the highest calories. Ties go to the
// earliest item.
func Dominant(items []Record) (Record, bool) {
	if len(items) == 0 {
		return Record{}, false
	}
	best := 0
	for i := 1; i < len(items); i++ {
		if items[i].Calories > items[best].Calories {
			best = i
		}
	}
	return items[best], true
}

// cleanFood trims whitespace and markdown emphasis and puts the name in NFC form.
func cleanFood(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "*_`\"'")
	return norm.NFC.String(strings.TrimSpace(s))
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// clamp forces every numeric field to be >= 0.
func (r Record) clamp() Record {
	r.Grams = nonNegative(r.Grams)
	r.Calories = nonNegative(r.Calories)
	r.ProteinG = nonNegative(r.ProteinG)
	r.CarbsG = nonNegative(r.CarbsG)
	r.FatG = nonNegative(r.FatG)
	return r
}
