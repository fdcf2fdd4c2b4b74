// internal/nutrition/textmine.go
package nutrition

import (
	"regexp"
	"strconv"
)

// minePattern pulls one macro out of free prose.
type minePattern struct {
	regex *regexp.Regexp
	set   func(*Record, int)
}

var minePatterns = []minePattern{
	{
		regex: regexp.MustCompile(`(?i)(\d+)\s*k?cal`),
		set:   func(r *Record, n int) { r.Calories = n },
	},
	{
		regex: regexp.MustCompile(`(?i)(\d+)\s*g(?:rams?)?\s+(?:of\s+)?protein`),
		set:   func(r *Record, n int) { r.ProteinG = n },
	},
	{
		regex: regexp.MustCompile(`(?i)(\d+)\s*g(?:rams?)?\s+(?:of\s+)?carb`),
		set:   func(r *Record, n int) { r.CarbsG = n },
	},
	{
		regex: regexp.MustCompile(`(?i)(\d+)\s*g(?:rams?)?\s+(?:of\s+)?fat`),
		set:   func(r *Record, n int) { r.FatG = n },
	},
}

// MineText searches prose for calories, protein, carbs and fat
// independently. Fields whose pattern is absent stay 0. ok is false when
// nothing matched at all.
func MineText(text string) (rec Record, ok bool) {
	rec = Record{
		Food:        "unknown",
		ServingText: "unknown",
		RawTextUsed: true,
	}
	for _, p := range minePatterns {
		m := p.regex.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		p.set(&rec, n)
		ok = true
	}
	return rec, ok
}
