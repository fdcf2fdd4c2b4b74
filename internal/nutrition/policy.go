// internal/nutrition/policy.go
package nutrition

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// lineFieldCount is the number of fields in a delimited record line:
// food, serving, calories, protein, carbs, fat.
const lineFieldCount = 6

// Policy is the small set of format defaults the parsers depend on.
type Policy struct {
	Delimiter    string   `toml:"delimiter"`
	UnitTokens   []string `toml:"unit_tokens"`
	TotalMarker  string   `toml:"total_marker"`
	DefaultGrams int      `toml:"default_grams"`
}

func DefaultPolicy() Policy {
	return Policy{
		Delimiter:    "|",
		UnitTokens:   []string{"g", "gram", "grams", "ml", "milliliter", "milliliters"},
		TotalMarker:  "total",
		DefaultGrams: 100,
	}
}

func (p Policy) Validate() error {
	if utf8.RuneCountInString(p.Delimiter) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", p.Delimiter)
	}
	units := 0
	for _, u := range p.UnitTokens {
		if strings.TrimSpace(u) != "" {
			units++
		}
	}
	if units == 0 {
		return errors.New("at least one non-blank unit token is required")
	}
	if strings.TrimSpace(p.TotalMarker) == "" {
		return errors.New("total marker is required")
	}
	if p.DefaultGrams < 0 {
		return fmt.Errorf("default grams must be >= 0, got %d", p.DefaultGrams)
	}
	return nil
}

// Parser applies a compiled Policy. It holds no mutable state and is safe
// for concurrent use.
type Parser struct {
	policy    Policy
	servingRe *regexp.Regexp
}

func NewParser(p Policy) (*Parser, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parse policy: %w", err)
	}

	units := make([]string, 0, len(p.UnitTokens))
	for _, u := range p.UnitTokens {
		if u = strings.TrimSpace(u); u != "" {
			units = append(units, regexp.QuoteMeta(u))
		}
	}
	// longest first so "grams" wins over "g"
	sort.SliceStable(units, func(i, j int) bool { return len(units[i]) > len(units[j]) })

	// "1,500 ml" is a thousands group; "1,5 g" and "1.5 g" are decimals
	re, err := regexp.Compile(`(?i)(\d{1,3}(?:,\d{3})+|\d+)(?:[.,]\d+)?\s*(?:` + strings.Join(units, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile serving pattern: %w", err)
	}

	p.UnitTokens = append([]string(nil), p.UnitTokens...)
	return &Parser{policy: p, servingRe: re}, nil
}

// Policy returns a copy of the policy the parser was built from.
func (p *Parser) Policy() Policy {
	out := p.policy
	out.UnitTokens = append([]string(nil), p.policy.UnitTokens...)
	return out
}
