// internal/nutrition/serving.go
package nutrition

import (
	"strconv"
	"strings"
)

// ParseServing returns the gram or milliliter quantity in a serving
// description, or the policy default when no quantity with a unit is found.
func (p *Parser) ParseServing(text string) int {
	m := p.servingRe.FindStringSubmatch(text)
	if m == nil {
		return p.policy.DefaultGrams
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return p.policy.DefaultGrams
	}
	return n
}
