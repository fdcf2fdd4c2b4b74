// internal/nutrition/numeric.go
package nutrition

import (
	"regexp"
	"strconv"
)

var intPattern = regexp.MustCompile(`-?\d+`)

// ExtractInt returns the first signed integer literal in fragment, or def if
// there is none. "26 g" yields 26, "about -3" yields -3.
func ExtractInt(fragment string, def int) int {
	m := intPattern.FindString(fragment)
	if m == "" {
		return def
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		// out of range for int
		return def
	}
	return n
}
