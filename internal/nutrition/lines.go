// internal/nutrition/lines.go
package nutrition

import (
	"strings"
)

type LineKind int

const (
	// LineSkipped is a line that is not a record: prose, a header or a
	// line with the wrong number of fields.
	LineSkipped LineKind = iota
	LineItem
	LineTotal
)

// ParseLine parses one "food | serving | calories | protein | carbs | fat"
// line. Lines with any other field count are skipped, not rejected.
func (p *Parser) ParseLine(line string) (Record, LineKind) {
	fields := strings.Split(line, p.policy.Delimiter)
	if len(fields) != lineFieldCount {
		return Record{}, LineSkipped
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	food := cleanFood(fields[0])
	if food == "" || isTableDecoration(food) || isHeader(fields) {
		return Record{}, LineSkipped
	}

	rec := Record{
		Food:        food,
		ServingText: fields[1],
		Grams:       p.ParseServing(fields[1]),
		Calories:    ExtractInt(fields[2], 0),
		ProteinG:    ExtractInt(fields[3], 0),
		CarbsG:      ExtractInt(fields[4], 0),
		FatG:        ExtractInt(fields[5], 0),
	}.clamp()

	if rec.IsTotal(p.policy.TotalMarker) {
		return rec, LineTotal
	}
	return rec, LineItem
}

// ParseLines parses every delimited line in text. Lines without the
// delimiter are dropped first so commentary around the table is ignored.
// When several total lines appear the last one wins.
func (p *Parser) ParseLines(text string) ([]Record, *Record) {
	var (
		items []Record
		total *Record
	)
	for _, line := range splitLines(text) {
		if !strings.Contains(line, p.policy.Delimiter) {
			continue
		}
		rec, kind := p.ParseLine(line)
		switch kind {
		case LineItem:
			items = append(items, rec)
		case LineTotal:
			t := rec
			total = &t
		}
	}
	return items, total
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

// isTableDecoration matches markdown separator cells such as "---" or ":--:".
func isTableDecoration(s string) bool {
	return strings.Trim(s, "-:= ") == ""
}

// isHeader matches a column header row echoed back from the instructions.
func isHeader(fields []string) bool {
	return strings.EqualFold(fields[0], "food") && strings.EqualFold(fields[2], "calories")
}
