// internal/nutrition/structured.go
package nutrition

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	errNotObject    = errors.New("structured block is not an object")
	errTrailingData = errors.New("structured block has data after the first value")
)

var (
	foodKeys     = []string{"food", "name", "food_name", "item"}
	servingKeys  = []string{"serving", "serving_size", "serving_text", "portion"}
	caloriesKeys = []string{"calories", "kcal", "energy"}
	proteinKeys  = []string{"protein", "protein_g"}
	carbsKeys    = []string{"carbs", "carbs_g", "carbohydrates"}
	fatKeys      = []string{"fat", "fat_g"}
	listKeys     = []string{"items", "foods"}
)

// ExtractStructured decodes the widest span from the first '{' to the last
// '}' in text. A span that does not decode, even after syntax repair, or an
// object without a food name is a soft miss (ok == false).
//
// Besides a single {food, serving, calories, protein, carbs, fat} object the
// span may hold {"items": [...], "total": {...}}.
func (p *Parser) ExtractStructured(text string) (items []Record, total *Record, ok bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, nil, false
	}

	obj, ok := decodeObject(text[start : end+1])
	if !ok {
		return nil, nil, false
	}

	if list, found := lookupList(obj); found {
		for _, el := range list {
			m, isObj := el.(map[string]any)
			if !isObj {
				continue
			}
			rec, valid := p.recordFromObject(m)
			if !valid {
				continue
			}
			if rec.IsTotal(p.policy.TotalMarker) {
				t := rec
				total = &t
				continue
			}
			items = append(items, rec)
		}
		if m, isObj := obj["total"].(map[string]any); isObj {
			rec, valid := p.recordFromObject(m)
			if !valid {
				rec = p.backfill(m, p.policy.TotalMarker)
			}
			total = &rec
		}
		return items, total, len(items) > 0
	}

	rec, valid := p.recordFromObject(obj)
	if !valid || rec.IsTotal(p.policy.TotalMarker) {
		return nil, nil, false
	}
	return []Record{rec}, nil, true
}

// decodeObject never evaluates its input; it only decodes JSON, retrying
// once on a repaired copy. A span holding several complete values is not
// one object and is not repaired into one.
func decodeObject(span string) (map[string]any, bool) {
	obj, err := decodeJSON(span)
	if err == nil {
		return obj, true
	}
	if errors.Is(err, errTrailingData) {
		return nil, false
	}
	repaired, err := jsonrepair.JSONRepair(span)
	if err != nil {
		return nil, false
	}
	obj, err = decodeJSON(repaired)
	if err != nil {
		return nil, false
	}
	return obj, true
}

func decodeJSON(s string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}
	return obj, nil
}

func lookupList(obj map[string]any) ([]any, bool) {
	for _, k := range listKeys {
		if v, ok := lookup(obj, k); ok {
			if list, ok := v.([]any); ok {
				return list, true
			}
		}
	}
	return nil, false
}

// recordFromObject requires a food name; missing numbers become 0.
func (p *Parser) recordFromObject(m map[string]any) (Record, bool) {
	food := cleanFood(firstString(m, foodKeys))
	if food == "" {
		return Record{}, false
	}
	return p.backfill(m, food), true
}

func (p *Parser) backfill(m map[string]any, food string) Record {
	serving := firstString(m, servingKeys)
	grams := p.ParseServing(serving)
	if v, ok := lookup(m, "grams"); ok {
		grams = coerceInt(v)
	}
	return Record{
		Food:        food,
		ServingText: serving,
		Grams:       grams,
		Calories:    firstInt(m, caloriesKeys),
		ProteinG:    firstInt(m, proteinKeys),
		CarbsG:      firstInt(m, carbsKeys),
		FatG:        firstInt(m, fatKeys),
	}.clamp()
}

// lookup matches keys case-insensitively. An exact match wins; among
// case variants the lowest key in byte order wins so results are stable.
func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	var matches []string
	for k := range m {
		if strings.EqualFold(k, key) {
			matches = append(matches, k)
		}
	}
	if len(matches) == 0 {
		return nil, false
	}
	sort.Strings(matches)
	return m[matches[0]], true
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := lookup(m, k)
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t
		case json.Number:
			return t.String()
		}
	}
	return ""
}

func firstInt(m map[string]any, keys []string) int {
	for _, k := range keys {
		if v, ok := lookup(m, k); ok && v != nil {
			return coerceInt(v)
		}
	}
	return 0
}

// coerceInt turns a decoded JSON value into an int. Strings such as "26 g"
// go through ExtractInt; anything else is 0.
func coerceInt(v any) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return clampInt64(n)
		}
		if f, err := t.Float64(); err == nil {
			return floatToInt(f)
		}
		return ExtractInt(t.String(), 0)
	case float64:
		return floatToInt(t)
	case string:
		return ExtractInt(t, 0)
	}
	return 0
}

// floatToInt truncates like ExtractInt does for "12.7".
func floatToInt(f float64) int {
	switch {
	case math.IsNaN(f):
		return 0
	case f > math.MaxInt32:
		return math.MaxInt32
	case f < math.MinInt32:
		return math.MinInt32
	}
	return int(math.Trunc(f))
}

func clampInt64(n int64) int {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < math.MinInt32 {
		return math.MinInt32
	}
	return int(n)
}
