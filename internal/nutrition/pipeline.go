// internal/nutrition/pipeline.go
package nutrition

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInternal marks a failure inside the pipeline itself, as opposed to a
// model reply that could not be parsed (which is not an error).
var ErrInternal = errors.New("nutrition: internal pipeline error")

// Partial is what a single strategy recovers from the raw text.
type Partial struct {
	Items []Record
	Total *Record
}

// Strategy is one way of turning model text into records.
type Strategy interface {
	Name() StrategyName
	// CanParse is a cheap precheck; Parse may still miss.
	CanParse(text string) bool
	Parse(text string) (Partial, bool)
}

// Pipeline tries its strategies in order and keeps the first that yields at
// least one item.
type Pipeline struct {
	parser     *Parser
	strategies []Strategy
}

type Option func(*Pipeline)

// WithStrategies replaces the default strategy order.
func WithStrategies(s ...Strategy) Option {
	return func(p *Pipeline) {
		p.strategies = append([]Strategy(nil), s...)
	}
}

func NewPipeline(policy Policy, opts ...Option) (*Pipeline, error) {
	parser, err := NewParser(policy)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		parser: parser,
		strategies: []Strategy{
			structuredStrategy{parser},
			delimitedStrategy{parser},
			textMinedStrategy{},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pipeline) Parser() *Parser {
	return p.parser
}

// Normalize turns raw model output into a ParsedResponse. Unparseable text
// gives StrategyNone with no error; an error is only returned, wrapping
// ErrInternal, when a strategy itself fails.
func (p *Pipeline) Normalize(raw string) (ParsedResponse, error) {
	resp := ParsedResponse{
		Items:        []Record{},
		RawText:      raw,
		StrategyUsed: StrategyNone,
	}

	for _, s := range p.strategies {
		if !s.CanParse(raw) {
			continue
		}
		part, ok, err := runStrategy(s, raw)
		if err != nil {
			return resp, err
		}
		if !ok {
			continue
		}
		items := p.dropTotals(part.Items)
		if len(items) == 0 {
			continue
		}
		resp.Items = items
		resp.Total = part.Total
		resp.StrategyUsed = s.Name()
		return resp, nil
	}

	return resp, nil
}

func runStrategy(s Strategy, raw string) (part Partial, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s strategy: %v", ErrInternal, s.Name(), r)
		}
	}()
	part, ok = s.Parse(raw)
	return part, ok, nil
}

func (p *Pipeline) dropTotals(items []Record) []Record {
	out := make([]Record, 0, len(items))
	for _, it := range items {
		if it.IsTotal(p.parser.policy.TotalMarker) {
			continue
		}
		out = append(out, it)
	}
	return out
}

type structuredStrategy struct{ p *Parser }

func (structuredStrategy) Name() StrategyName { return StrategyStructuredJSON }

func (structuredStrategy) CanParse(text string) bool {
	start := strings.Index(text, "{")
	return start != -1 && strings.LastIndex(text, "}") > start
}

func (s structuredStrategy) Parse(text string) (Partial, bool) {
	items, total, ok := s.p.ExtractStructured(text)
	return Partial{Items: items, Total: total}, ok
}

type delimitedStrategy struct{ p *Parser }

func (delimitedStrategy) Name() StrategyName { return StrategyDelimitedLines }

func (s delimitedStrategy) CanParse(text string) bool {
	return strings.Contains(text, s.p.policy.Delimiter)
}

func (s delimitedStrategy) Parse(text string) (Partial, bool) {
	items, total := s.p.ParseLines(text)
	return Partial{Items: items, Total: total}, len(items) > 0
}

type textMinedStrategy struct{}

func (textMinedStrategy) Name() StrategyName { return StrategyTextMined }

func (textMinedStrategy) CanParse(text string) bool {
	return strings.ContainsAny(text, "0123456789")
}

func (textMinedStrategy) Parse(text string) (Partial, bool) {
	rec, ok := MineText(text)
	if !ok {
		return Partial{}, false
	}
	return Partial{Items: []Record{rec}}, true
}
