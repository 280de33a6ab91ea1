// Package extract finds entity candidates in free text.
//
// Pattern is a dependency-free extractor over wikilinks and project tags.
// LLM delegates to a language model through the Completer interface.
// Threshold filters any extractor by confidence.
package extract

import "context"

// Candidate is a proposed entity found in text.
type Candidate struct {
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Confidence float64        `json:"confidence"`
}

// Extractor finds candidates in text.
type Extractor interface {
	ExtractEntities(ctx context.Context, text string) ([]Candidate, error)
}

// Func adapts a function to Extractor.
type Func func(ctx context.Context, text string) ([]Candidate, error)

// ExtractEntities calls f.
func (f Func) ExtractEntities(ctx context.Context, text string) ([]Candidate, error) {
	return f(ctx, text)
}

// Threshold returns an Extractor that drops candidates from next whose
// confidence is below min.
func Threshold(next Extractor, min float64) Extractor {
	return Func(func(ctx context.Context, text string) ([]Candidate, error) {
		cands, err := next.ExtractEntities(ctx, text)
		if err != nil {
			return nil, err
		}
		kept := cands[:0]
		for _, c := range cands {
			if c.Confidence >= min {
				kept = append(kept, c)
			}
		}
		return kept, nil
	})
}
