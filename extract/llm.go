package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// Completer sends a prompt to a language model and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const defaultPrompt = `Extract the people, projects, topics and places mentioned in the note below.
Respond with only a JSON array. Each element must have the fields
"type" (person, project, topic or place), "name", "attributes" (an object)
and "confidence" (a number between 0 and 1).

Note:
%s`

// LLM extracts candidates by prompting a model.
type LLM struct {
	Completer Completer
	// Prompt is a format string with one %s verb for the text.
	Prompt string
}

// ExtractEntities prompts the model and parses the JSON array in its reply.
// Markdown code fences and surrounding prose are tolerated.
func (l LLM) ExtractEntities(ctx context.Context, text string) ([]Candidate, error) {
	if l.Completer == nil {
		return nil, fmt.Errorf("extract: llm extractor has no completer")
	}
	prompt := l.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}
	reply, err := l.Completer.Complete(ctx, fmt.Sprintf(prompt, text))
	if err != nil {
		return nil, fmt.Errorf("extract: complete: %w", err)
	}
	return ParseCandidates(reply)
}

// ParseCandidates decodes the first JSON array found in reply. Entries
// without a type or name are dropped and confidence is clamped to [0, 1].
func ParseCandidates(reply string) ([]Candidate, error) {
	start := strings.IndexByte(reply, '[')
	end := strings.LastIndexByte(reply, ']')
	if start < 0 || end < start {
		return nil, fmt.Errorf("extract: no JSON array in model reply")
	}

	var raw []Candidate
	if err := sonic.ConfigStd.UnmarshalFromString(reply[start:end+1], &raw); err != nil {
		return nil, fmt.Errorf("extract: decode model reply: %w", err)
	}

	out := make([]Candidate, 0, len(raw))
	for _, c := range raw {
		c.Type = strings.ToLower(strings.TrimSpace(c.Type))
		c.Name = strings.TrimSpace(c.Name)
		if c.Type == "" || c.Name == "" {
			continue
		}
		c.Confidence = min(max(c.Confidence, 0), 1)
		out = append(out, c)
	}
	return out, nil
}
