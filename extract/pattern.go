package extract

import (
	"context"
	"regexp"
	"strings"
)

var (
	wikilinkRe   = regexp.MustCompile(`\[\[([^\]]+)\]\]`)
	projectTagRe = regexp.MustCompile(`#project/([^\s]+)`)
	personNameRe = regexp.MustCompile(`^[A-Z][a-z]+ [A-Z][a-z]+$`)
)

// PatternConfidence is the confidence assigned to every pattern match.
const PatternConfidence = 0.85

// Pattern extracts wikilinks ([[Name]]) and project tags (#project/name).
// Project tags and names containing "project" become projects, two
// capitalized words become persons, and everything else is a topic.
type Pattern struct{}

// ExtractEntities returns candidates in first-seen order, deduplicated by
// type and case-insensitive name.
func (Pattern) ExtractEntities(ctx context.Context, text string) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Candidate
	seen := make(map[string]bool)
	add := func(typ, name, source string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		key := typ + "\x00" + strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Candidate{
			Type:       typ,
			Name:       name,
			Attributes: map[string]any{"source": source},
			Confidence: PatternConfidence,
		})
	}

	for _, m := range wikilinkRe.FindAllStringSubmatch(text, -1) {
		name := m[1]
		// [[Target|Alias]] links to Target.
		if i := strings.IndexByte(name, '|'); i >= 0 {
			name = name[:i]
		}
		add(classify(name), name, "wikilink")
	}
	for _, m := range projectTagRe.FindAllStringSubmatch(text, -1) {
		add("project", m[1], "tag")
	}
	return out, nil
}

func classify(name string) string {
	name = strings.TrimSpace(name)
	switch {
	case strings.Contains(strings.ToLower(name), "project"):
		return "project"
	case personNameRe.MatchString(name):
		return "person"
	default:
		return "topic"
	}
}
