package extract_test

import (
	"context"
	"errors"
	"testing"

	"github.com/secondbrain/strata/extract"
)

func TestPatternExtractsAndClassifies(t *testing.T) {
	text := "Met [[Ada Lovelace]] about [[Project Apollo]].\n" +
		"Thoughts on [[distributed systems]] and [[ada lovelace]] again. #project/strata #project/strata"

	got, err := extract.Pattern{}.ExtractEntities(context.Background(), text)
	if err != nil {
		t.Fatalf("ExtractEntities: %v", err)
	}

	want := []struct{ typ, name string }{
		{"person", "Ada Lovelace"},
		{"project", "Project Apollo"},
		{"topic", "distributed systems"},
		{"topic", "ada lovelace"},
		{"project", "strata"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates: %+v", len(got), got)
	}
	for i, w := range want {
		if got[i].Type != w.typ || got[i].Name != w.name {
			t.Errorf("[%d] = %s/%s, want %s/%s", i, got[i].Type, got[i].Name, w.typ, w.name)
		}
		if got[i].Confidence != extract.PatternConfidence {
			t.Errorf("[%d] confidence = %v", i, got[i].Confidence)
		}
	}
}

func TestPatternAlias(t *testing.T) {
	got, _ := extract.Pattern{}.ExtractEntities(context.Background(), "see [[Grace Hopper|Grace]]")
	if len(got) != 1 || got[0].Name != "Grace Hopper" || got[0].Type != "person" {
		t.Errorf("got %+v", got)
	}
}

func TestPatternEmpty(t *testing.T) {
	got, err := extract.Pattern{}.ExtractEntities(context.Background(), "nothing to see")
	if err != nil || len(got) != 0 {
		t.Errorf("got %+v, %v", got, err)
	}
}

func TestLLMParsesFencedReply(t *testing.T) {
	var prompt string
	llm := extract.LLM{Completer: extract.CompleterFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "Here you go:\n```json\n" +
			`[{"type":"Person","name":" Alan Turing ","confidence":0.92},` +
			`{"type":"topic","name":"","confidence":0.5},` +
			`{"type":"place","name":"Bletchley","confidence":1.4}]` +
			"\n```", nil
	})}

	got, err := llm.ExtractEntities(context.Background(), "note body")
	if err != nil {
		t.Fatalf("ExtractEntities: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Type != "person" || got[0].Name != "Alan Turing" {
		t.Errorf("[0] = %+v", got[0])
	}
	if got[1].Confidence != 1 {
		t.Errorf("confidence not clamped: %v", got[1].Confidence)
	}
	if prompt == "" {
		t.Error("completer not called")
	}
}

func TestLLMErrors(t *testing.T) {
	failing := extract.LLM{Completer: extract.CompleterFunc(func(context.Context, string) (string, error) {
		return "", errors.New("rate limited")
	})}
	if _, err := failing.ExtractEntities(context.Background(), "x"); err == nil {
		t.Error("expected completer error")
	}
	if _, err := extract.ParseCandidates("no array here"); err == nil {
		t.Error("expected parse error")
	}
	if _, err := (extract.LLM{}).ExtractEntities(context.Background(), "x"); err == nil {
		t.Error("expected missing completer error")
	}
}

func TestThreshold(t *testing.T) {
	src := extract.Func(func(context.Context, string) ([]extract.Candidate, error) {
		return []extract.Candidate{
			{Type: "topic", Name: "a", Confidence: 0.9},
			{Type: "topic", Name: "b", Confidence: 0.5},
			{Type: "topic", Name: "c", Confidence: 0.75},
		}, nil
	})
	got, err := extract.Threshold(src, 0.75).ExtractEntities(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "c" {
		t.Errorf("got %+v", got)
	}
}
