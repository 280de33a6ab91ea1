package job_test

import (
	"errors"
	"testing"
	"time"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/job"
	"github.com/secondbrain/strata/retry"
)

func TestStatus_IsTerminal(t *testing.T) {
	terminal := map[job.Status]bool{
		job.StatusCompleted: true,
		job.StatusFailed:    true,
		job.StatusCancelled: true,
		job.StatusTimedOut:  true,
	}
	for _, s := range job.Statuses {
		if s.IsTerminal() != terminal[s] {
			t.Errorf("%s.IsTerminal() = %v", s, s.IsTerminal())
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := map[string]job.Priority{
		"low":      job.PriorityLow,
		"":         job.PriorityNormal,
		"HIGH":     job.PriorityHigh,
		"critical": job.PriorityCritical,
	}
	for in, want := range tests {
		got, err := job.ParsePriority(in)
		if err != nil || got != want {
			t.Errorf("ParsePriority(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := job.ParsePriority("urgent"); err == nil {
		t.Error("expected error for unknown priority")
	}
	if job.PriorityHigh.String() != "high" {
		t.Errorf("String() = %q", job.PriorityHigh.String())
	}
}

func TestJob_Eligible(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	j := &job.Job{Status: job.StatusPending}
	if !j.Eligible(now) {
		t.Error("pending job without retry time should be eligible")
	}
	j.NextRetryAt = &future
	if j.Eligible(now) {
		t.Error("job with future NextRetryAt must not be eligible")
	}
	j.NextRetryAt = &past
	if !j.Eligible(now) {
		t.Error("job with past NextRetryAt should be eligible")
	}
	j.Status = job.StatusRunning
	if j.Eligible(now) {
		t.Error("running job must not be eligible")
	}
}

func TestJob_CloneIsIndependent(t *testing.T) {
	j := &job.Job{
		ID:       id.NewJobID(),
		Payload:  []byte(`{"a":1}`),
		Metadata: map[string]any{"k": "v"},
	}
	j.RecordError(job.Error{Message: "boom", Attempt: 1})

	cp := j.Clone()
	cp.Payload[2] = 'b'
	cp.Metadata["k"] = "changed"
	cp.LastError.Message = "changed"

	if string(j.Payload) != `{"a":1}` || j.Metadata["k"] != "v" || j.LastError.Message != "boom" {
		t.Error("mutating the clone changed the original")
	}
}

func TestJob_MergeMetadata(t *testing.T) {
	j := &job.Job{}
	j.MergeMetadata(map[string]any{"a": 1, "b": 2})
	j.MergeMetadata(map[string]any{"a": nil, "c": 3})

	if _, ok := j.Metadata["a"]; ok {
		t.Error("nil value should delete the key")
	}
	if j.Metadata["b"] != 2 || j.Metadata["c"] != 3 {
		t.Errorf("metadata = %v", j.Metadata)
	}
}

func TestFailedError(t *testing.T) {
	cause := errors.New("upstream exploded")
	err := error(&job.FailedError{JobID: id.NewJobID(), Type: "x", Attempts: 3, Err: cause})

	if !errors.Is(err, strata.ErrJobFailed) {
		t.Error("FailedError should match ErrJobFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("FailedError should unwrap to its cause")
	}
}

func TestNewDefinition_Options(t *testing.T) {
	def := job.NewDefinition("report", map[string]string{"id": "r1"},
		job.WithPriority(job.PriorityHigh),
		job.WithMaxAttempts(5),
		job.WithTimeout(time.Second),
		job.WithDelay(time.Minute),
		job.WithTenant("t1"),
	)
	if def.EffectivePriority() != job.PriorityHigh || def.Timeout != time.Second || def.Delay != time.Minute || def.TenantID != "t1" {
		t.Errorf("definition = %+v", def)
	}
	if def.Retry == nil || def.Retry.MaxAttempts != 5 || def.Retry.Strategy != retry.StrategyExponential {
		t.Errorf("retry = %+v", def.Retry)
	}
}

func TestDefinition_DefaultPriority(t *testing.T) {
	if got := (job.Definition{Type: "x"}).EffectivePriority(); got != job.PriorityNormal {
		t.Errorf("literal definition priority = %s, want normal", got)
	}
	if got := job.NewDefinition("x", nil).EffectivePriority(); got != job.PriorityNormal {
		t.Errorf("NewDefinition priority = %s, want normal", got)
	}
	if got := job.NewDefinition("x", nil, job.WithPriority(job.PriorityLow)).EffectivePriority(); got != job.PriorityLow {
		t.Errorf("explicit low priority = %s", got)
	}
}
