package dissolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/secondbrain/strata"
	"github.com/secondbrain/strata/entity"
	"github.com/secondbrain/strata/extract"
	"github.com/secondbrain/strata/id"
	"github.com/secondbrain/strata/lifecycle"
	"github.com/secondbrain/strata/retry"
)

// DefaultSourceType is the entity type dissolution applies to.
const DefaultSourceType = "daily-note"

// DefaultAge is how old a note must be before it is due.
const DefaultAge = 48 * time.Hour

const mergeSeparator = "\n\n---\n\n"

// Emitter receives dissolution events. ext.Registry satisfies it.
type Emitter interface {
	EmitDissolutionStarted(ctx context.Context, entityID string)
	EmitDissolutionCompleted(ctx context.Context, r *Result)
	EmitDissolutionFailed(ctx context.Context, entityID string, err error)
	EmitDissolutionPrevented(ctx context.Context, entityID, reason string)
}

// Result describes one completed dissolution.
type Result struct {
	ID             id.ID         `json:"id"`
	SourceID       string        `json:"source_id"`
	ExtractedCount int           `json:"extracted_count"`
	Entities       []string      `json:"entities"`
	Archived       bool          `json:"archived"`
	Summary        string        `json:"summary"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Failure is one failed item of a batch.
type Failure struct {
	EntityID string `json:"entity_id"`
	Error    string `json:"error"`
}

// Batch is the outcome of DissolveMultiple.
type Batch struct {
	Results  []*Result `json:"results"`
	Failures []Failure `json:"failures,omitempty"`
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithExtractor sets the candidate extractor.
func WithExtractor(x extract.Extractor) Option {
	return func(w *Workflow) { w.extractor = x }
}

// WithEmitter sets the event sink.
func WithEmitter(e Emitter) Option {
	return func(w *Workflow) { w.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workflow) { w.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithArchive controls whether the source is archived after merging.
func WithArchive(archive bool) Option {
	return func(w *Workflow) { w.archive = archive }
}

// WithSourceType sets the entity type treated as a dissolvable note.
func WithSourceType(t string) Option {
	return func(w *Workflow) { w.sourceType = t }
}

// WithAge sets how old a note must be before DueForDissolution returns it.
func WithAge(d time.Duration) Option {
	return func(w *Workflow) { w.age = d }
}

// Workflow dissolves notes into records.
type Workflow struct {
	repo       entity.Repository
	machine    *lifecycle.Machine
	extractor  extract.Extractor
	emitter    Emitter
	logger     *slog.Logger
	now        func() time.Time
	archive    bool
	sourceType string
	age        time.Duration
}

// New creates a Workflow. Archiving goes through machine so the transition
// is validated, recorded and emitted like any other.
func New(repo entity.Repository, machine *lifecycle.Machine, opts ...Option) *Workflow {
	w := &Workflow{
		repo:       repo,
		machine:    machine,
		extractor:  extract.Threshold(extract.Pattern{}, 0.75),
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		archive:    true,
		sourceType: DefaultSourceType,
		age:        DefaultAge,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dissolve extracts the note's candidates, merges them into records and
// archives the note. Only capture and transitional notes are dissolved.
// Age is not checked here; DueForDissolution selects aged notes.
func (w *Workflow) Dissolve(ctx context.Context, entityID string) (*Result, error) {
	started := w.now()

	src, err := w.repo.GetEntity(ctx, entityID)
	if err != nil {
		if errors.Is(err, strata.ErrEntityNotFound) {
			return nil, retry.Permanent(fmt.Errorf("dissolve %s: %w", entityID, err))
		}
		return nil, fmt.Errorf("dissolve %s: load: %w", entityID, err)
	}
	switch src.State {
	case entity.StateCapture, entity.StateTransitional:
	case entity.StateArchived:
		return nil, retry.Permanent(fmt.Errorf("dissolve %s: %w", entityID, strata.ErrAlreadyArchived))
	default:
		return nil, retry.Permanent(fmt.Errorf("dissolve %s: %w: %s records are not dissolved",
			entityID, strata.ErrInvalidState, src.State))
	}
	if src.PreventDissolve {
		reason := src.MetaString("prevent_dissolve_reason")
		if reason == "" {
			reason = "Dissolution prevented"
		}
		w.emitPrevented(ctx, entityID, reason)
		return nil, retry.Permanent(fmt.Errorf("dissolve %s: %w", entityID, strata.ErrDissolutionPrevented))
	}

	if w.emitter != nil {
		w.emitter.EmitDissolutionStarted(ctx, entityID)
	}

	res, err := w.dissolve(ctx, src, started)
	if err != nil {
		w.logger.Error("dissolution failed",
			slog.String("entity_id", entityID),
			slog.String("error", err.Error()),
		)
		if w.emitter != nil {
			w.emitter.EmitDissolutionFailed(ctx, entityID, err)
		}
		return nil, err
	}

	w.logger.Info("dissolution completed",
		slog.String("entity_id", entityID),
		slog.Int("extracted", res.ExtractedCount),
		slog.Int("entities", len(res.Entities)),
		slog.Bool("archived", res.Archived),
	)
	if w.emitter != nil {
		w.emitter.EmitDissolutionCompleted(ctx, res)
	}
	return res, nil
}

func (w *Workflow) dissolve(ctx context.Context, src *entity.Entity, started time.Time) (*Result, error) {
	text := src.Content
	if strings.TrimSpace(text) == "" {
		text = src.Title
	}
	cands, err := w.extractor.ExtractEntities(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("dissolve %s: extract: %w", src.ID, err)
	}

	noteDate := sourceDate(src)
	res := &Result{ID: id.NewDissolutionID(), SourceID: src.ID, ExtractedCount: len(cands)}
	counts := make(map[string]int)

	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recordID, err := w.merge(ctx, src, c, noteDate)
		if err != nil {
			w.logger.Warn("dissolution candidate skipped",
				slog.String("entity_id", src.ID),
				slog.String("candidate", c.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Entities = append(res.Entities, recordID)
		counts[c.Type]++
	}

	if w.archive {
		tr := w.machine.Transition(ctx, src.ID, entity.StateArchived, lifecycle.WithMetadata(map[string]any{
			"archived_at":     w.now().Format(time.RFC3339Nano),
			"archived_reason": "Automatic 48-hour dissolution",
		}))
		if !tr.Success {
			return nil, fmt.Errorf("dissolve %s: archive: %w", src.ID, tr.Err)
		}
		res.Archived = true
	}

	res.Summary = summarize(noteDate, len(res.Entities), counts)
	res.Elapsed = w.now().Sub(started)
	return res, nil
}

// merge folds one candidate into its record and returns the record id.
func (w *Workflow) merge(ctx context.Context, src *entity.Entity, c extract.Candidate, noteDate time.Time) (string, error) {
	recordID := RecordID(c.Type, c.Name)
	now := w.now().Format(time.RFC3339Nano)
	provenance := map[string]any{
		"source_daily_note": src.ID,
		"source_date":       noteDate.Format(time.DateOnly),
	}

	existing, err := w.repo.GetEntity(ctx, recordID)
	switch {
	case err == nil:
		content := existing.Content
		// A retried dissolution must not repeat the excerpt.
		if addition := excerptFor(src); addition != "" && !strings.Contains(content, addition) {
			if content != "" {
				content += mergeSeparator
			}
			content += addition
		}
		meta := map[string]any{"last_dissolution_update": now}
		for k, v := range provenance {
			meta[k] = v
		}
		for k, v := range c.Attributes {
			if _, taken := existing.Metadata[k]; !taken {
				meta[k] = v
			}
		}
		_, err = w.repo.UpdateEntity(ctx, recordID, entity.Patch{
			Content:  &content,
			AddLinks: []string{src.ID},
			Metadata: meta,
		})
		return recordID, err

	case errors.Is(err, strata.ErrEntityNotFound):
		meta := map[string]any{"confidence": c.Confidence, "filed_at": now}
		for k, v := range c.Attributes {
			meta[k] = v
		}
		for k, v := range provenance {
			meta[k] = v
		}
		_, err = w.repo.CreateEntity(ctx, &entity.Entity{
			ID:       recordID,
			Type:     c.Type,
			TenantID: src.TenantID,
			Title:    c.Name,
			Content:  excerptFor(src),
			State:    entity.StatePermanent,
			Links:    []string{src.ID},
			Metadata: meta,
		})
		return recordID, err

	default:
		return "", err
	}
}

func excerptFor(src *entity.Entity) string {
	body := strings.TrimSpace(src.Content)
	if body == "" {
		return ""
	}
	return fmt.Sprintf("From %s:\n\n%s", src.Title, body)
}

// sourceDate is the note's "date" metadata when present, else its creation
// day.
func sourceDate(e *entity.Entity) time.Time {
	if s := e.MetaString("date"); s != "" {
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			return t
		}
	}
	if t, ok := e.MetaTime("date"); ok {
		return t
	}
	return e.CreatedAt
}

func summarize(date time.Time, n int, counts map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dissolved daily note from %s. Extracted %d entities", date.Format(time.DateOnly), n)
	if len(counts) == 0 {
		b.WriteByte('.')
		return b.String()
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	parts := make([]string, len(types))
	for i, t := range types {
		noun := t
		if counts[t] > 1 {
			noun += "s"
		}
		parts[i] = fmt.Sprintf("%d %s", counts[t], noun)
	}
	b.WriteString(": ")
	b.WriteString(strings.Join(parts, ", "))
	b.WriteByte('.')
	return b.String()
}

// RecordID derives the deterministic id of the record a candidate merges
// into: its type and a slug of its name, such as "person-ada-lovelace".
func RecordID(typ, name string) string {
	return slug(typ) + "-" + slug(name)
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// DissolveMultiple dissolves ids in order. A failure is recorded and the
// batch continues.
func (w *Workflow) DissolveMultiple(ctx context.Context, ids []string) *Batch {
	out := &Batch{Results: make([]*Result, 0, len(ids))}
	for _, entityID := range ids {
		if err := ctx.Err(); err != nil {
			out.Failures = append(out.Failures, Failure{EntityID: entityID, Error: err.Error()})
			continue
		}
		res, err := w.Dissolve(ctx, entityID)
		if err != nil {
			out.Failures = append(out.Failures, Failure{EntityID: entityID, Error: err.Error()})
			continue
		}
		out.Results = append(out.Results, res)
	}
	return out
}

// DueForDissolution returns the notes of tenantID that are old enough,
// not prevented and not postponed. An empty tenant matches all tenants.
func (w *Workflow) DueForDissolution(ctx context.Context, tenantID string) ([]*entity.Entity, error) {
	now := w.now()
	cands, err := w.repo.QueryEntities(ctx, entity.Filter{
		TenantID:      tenantID,
		Type:          w.sourceType,
		States:        []entity.State{entity.StateCapture, entity.StateTransitional},
		CreatedBefore: now.Add(-w.age),
	})
	if err != nil {
		return nil, fmt.Errorf("query dissolution candidates: %w", err)
	}
	due := cands[:0]
	for _, e := range cands {
		if e.PreventDissolve {
			continue
		}
		if until, ok := e.MetaTime("postpone_until"); ok && until.After(now) {
			continue
		}
		due = append(due, e)
	}
	return due, nil
}

func (w *Workflow) emitPrevented(ctx context.Context, entityID, reason string) {
	w.logger.Info("dissolution prevented",
		slog.String("entity_id", entityID),
		slog.String("reason", reason),
	)
	if w.emitter != nil {
		w.emitter.EmitDissolutionPrevented(ctx, entityID, reason)
	}
}
