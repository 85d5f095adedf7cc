// Package correction wires the text-correction stages into one linear
// pipeline.
//
// A correction runs, in order:
//
//  1. Trim the raw input. Blank input fails with [ErrEmptyInput] before any
//     other work is done.
//  2. The rule engine ([rules.Engine]).
//  3. The vocabulary stage ([phonetic.Vocabulary]), when terms are configured.
//  4. Remote refinement ([Refiner]), when configured. Refinement never fails
//     the correction; on error the previous stage's output is kept.
//  5. The diff between the trimmed input and the final text.
//
// A [Pipeline] holds no per-request state and is safe for concurrent use.
// Its rule engine, vocabulary and diff options may be swapped at runtime;
// each correction sees one consistent snapshot.
package correction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/quill/internal/correction/phonetic"
	"github.com/MrWong99/quill/internal/diff"
	"github.com/MrWong99/quill/internal/observe"
	"github.com/MrWong99/quill/internal/refine"
	"github.com/MrWong99/quill/internal/rules"
)

// ErrEmptyInput is returned by [Pipeline.Correct] for input that is empty
// after trimming whitespace.
var ErrEmptyInput = errors.New("correction: empty input")

// EmptyInputMessage is the user-facing message for [ErrEmptyInput].
const EmptyInputMessage = "Please enter some text to correct"

// Refiner is the remote refinement stage. [refine.Adapter] implements it.
type Refiner interface {
	Refine(ctx context.Context, text string) refine.Outcome
}

var _ Refiner = (*refine.Adapter)(nil)

// Refinement summarises what the refinement stage did.
type Refinement struct {
	Provider string `json:"provider,omitempty"`
	Refined  bool   `json:"refined"`
	Error    string `json:"error,omitempty"`
}

// Result is the outcome of one correction.
type Result struct {
	// Original is the trimmed input.
	Original string `json:"original"`

	// Corrected is the final text.
	Corrected string `json:"corrected"`

	// RuleOutput is the text after the rule engine.
	RuleOutput string `json:"rule_output"`

	// AppliedRules names the rules that changed the text, in order.
	AppliedRules []string `json:"applied_rules"`

	// Substitutions lists vocabulary replacements. Empty when the
	// vocabulary stage is off or matched nothing.
	Substitutions []phonetic.Substitution `json:"substitutions,omitempty"`

	// Refinement is nil when no refiner is configured.
	Refinement *Refinement `json:"refinement,omitempty"`

	// Diff turns Original into Corrected.
	Diff []diff.Segment `json:"diff"`
}

// stages is an immutable snapshot of the swappable pipeline parts.
type stages struct {
	engine  *rules.Engine
	vocab   *phonetic.Vocabulary
	diffOpt diff.Options
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithRules sets the rule engine. Defaults to [rules.New] with no extras.
func WithRules(e *rules.Engine) Option {
	return func(p *Pipeline) { p.initial.engine = e }
}

// WithVocabulary enables the vocabulary stage.
func WithVocabulary(v *phonetic.Vocabulary) Option {
	return func(p *Pipeline) { p.initial.vocab = v }
}

// WithDiffOptions sets the diff granularity and algorithm.
func WithDiffOptions(o diff.Options) Option {
	return func(p *Pipeline) { p.initial.diffOpt = o }
}

// WithRefiner enables remote refinement.
func WithRefiner(r Refiner) Option {
	return func(p *Pipeline) { p.refiner = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline runs corrections.
type Pipeline struct {
	initial stages
	refiner Refiner
	metrics *observe.Metrics

	mu    sync.Mutex // serialises writers of state
	state atomic.Pointer[stages]
}

// New constructs a [Pipeline].
func New(opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, o := range opts {
		o(p)
	}
	if p.initial.engine == nil {
		p.initial.engine = rules.New()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	s := p.initial
	p.state.Store(&s)
	return p
}

// SetRules swaps the rule engine used by subsequent corrections.
func (p *Pipeline) SetRules(e *rules.Engine) {
	if e == nil {
		return
	}
	p.update(func(s *stages) { s.engine = e })
}

// SetVocabulary swaps the vocabulary. nil disables the stage.
func (p *Pipeline) SetVocabulary(v *phonetic.Vocabulary) {
	p.update(func(s *stages) { s.vocab = v })
}

// SetDiffOptions swaps the diff options.
func (p *Pipeline) SetDiffOptions(o diff.Options) {
	p.update(func(s *stages) { s.diffOpt = o })
}

func (p *Pipeline) update(fn func(*stages)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := *p.state.Load()
	fn(&next)
	p.state.Store(&next)
}

// Rules returns the active rule table.
func (p *Pipeline) Rules() []rules.Rule {
	return p.state.Load().engine.Rules()
}

// DiffOptions returns the active diff options.
func (p *Pipeline) DiffOptions() diff.Options {
	return p.state.Load().diffOpt
}

// Correct runs the pipeline over raw. The only error is [ErrEmptyInput];
// cancellation of ctx only cuts the refinement attempt short.
//
// Surrounding whitespace is dropped before the rules run, so Result.Original
// and the diff never carry leading or trailing blanks.
func (p *Pipeline) Correct(ctx context.Context, raw string) (*Result, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, ErrEmptyInput
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanCorrect,
		trace.WithAttributes(observe.SourceKey.String(SourceFrom(ctx))))
	defer span.End()
	start := time.Now()
	s := p.state.Load()

	ruleOutput, applied := s.engine.Trace(text)
	p.metrics.RecordRuleApplications(ctx, applied)

	res := &Result{
		Original:     text,
		RuleOutput:   ruleOutput,
		AppliedRules: applied,
	}
	if res.AppliedRules == nil {
		res.AppliedRules = []string{}
	}

	current := ruleOutput
	if s.vocab != nil && s.vocab.Len() > 0 {
		current, res.Substitutions = s.vocab.Apply(current)
	}

	if p.refiner != nil {
		out := p.refiner.Refine(ctx, current)
		res.Refinement = &Refinement{Provider: out.Provider, Refined: out.Refined}
		if out.Err != nil {
			res.Refinement.Error = out.Err.Error()
		}
		if out.Refined {
			current = out.Text
		}
	}

	span.SetAttributes(observe.RulesAppliedKey.Int(len(applied)))
	if res.Refinement != nil {
		span.SetAttributes(
			observe.RefinedKey.Bool(res.Refinement.Refined),
			observe.RefineBackendKey.String(res.Refinement.Provider),
		)
	}

	res.Corrected = current
	res.Diff = diff.Compute(text, current, diff.WithOptions(s.diffOpt))

	p.metrics.RecordCorrection(ctx, SourceFrom(ctx), time.Since(start))
	observe.Logger(ctx).Debug("correction done",
		"rules", len(applied),
		"substitutions", len(res.Substitutions),
		"refined", res.Refinement != nil && res.Refinement.Refined,
	)
	return res, nil
}
