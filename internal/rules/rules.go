// Package rules implements the deterministic rule engine that forms the base
// layer of the correction pipeline.
//
// The engine is an explicit, ordered table of [Rule] records. Each record
// pairs a compiled pattern with a replacement template; the table is applied
// top to bottom and every rule sees the output of the rules before it, so the
// order is part of the behaviour. After the table, two finalisation steps run:
// the first character is upper-cased and a terminal period is appended when
// the text does not already end in ".", "!" or "?".
//
// Rules are grouped into stages that always run in this order:
//
//  1. [StageSubstitution]: pronoun capitalisation, contractions, common
//     grammar and spelling fixes, "your" → "you're" for a closed set of
//     continuations, then any user-supplied extra rules.
//  2. [StageWhitespace]: collapse whitespace runs, drop whitespace before
//     punctuation.
//  3. [StageWordSplit]: split accidentally joined words ("helloWorld").
//  4. [StageArticle]: "a" → "an" before a vowel.
//
// An [Engine] is immutable after construction and safe for concurrent use.
package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Stage groups rules that run at the same point of the pipeline.
type Stage int

const (
	StageSubstitution Stage = iota
	StageWhitespace
	StageWordSplit
	StageArticle
)

// String returns the stage name used in logs and the rules listing.
func (s Stage) String() string {
	switch s {
	case StageSubstitution:
		return "substitution"
	case StageWhitespace:
		return "whitespace"
	case StageWordSplit:
		return "word-split"
	case StageArticle:
		return "article"
	default:
		return "unknown"
	}
}

// Names of the finalisation steps as reported by [Engine.Trace].
const (
	StepCapitalize     = "capitalize-first"
	StepTerminalPeriod = "terminal-period"
)

// Rule is a single pattern → replacement record. Replacement uses
// [regexp.Regexp.ReplaceAllString] template syntax, so captured groups are
// referenced as ${1}, ${2}, ...
type Rule struct {
	Name        string
	Stage       Stage
	Pattern     *regexp.Regexp
	Replacement string
}

// Apply rewrites every match of r in s.
func (r Rule) Apply(s string) string {
	return r.Pattern.ReplaceAllString(s, r.Replacement)
}

// NewRule compiles a substitution rule. Unless caseSensitive is set the
// pattern matches case-insensitively, like the builtin substitutions.
func NewRule(name, pattern, replacement string, caseSensitive bool) (Rule, error) {
	if name == "" {
		return Rule{}, fmt.Errorf("rules: rule name must not be empty")
	}
	if pattern == "" {
		return Rule{}, fmt.Errorf("rules: rule %q: pattern must not be empty", name)
	}
	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Rule{}, fmt.Errorf("rules: rule %q: %w", name, err)
	}
	return Rule{Name: name, Stage: StageSubstitution, Pattern: re, Replacement: replacement}, nil
}

// Option configures an [Engine].
type Option func(*Engine)

// WithExtraRules appends rules to the end of the substitution stage, after
// the builtin substitutions and before whitespace normalisation. The stage of
// each rule is forced to [StageSubstitution].
func WithExtraRules(extra ...Rule) Option {
	return func(e *Engine) {
		for _, r := range extra {
			r.Stage = StageSubstitution
			e.extra = append(e.extra, r)
		}
	}
}

// Engine applies the rule table. The zero value is not usable; construct
// one with [New].
type Engine struct {
	extra []Rule
	table []Rule
}

// New returns an [Engine] with the builtin table plus any extra rules.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}

	table := make([]Rule, 0, len(substitutions)+len(e.extra)+len(normalization))
	table = append(table, substitutions...)
	table = append(table, e.extra...)
	table = append(table, normalization...)
	e.table = table
	return e
}

// Rules returns a copy of the ordered rule table.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.table))
	copy(out, e.table)
	return out
}

// Apply runs the full rule table and the finalisation steps over input.
// Blank input (empty after trimming whitespace) yields "" without applying
// any rule.
func (e *Engine) Apply(input string) string {
	out, _ := e.run(input, false)
	return out
}

// Trace is like [Engine.Apply] but also reports, in order, the names of the
// rules and finalisation steps that changed the text.
func (e *Engine) Trace(input string) (string, []string) {
	return e.run(input, true)
}

func (e *Engine) run(input string, trace bool) (string, []string) {
	if strings.TrimSpace(input) == "" {
		return "", nil
	}

	var applied []string
	text := input
	for _, r := range e.table {
		next := r.Apply(text)
		if trace && next != text {
			applied = append(applied, r.Name)
		}
		text = next
	}

	if next := capitalizeFirst(text); next != text {
		if trace {
			applied = append(applied, StepCapitalize)
		}
		text = next
	}
	if next := ensureTerminalPunctuation(text); next != text {
		if trace {
			applied = append(applied, StepTerminalPeriod)
		}
		text = next
	}
	return text, applied
}

// capitalizeFirst upper-cases the first rune of s.
func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || r == utf8.RuneError {
		return s
	}
	upper := unicode.ToUpper(r)
	if upper == r {
		return s
	}
	return string(upper) + s[size:]
}

// ensureTerminalPunctuation appends "." unless s is empty or already ends in
// one of ". ! ?".
func ensureTerminalPunctuation(s string) string {
	if s == "" {
		return s
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}
