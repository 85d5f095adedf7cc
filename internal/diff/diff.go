// Package diff computes the edit script between an original and a corrected
// text as an ordered list of [Segment] values.
//
// Two invariants hold for every result of [Compute]:
//
//   - joining the Value of every segment whose Kind is not [Added] yields the
//     original text, and
//   - joining the Value of every segment whose Kind is not [Removed] yields the
//     corrected text.
//
// Identical inputs produce exactly one [Unchanged] segment carrying the whole
// input, including when the input is empty.
package diff

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Kind classifies a segment.
type Kind string

const (
	Unchanged Kind = "unchanged"
	Added     Kind = "added"
	Removed   Kind = "removed"
)

// Segment is one contiguous run of text in the edit script.
type Segment struct {
	Value string `json:"value"`
	Kind  Kind   `json:"kind"`
}

// Granularity selects the token unit the diff is computed over.
type Granularity string

const (
	// GranularityWord splits text into word runs, whitespace runs and single
	// punctuation characters.
	GranularityWord Granularity = "word"

	// GranularityChar diffs rune by rune.
	GranularityChar Granularity = "char"
)

// Algorithm selects the edit-script algorithm.
type Algorithm string

const (
	// AlgorithmMyers uses diff-match-patch with semantic cleanup.
	AlgorithmMyers Algorithm = "myers"

	// AlgorithmLCS uses a longest-common-subsequence table with backtracking.
	AlgorithmLCS Algorithm = "lcs"
)

// ParseGranularity maps a config value to a [Granularity]. The empty string
// selects [GranularityWord].
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case "", GranularityWord:
		return GranularityWord, nil
	case GranularityChar:
		return GranularityChar, nil
	default:
		return "", fmt.Errorf("diff: unknown granularity %q (want word or char)", s)
	}
}

// ParseAlgorithm maps a config value to an [Algorithm]. The empty string
// selects [AlgorithmMyers].
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case "", AlgorithmMyers:
		return AlgorithmMyers, nil
	case AlgorithmLCS:
		return AlgorithmLCS, nil
	default:
		return "", fmt.Errorf("diff: unknown algorithm %q (want myers or lcs)", s)
	}
}

// Options holds the resolved settings of a [Compute] call.
type Options struct {
	Granularity Granularity
	Algorithm   Algorithm
}

// Option configures [Compute].
type Option func(*Options)

// WithGranularity sets the token unit. Unknown values fall back to
// [GranularityWord].
func WithGranularity(g Granularity) Option {
	return func(o *Options) { o.Granularity = g }
}

// WithAlgorithm sets the edit-script algorithm. Unknown values fall back to
// [AlgorithmMyers].
func WithAlgorithm(a Algorithm) Option {
	return func(o *Options) { o.Algorithm = a }
}

// WithOptions copies a resolved [Options] value, as loaded from config.
func WithOptions(opts Options) Option {
	return func(o *Options) { *o = opts }
}

// Compute returns the edit script that turns original into corrected.
// It never fails.
func Compute(original, corrected string, opts ...Option) []Segment {
	o := Options{Granularity: GranularityWord, Algorithm: AlgorithmMyers}
	for _, opt := range opts {
		opt(&o)
	}

	if original == corrected {
		return []Segment{{Value: original, Kind: Unchanged}}
	}

	var a, b []string
	if o.Granularity == GranularityChar {
		a, b = splitRunes(original), splitRunes(corrected)
	} else {
		a, b = tokenize(original), tokenize(corrected)
	}

	var segs []Segment
	if o.Algorithm == AlgorithmLCS {
		segs = lcsDiff(a, b)
	} else {
		segs = myersDiff(a, b)
	}
	return normalize(segs)
}

// Original joins every segment that is not [Added].
func Original(segs []Segment) string {
	return join(segs, Added)
}

// Corrected joins every segment that is not [Removed].
func Corrected(segs []Segment) string {
	return join(segs, Removed)
}

func join(segs []Segment, skip Kind) string {
	var sb strings.Builder
	for _, s := range segs {
		if s.Kind != skip {
			sb.WriteString(s.Value)
		}
	}
	return sb.String()
}

// HasChanges reports whether any segment is added or removed.
func HasChanges(segs []Segment) bool {
	for _, s := range segs {
		if s.Kind != Unchanged {
			return true
		}
	}
	return false
}

// tokenize splits s into word runs, whitespace runs and single punctuation
// runes. Apostrophes between letters stay inside the word so "don't" is a
// single token.
func tokenize(s string) []string {
	var tokens []string
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		j := i + size
		switch {
		case isWordRune(r):
			for j < len(s) {
				next, n := utf8.DecodeRuneInString(s[j:])
				if isWordRune(next) {
					j += n
					continue
				}
				if isApostrophe(next) && j+n < len(s) {
					after, _ := utf8.DecodeRuneInString(s[j+n:])
					if isWordRune(after) {
						j += n
						continue
					}
				}
				break
			}
		case unicode.IsSpace(r):
			for j < len(s) {
				next, n := utf8.DecodeRuneInString(s[j:])
				if !unicode.IsSpace(next) {
					break
				}
				j += n
			}
		}
		tokens = append(tokens, s[i:j])
		i = j
	}
	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '_'
}

func isApostrophe(r rune) bool {
	return r == '\'' || r == '’'
}

func splitRunes(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for i := 0; i < len(s); {
		_, size := utf8.DecodeRuneInString(s[i:])
		out = append(out, s[i:i+size])
		i += size
	}
	return out
}

// normalize drops empty segments, merges neighbours of the same kind and,
// inside every change region, moves all removed text before all added text.
func normalize(segs []Segment) []Segment {
	out := make([]Segment, 0, len(segs))
	var removed, added strings.Builder

	flush := func() {
		if removed.Len() > 0 {
			out = append(out, Segment{Value: removed.String(), Kind: Removed})
			removed.Reset()
		}
		if added.Len() > 0 {
			out = append(out, Segment{Value: added.String(), Kind: Added})
			added.Reset()
		}
	}

	for _, s := range segs {
		if s.Value == "" {
			continue
		}
		switch s.Kind {
		case Removed:
			removed.WriteString(s.Value)
		case Added:
			added.WriteString(s.Value)
		default:
			flush()
			if n := len(out); n > 0 && out[n-1].Kind == Unchanged {
				out[n-1].Value += s.Value
				continue
			}
			out = append(out, Segment{Value: s.Value, Kind: Unchanged})
		}
	}
	flush()
	return out
}

// Tokens are mapped onto supplementary private-use code points so that
// diff-match-patch diffs whole tokens instead of characters.
const (
	tokenBase = rune(0xF0000)
	maxTokens = int(0x10FFFD - 0xF0000 + 1)
)

func myersDiff(a, b []string) []Segment {
	dmp := diffmatchpatch.New()

	index := make(map[string]rune)
	var table []string
	encode := func(tokens []string) ([]rune, bool) {
		out := make([]rune, len(tokens))
		for i, t := range tokens {
			r, ok := index[t]
			if !ok {
				if len(table) >= maxTokens {
					return nil, false
				}
				r = tokenBase + rune(len(table))
				index[t] = r
				table = append(table, t)
			}
			out[i] = r
		}
		return out, true
	}

	ra, okA := encode(a)
	rb, okB := encode(b)
	if !okA || !okB {
		return lcsDiff(a, b)
	}

	diffs := dmp.DiffMainRunes(ra, rb, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	segs := make([]Segment, 0, len(diffs))
	for _, d := range diffs {
		var sb strings.Builder
		for _, r := range d.Text {
			i := int(r - tokenBase)
			if i < 0 || i >= len(table) {
				// Cleanup split an encoded rune; redo the script without it.
				return lcsDiff(a, b)
			}
			sb.WriteString(table[i])
		}
		segs = append(segs, Segment{Value: sb.String(), Kind: kindOf(d.Type)})
	}
	return segs
}

func kindOf(op diffmatchpatch.Operation) Kind {
	switch op {
	case diffmatchpatch.DiffInsert:
		return Added
	case diffmatchpatch.DiffDelete:
		return Removed
	default:
		return Unchanged
	}
}
