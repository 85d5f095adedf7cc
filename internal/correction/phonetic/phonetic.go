// Package phonetic snaps misspelled domain terms to a configured vocabulary.
//
// A [Matcher] compares a word (or short phrase) against the vocabulary in two
// passes:
//
//  1. Phonetic candidates: terms sharing a Double Metaphone code with the
//     input are ranked by Jaro-Winkler similarity and accepted above the
//     phonetic threshold (default 0.70).
//  2. Fuzzy fallback: without a phonetic candidate, pure Jaro-Winkler
//     similarity is tested against the stricter fuzzy threshold (default
//     0.85).
//
// [Vocabulary.Apply] slides n-gram windows over a sentence so multi-word
// terms ("Tower of Whispers") win over single-word partial matches.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matched term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.phoneticThreshold = threshold
		}
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no phonetic
// candidate exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.fuzzyThreshold = threshold
		}
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Term is a vocabulary entry with its comparison data precomputed.
type Term struct {
	Value  string
	lower  string
	tokens []string
	codes  map[string]struct{}
	length int
}

// Terms is a prepared vocabulary.
type Terms struct {
	list     []Term
	maxWords int
}

// PrepareTerms precomputes lowercase tokens and phonetic codes for terms.
// Blank entries are dropped.
func PrepareTerms(terms []string) Terms {
	ts := Terms{list: make([]Term, 0, len(terms))}
	for _, v := range terms {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		ts.list = append(ts.list, Term{
			Value:  strings.TrimSpace(v),
			lower:  lower,
			tokens: tokens,
			codes:  codesForTokens(tokens),
			length: compactLen(tokens),
		})
		ts.maxWords = max(ts.maxWords, len(tokens))
	}
	return ts
}

// Len returns the number of terms.
func (ts Terms) Len() int { return len(ts.list) }

// MaxWords returns the word count of the longest term.
func (ts Terms) MaxWords() int { return ts.maxWords }

// Match finds the term most similar to word. When matched is false,
// corrected equals word and confidence is 0.
func (m *Matcher) Match(word string, terms []string) (corrected string, confidence float64, matched bool) {
	return m.MatchPrepared(word, PrepareTerms(terms))
}

// MatchPrepared is [Matcher.Match] against a prepared vocabulary.
func (m *Matcher) MatchPrepared(word string, terms Terms) (corrected string, confidence float64, matched bool) {
	if terms.Len() == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)
	inputLen := compactLen(wordTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range terms.list {
		if !comparableLength(inputLen, t.length) {
			continue
		}
		score := bestJWScore(wordTokens, t.tokens, wordLower, t.lower)
		if codesOverlap(inputCodes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t.Value, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t.Value, score
		}
	}

	if best == "" {
		return word, 0, false
	}
	return best, bestScore, true
}

// compactLen is the rune count of tokens without separators.
func compactLen(tokens []string) int {
	n := 0
	for _, t := range tokens {
		n += utf8.RuneCountInString(t)
	}
	return n
}

// comparableLength reports whether two lengths are within a factor of two.
// Jaro-Winkler rewards short inputs that happen to share a few letters with a
// long term; this filter rejects them up front.
func comparableLength(a, b int) bool {
	return a > 0 && b > 0 && 2*a >= b && 2*b >= a
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
// Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity across the full
// strings, the space-stripped strings and, for inputs with as many words as
// the term, aligned token pairs. A lone word never scores against a single
// word of a longer term, so "of" does not match "Tower of Whispers".
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(termTokens, ""), false); s > score {
			score = s
		}
	}

	if len(inputTokens) == len(termTokens) && len(termTokens) > 1 {
		var sum float64
		for i := range inputTokens {
			sum += matchr.JaroWinkler(inputTokens[i], termTokens[i], false)
		}
		if s := sum / float64(len(termTokens)); s > score {
			score = s
		}
	}
	return score
}
