package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Substitution records one window of the input replaced by a term.
type Substitution struct {
	Original   string  `json:"original"`
	Term       string  `json:"term"`
	Confidence float64 `json:"confidence"`
}

// Vocabulary applies a [Matcher] to whole sentences. It is immutable and
// safe for concurrent use.
type Vocabulary struct {
	matcher *Matcher
	terms   Terms
}

// NewVocabulary prepares terms for matching with m. A nil m uses [New]
// defaults.
func NewVocabulary(terms []string, m *Matcher) *Vocabulary {
	if m == nil {
		m = New()
	}
	return &Vocabulary{matcher: m, terms: PrepareTerms(terms)}
}

// Len returns the number of usable terms.
func (v *Vocabulary) Len() int { return v.terms.Len() }

// Apply replaces word windows of text that match a term. At each position
// windows are tried from the longest term length down to one word and the
// first match wins. Punctuation before the first and after the last word of
// a window is kept. When nothing matches, text is returned as is.
func (v *Vocabulary) Apply(text string) (string, []Substitution) {
	if v == nil || v.terms.Len() == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var (
		out  = make([]string, 0, len(tokens))
		subs []Substitution
	)
	for i := 0; i < len(tokens); {
		n, replaced, sub, ok := v.matchAt(tokens, i)
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		out = append(out, replaced)
		if sub.Original != sub.Term {
			subs = append(subs, sub)
		}
		i += n
	}

	if len(subs) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), subs
}

// matchAt tries every window starting at tokens[i], longest first.
func (v *Vocabulary) matchAt(tokens []string, i int) (n int, replaced string, sub Substitution, ok bool) {
	maxN := min(v.terms.MaxWords(), len(tokens)-i)
	for n := maxN; n >= 1; n-- {
		window := strings.Join(tokens[i:i+n], " ")
		lead, core, trail := splitPunct(window)
		if !hasLetter(core) {
			continue
		}
		term, conf, matched := v.matcher.MatchPrepared(core, v.terms)
		if !matched {
			continue
		}
		return n, lead + term + trail, Substitution{Original: core, Term: term, Confidence: conf}, true
	}
	return 0, "", Substitution{}, false
}

// splitPunct separates leading and trailing punctuation from s.
func splitPunct(s string) (lead, core, trail string) {
	start := strings.IndexFunc(s, isWordRune)
	if start < 0 {
		return s, "", ""
	}
	end := strings.LastIndexFunc(s, isWordRune)
	_, size := utf8.DecodeRuneInString(s[end:])
	end += size
	return s[:start], s[start:end], s[end:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}
