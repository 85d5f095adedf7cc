package llmrefine

import (
	"strings"
	"unicode"

	"github.com/MrWong99/quill/internal/diff"
)

// wordKey reduces a token to the letters and digits it carries, lowercased.
// Two tokens with equal keys differ at most in punctuation and casing.
func wordKey(tok string) string {
	var sb strings.Builder
	for _, r := range tok {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
		}
	}
	return sb.String()
}

// joinedKey is the concatenated word key of a token span.
func joinedKey(toks []string) string {
	var sb strings.Builder
	for _, t := range toks {
		sb.WriteString(wordKey(t))
	}
	return sb.String()
}

// Guard returns refined with every word-level change reverted to the
// original tokens. Tokens are aligned on their word keys; a gap between
// aligned tokens is kept only when both sides carry the same letters (for
// example "well ," against "well,"), otherwise the original tokens are used.
func Guard(original, refined string) string {
	if original == refined {
		return refined
	}
	orig := strings.Fields(original)
	ref := strings.Fields(refined)

	origKeys := make([]string, len(orig))
	for i, t := range orig {
		origKeys[i] = wordKey(t)
	}
	refKeys := make([]string, len(ref))
	for i, t := range ref {
		refKeys[i] = wordKey(t)
	}

	out := make([]string, 0, len(orig))
	oi, ri := 0, 0
	gap := func(oEnd, rEnd int) {
		if oi == oEnd && ri == rEnd {
			return
		}
		if joinedKey(orig[oi:oEnd]) == joinedKey(ref[ri:rEnd]) {
			out = append(out, ref[ri:rEnd]...)
		} else {
			out = append(out, orig[oi:oEnd]...)
		}
	}
	for _, a := range diff.LCS(origKeys, refKeys) {
		gap(a.A, a.B)
		out = append(out, ref[a.B])
		oi, ri = a.A+1, a.B+1
	}
	gap(len(orig), len(ref))
	return strings.Join(out, " ")
}
