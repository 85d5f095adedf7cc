package diff

import "strings"

// maxLCSCells bounds the dynamic-programming table. Larger middles (after
// the common prefix and suffix are stripped) are reported as one
// removed/added pair.
const maxLCSCells = 4 << 20

// Anchor pairs a token index in the first sequence with the index of the
// equal token in the second.
type Anchor struct {
	A int
	B int
}

// lcsDiff builds the edit script from the longest common subsequence of the
// two token slices.
func lcsDiff(a, b []string) []Segment {
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	midA := a[prefix : len(a)-suffix]
	midB := b[prefix : len(b)-suffix]

	segs := []Segment{{Value: strings.Join(a[:prefix], ""), Kind: Unchanged}}
	if len(midA)*len(midB) > maxLCSCells {
		segs = append(segs,
			Segment{Value: strings.Join(midA, ""), Kind: Removed},
			Segment{Value: strings.Join(midB, ""), Kind: Added},
		)
	} else {
		segs = append(segs, walkAnchors(midA, midB, LCS(midA, midB))...)
	}
	return append(segs, Segment{Value: strings.Join(a[len(a)-suffix:], ""), Kind: Unchanged})
}

// walkAnchors emits the gaps between anchors as removed/added pairs and the
// anchors themselves as unchanged text.
func walkAnchors(a, b []string, anchors []Anchor) []Segment {
	var segs []Segment
	ai, bi := 0, 0
	gap := func(aEnd, bEnd int) {
		if ai < aEnd {
			segs = append(segs, Segment{Value: strings.Join(a[ai:aEnd], ""), Kind: Removed})
		}
		if bi < bEnd {
			segs = append(segs, Segment{Value: strings.Join(b[bi:bEnd], ""), Kind: Added})
		}
	}
	for _, p := range anchors {
		gap(p.A, p.B)
		segs = append(segs, Segment{Value: a[p.A], Kind: Unchanged})
		ai, bi = p.A+1, p.B+1
	}
	gap(len(a), len(b))
	return segs
}

// LCS returns the anchors of a longest common subsequence of a and b in
// increasing order. O(m×n) time and space; callers bound the input size.
func LCS(a, b []string) []Anchor {
	m, n := len(a), len(b)
	if m == 0 || n == 0 {
		return nil
	}

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			switch {
			case a[i-1] == b[j-1]:
				dp[i][j] = dp[i-1][j-1] + 1
			case dp[i-1][j] >= dp[i][j-1]:
				dp[i][j] = dp[i-1][j]
			default:
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	k := dp[m][n]
	if k == 0 {
		return nil
	}

	anchors := make([]Anchor, k)
	i, j := m, n
	for i > 0 && j > 0 {
		switch {
		case a[i-1] == b[j-1]:
			k--
			anchors[k] = Anchor{A: i - 1, B: j - 1}
			i--
			j--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return anchors
}
