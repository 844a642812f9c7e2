package grading

import "unicode"

// normalize casefolds, trims and collapses runs of whitespace.
func normalize(s string) string {
	out := make([]rune, 0, len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && len(out) > 0 {
			out = append(out, ' ')
		}
		space = false
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}

// withinEdits reports whether a can be turned into b with at most limit
// single-rune insertions, deletions or substitutions. It stops as soon as
// every cell of a row exceeds limit.
func withinEdits(a, b string, limit int) bool {
	ar, br := []rune(a), []rune(b)
	if d := len(ar) - len(br); d > limit || -d > limit {
		return false
	}
	row := make([]int, len(br)+1)
	for j := range row {
		row[j] = j
	}
	for i, ra := range ar {
		diag := row[0]
		row[0] = i + 1
		best := row[0]
		for j, rb := range br {
			up := row[j+1]
			cost := 1
			if ra == rb {
				cost = 0
			}
			row[j+1] = min(up+1, row[j]+1, diag+cost)
			diag = up
			best = min(best, row[j+1])
		}
		if best > limit {
			return false
		}
	}
	return row[len(br)] <= limit
}
