package threading

// SimilarityRatio computes the symmetric character-sequence similarity
// of two strings in [0,1]: twice the total length of matching blocks
// over the combined length. Matching blocks are found by repeatedly
// taking the longest contiguous match and recursing on the pieces to
// its left and right, so the measure is order-preserving rather than
// bag-of-characters.
func SimilarityRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	matched := matchingBlockSize(ra, rb)
	return 2.0 * float64(matched) / float64(total)
}

// matchingBlockSize sums the lengths of all matching blocks.
func matchingBlockSize(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingBlockSize(a[:ai], b[:bi]) +
		matchingBlockSize(a[ai+size:], b[bi+size:])
}

// longestMatch finds the longest contiguous matching block between a
// and b, preferring the earliest occurrence in a, then in b.
func longestMatch(a, b []rune) (bestA, bestB, bestSize int) {
	b2j := make(map[rune][]int, len(b))
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}

	// j2len[j] is the length of the match ending at a[i-1], b[j-1]
	// from the previous row.
	j2len := make(map[int]int)
	for i, r := range a {
		newJ2len := make(map[int]int)
		for _, j := range b2j[r] {
			k := j2len[j-1] + 1
			newJ2len[j] = k
			if k > bestSize {
				bestA, bestB, bestSize = i-k+1, j-k+1, k
			}
		}
		j2len = newJ2len
	}
	return bestA, bestB, bestSize
}

// JaccardOverlap computes |a∩b| / |a∪b| for two address sets.
// Returns 0 when the union is empty.
func JaccardOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for addr := range a {
		if _, ok := b[addr]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
