package database

// SpellingSuggestion returns the dictionary word closest to word within
// maxEditDistance edits, preferring the smallest distance and then the
// highest frequency. It returns "" when word is itself in the dictionary or
// nothing is close enough.
func (db *Database) SpellingSuggestion(word string, maxEditDistance int) (string, error) {
	shards, err := db.shards()
	if err != nil {
		return "", err
	}
	freqs := make(map[string]uint32)
	for _, s := range shards {
		words, err := s.SpellingWords()
		if err != nil {
			return "", err
		}
		for _, wf := range words {
			freqs[wf.Word] += wf.Freq
		}
	}
	if word == "" || freqs[word] > 0 {
		return "", nil
	}

	target := []rune(word)
	best := ""
	bestDist := maxEditDistance + 1
	var bestFreq uint32
	for candidate, freq := range freqs {
		c := []rune(candidate)
		if abs(len(c)-len(target)) > maxEditDistance {
			continue
		}
		d := editDistance(target, c, maxEditDistance)
		if d > maxEditDistance {
			continue
		}
		if d < bestDist || (d == bestDist && (freq > bestFreq || (freq == bestFreq && candidate < best))) {
			best, bestDist, bestFreq = candidate, d, freq
		}
	}
	return best, nil
}

// editDistance is the Levenshtein distance between a and b, cut short once
// every entry of a row exceeds limit.
func editDistance(a, b []rune, limit int) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			rowMin = min(rowMin, cur[j])
		}
		if rowMin > limit {
			return limit + 1
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
