package similarity

import "math"

// Vector is a sparse L2-normalized feature vector keyed by character bigram.
// A nil or empty Vector compares as zero against everything.
type Vector map[string]float64

// Embed builds the bigram feature vector for a query string.
// The text is lowercased and stripped of everything outside [a-z0-9 ] before
// overlapping 2-character substrings are counted and the counts normalized.
func Embed(text string) Vector {
	norm := normalize(text)
	if len(norm) < 2 {
		return nil
	}

	counts := make(Vector)
	for i := 0; i+2 <= len(norm); i++ {
		counts[norm[i:i+2]]++
	}

	var sumSq float64
	for _, c := range counts {
		sumSq += c * c
	}
	if sumSq == 0 {
		return nil
	}
	l2 := math.Sqrt(sumSq)
	for k, c := range counts {
		counts[k] = c / l2
	}
	return counts
}

// Cosine returns the cosine similarity of two vectors produced by Embed.
// Both inputs are already L2-normalized, so the raw dot product over shared
// features suffices. Zero-norm vectors score 0 against anything.
func Cosine(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	// Iterate the smaller map.
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for k, av := range a {
		if bv, ok := b[k]; ok {
			dot += av * bv
		}
	}
	return dot
}

// normalize lowercases text and drops characters outside [a-z0-9 ].
func normalize(text string) string {
	out := make([]byte, 0, len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+('a'-'A'))
		case (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == ' ':
			out = append(out, c)
		}
	}
	return string(out)
}
