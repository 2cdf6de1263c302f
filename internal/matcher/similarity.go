package matcher

import (
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// DescriptionSimilarity returns a similarity ratio in [0,1] between two
// normalized descriptions. With the default edit costs a substitution costs
// two, so the distance is bounded by the sum of both lengths.
func DescriptionSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	distance := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	return float64(total-distance) / float64(total)
}
