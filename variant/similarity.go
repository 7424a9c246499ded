package variant

import (
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Similarity returns the indel similarity ratio of a and b:
// (len(a)+len(b)-indel)/(len(a)+len(b)), where indel counts the runes
// inserted or deleted to turn a into b. A substitution costs two edits.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}

	dmp := diffmatchpatch.New()
	indel := 0
	for _, d := range dmp.DiffMain(a, b, false) {
		if d.Type != diffmatchpatch.DiffEqual {
			indel += utf8.RuneCountInString(d.Text)
		}
	}

	return min(max(float64(total-indel)/float64(total), 0), 1)
}
