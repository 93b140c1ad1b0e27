package citations

import (
	"strings"

	"github.com/clincite/clincite/internal/job"
)

// fallbackTarget is how many references the fallback tries to give each item.
const fallbackTarget = 2

// Fallback assigns references deterministically: keyword overlap between the
// item text and the citation text picks preferred references, then the list
// is padded round-robin so every item cites something.
func Fallback(analysis *job.Analysis) {
	n := len(analysis.References)
	if n == 0 {
		return
	}

	next := 0
	for i := range analysis.Diagnoses {
		d := &analysis.Diagnoses[i]
		d.Refs = fallbackRefs(d.Label, analysis.References, &next)
	}
	for i := range analysis.Plan {
		p := &analysis.Plan[i]
		p.Refs = fallbackRefs(p.Title, analysis.References, &next)
	}
}

// fallbackRefs picks references whose citation shares a word with the item
// text, then pads with the rotating cursor up to the target count.
func fallbackRefs(text string, refs []job.Reference, next *int) []int {
	words := significantWords(text)

	out := make([]int, 0, fallbackTarget)
	used := make(map[int]struct{})

	for _, ref := range refs {
		if len(out) == fallbackTarget {
			break
		}
		citation := strings.ToLower(ref.Citation)
		for _, w := range words {
			if strings.Contains(citation, w) {
				out = append(out, ref.Number)
				used[ref.Number] = struct{}{}
				break
			}
		}
	}

	for len(out) < fallbackTarget && len(out) < len(refs) {
		num := refs[*next%len(refs)].Number
		*next++
		if _, ok := used[num]; ok {
			continue
		}
		used[num] = struct{}{}
		out = append(out, num)
	}
	return out
}

// stopwords that match almost any citation and carry no signal.
var stopwords = map[string]struct{}{
	"and": {}, "the": {}, "with": {}, "for": {}, "disease": {},
	"syndrome": {}, "chronic": {}, "acute": {}, "left": {}, "right": {},
	"bilateral": {}, "history": {}, "type": {},
}

func significantWords(text string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:()")
		if len(w) < 4 {
			continue
		}
		if _, ok := stopwords[w]; ok {
			continue
		}
		words = append(words, w)
	}
	return words
}
