package references

import (
	"strings"

	"github.com/clincite/clincite/internal/job"
)

// DefaultMaxReferences caps the merged list.
const DefaultMaxReferences = 18

// Merge combines live search results and curated pool entries into one
// ordered, deduplicated, renumbered list. Live results come first; the dedup
// key is the PMID when present, else the whitespace-collapsed case-folded
// citation text.
func Merge(live, curated []job.Reference, max int) []job.Reference {
	if max <= 0 {
		max = DefaultMaxReferences
	}

	merged := make([]job.Reference, 0, len(live)+len(curated))
	seen := make(map[string]struct{})

	for _, ref := range append(append([]job.Reference{}, live...), curated...) {
		key := dedupKey(ref)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, ref)
	}

	if len(merged) > max {
		merged = merged[:max]
	}

	for i := range merged {
		merged[i].Number = i + 1
		if merged[i].URL == "" && merged[i].PMID != "" {
			merged[i].URL = PubMedURL(merged[i].PMID)
		}
	}
	return merged
}

func dedupKey(ref job.Reference) string {
	if ref.PMID != "" {
		return "pmid:" + ref.PMID
	}
	collapsed := strings.Join(strings.Fields(strings.ToLower(ref.Citation)), " ")
	if collapsed == "" {
		return ""
	}
	return "cite:" + collapsed
}
