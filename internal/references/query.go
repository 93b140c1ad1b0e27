package references

import "strings"

// maxQueryLabels caps how many diagnosis labels seed the live search.
const maxQueryLabels = 3

// guideline expansions keyed by condition keywords. When a diagnosis label
// matches, the guideline search terms join the query so authoritative
// society guidance outranks generic hits.
var expansions = []struct {
	keywords []string
	terms    []string
}{
	{
		keywords: []string{"dry eye", "meibomian", "mgd", "keratoconjunctivitis sicca"},
		terms:    []string{"TFOS DEWS II", "dry eye disease management guideline"},
	},
	{
		keywords: []string{"glaucoma", "ocular hypertension"},
		terms:    []string{"primary open-angle glaucoma preferred practice pattern"},
	},
	{
		keywords: []string{"diabet"},
		terms:    []string{"standards of care in diabetes"},
	},
	{
		keywords: []string{"hypertension", "blood pressure"},
		terms:    []string{"ACC AHA hypertension guideline"},
	},
	{
		keywords: []string{"macular degeneration", "amd"},
		terms:    []string{"age-related macular degeneration AREDS2"},
	},
}

// BuildQuery turns diagnosis labels into search terms, applying
// keyword-triggered guideline expansion.
func BuildQuery(labels []string) []string {
	if len(labels) > maxQueryLabels {
		labels = labels[:maxQueryLabels]
	}

	terms := make([]string, 0, len(labels)+2)
	seen := make(map[string]struct{})
	add := func(term string) {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		terms = append(terms, term)
	}

	for _, label := range labels {
		add(label)
	}

	joined := strings.ToLower(strings.Join(labels, " "))
	for _, exp := range expansions {
		for _, kw := range exp.keywords {
			if strings.Contains(joined, kw) {
				for _, term := range exp.terms {
					add(term)
				}
				break
			}
		}
	}

	return terms
}
