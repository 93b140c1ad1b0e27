package references

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/clincite/clincite/internal/job"
)

//go:embed pool.yaml
var poolYAML []byte

// poolEntry is one curated citation and the keywords that select it.
type poolEntry struct {
	Keywords []string `yaml:"keywords"`
	PMID     string   `yaml:"pmid"`
	Citation string   `yaml:"citation"`
	URL      string   `yaml:"url"`
}

// Pool is the static curated set of authoritative citations.
type Pool struct {
	entries []poolEntry
}

// LoadPool parses the embedded curated pool.
func LoadPool() (*Pool, error) {
	var entries []poolEntry
	if err := yaml.Unmarshal(poolYAML, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse curated reference pool: %w", err)
	}
	return &Pool{entries: entries}, nil
}

// Select returns the curated citations whose keywords match the diagnosis
// text, in pool order.
func (p *Pool) Select(diagnosisText string) []job.Reference {
	text := strings.ToLower(diagnosisText)

	var refs []job.Reference
	for _, entry := range p.entries {
		for _, kw := range entry.Keywords {
			if strings.Contains(text, kw) {
				url := entry.URL
				if url == "" && entry.PMID != "" {
					url = PubMedURL(entry.PMID)
				}
				refs = append(refs, job.Reference{
					PMID:     entry.PMID,
					Citation: entry.Citation,
					URL:      url,
					Source:   job.RefSourceCurated,
				})
				break
			}
		}
	}
	return refs
}

// Len returns the number of pool entries. Used by tests.
func (p *Pool) Len() int { return len(p.entries) }
