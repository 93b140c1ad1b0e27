package job

import "fmt"

// Analysis is the structured clinical extraction produced by the pipeline.
type Analysis struct {
	Provider   string      `json:"provider"`
	Patient    Patient     `json:"patient"`
	VisitDate  string      `json:"visit_date,omitempty"`
	Summary    string      `json:"summary,omitempty"`
	Diagnoses  []Diagnosis `json:"diagnoses"`
	Plan       []PlanItem  `json:"plan"`
	Warnings   []string    `json:"warnings"`
	References []Reference `json:"references"`
}

// Patient is the patient block extracted from the note.
type Patient struct {
	Name string `json:"name,omitempty"`
	DOB  string `json:"dob,omitempty"`
	MRN  string `json:"mrn,omitempty"`
}

// Diagnosis is one extracted diagnosis. Refs is filled in by the citation
// assignment stage; every entry must name an existing reference number.
type Diagnosis struct {
	Number  int      `json:"number"`
	Code    string   `json:"code,omitempty"`
	Label   string   `json:"label"`
	Bullets []string `json:"bullets"`
	Refs    []int    `json:"refs"`
}

// PlanItem is one extracted plan entry, aligned to diagnoses by number.
type PlanItem struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Bullets   []string `json:"bullets"`
	DxNumbers []int    `json:"dx_numbers"`
	Refs      []int    `json:"refs"`
}

// Reference is a bibliographic citation, numbered 1..N within a job.
// Immutable once the reference list is built.
type Reference struct {
	Number   int    `json:"number"`
	PMID     string `json:"pmid,omitempty"`
	Citation string `json:"citation"`
	URL      string `json:"url,omitempty"`
	Source   string `json:"source"`
}

// Reference sources.
const (
	RefSourcePubMed  = "pubmed"
	RefSourceCurated = "curated"
)

// Validate enforces the reference invariants: numbers contiguous from 1 with
// no duplicates, and every diagnosis/plan ref pointing at an existing entry.
func (a *Analysis) Validate() error {
	for i, ref := range a.References {
		if ref.Number != i+1 {
			return fmt.Errorf("reference %d numbered %d, want %d", i, ref.Number, i+1)
		}
	}
	n := len(a.References)
	for _, d := range a.Diagnoses {
		for _, ref := range d.Refs {
			if ref < 1 || ref > n {
				return fmt.Errorf("diagnosis %q cites reference %d outside 1..%d", d.Label, ref, n)
			}
		}
	}
	for _, p := range a.Plan {
		for _, ref := range p.Refs {
			if ref < 1 || ref > n {
				return fmt.Errorf("plan item %q cites reference %d outside 1..%d", p.Title, ref, n)
			}
		}
	}
	return nil
}

// DiagnosisLabels returns the non-empty diagnosis labels in order. Used to
// drive reference retrieval.
func (a *Analysis) DiagnosisLabels() []string {
	labels := make([]string, 0, len(a.Diagnoses))
	for _, d := range a.Diagnoses {
		if d.Label != "" {
			labels = append(labels, d.Label)
		}
	}
	return labels
}
