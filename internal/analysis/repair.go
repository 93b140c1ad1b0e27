package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clincite/clincite/internal/job"
)

// repair forces the parsed model output into the declared shape: missing
// list fields become empty slices, missing text fields become empty strings,
// and diagnosis/plan entries without a label/title are dropped rather than
// propagated.
func repair(raw json.RawMessage) (*job.Analysis, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("model did not return valid structured output")
	}

	result := &job.Analysis{
		Provider:   asString(doc["provider"]),
		VisitDate:  asString(doc["visit_date"]),
		Summary:    asString(doc["summary"]),
		Diagnoses:  []job.Diagnosis{},
		Plan:       []job.PlanItem{},
		Warnings:   asStringSlice(doc["warnings"]),
		References: []job.Reference{},
	}

	if patient, ok := doc["patient"].(map[string]any); ok {
		result.Patient = job.Patient{
			Name: asString(patient["name"]),
			DOB:  asString(patient["dob"]),
			MRN:  asString(patient["mrn"]),
		}
	}

	for _, item := range asSlice(doc["diagnoses"]) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		label := strings.TrimSpace(asString(m["label"]))
		if label == "" {
			// Entries without a label are malformed; drop them.
			continue
		}
		result.Diagnoses = append(result.Diagnoses, job.Diagnosis{
			Number:  len(result.Diagnoses) + 1,
			Code:    asString(m["code"]),
			Label:   label,
			Bullets: asStringSlice(m["bullets"]),
			Refs:    []int{},
		})
	}

	for _, item := range asSlice(doc["plan"]) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		title := strings.TrimSpace(asString(m["title"]))
		if title == "" {
			continue
		}
		result.Plan = append(result.Plan, job.PlanItem{
			Number:    len(result.Plan) + 1,
			Title:     title,
			Bullets:   asStringSlice(m["bullets"]),
			DxNumbers: asIntSlice(m["dx_numbers"]),
			Refs:      []int{},
		})
	}

	return result, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asStringSlice(v any) []string {
	out := []string{}
	for _, item := range asSlice(v) {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func asIntSlice(v any) []int {
	out := []int{}
	for _, item := range asSlice(v) {
		// JSON numbers decode as float64.
		if f, ok := item.(float64); ok {
			out = append(out, int(f))
		}
	}
	return out
}
