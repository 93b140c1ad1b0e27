// Package citations attaches reference numbers to diagnosis and plan items,
// preferring the completion service and falling back to a deterministic
// keyword matcher when it fails.
package citations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clincite/clincite/internal/job"
	"github.com/clincite/clincite/internal/llm"
)

// maxRefsPerItem caps how many references one item may cite.
const maxRefsPerItem = 3

const systemPrompt = `You attach bibliographic references to items in a ` +
	`clinical analysis. Return ONLY a single JSON object - no markdown, no ` +
	`commentary.`

// Assigner runs the citation assignment stage. Assignment is best-effort:
// it mutates the refs fields in place and never fails the job.
type Assigner struct {
	client  llm.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an assigner.
func New(client llm.Client, timeout time.Duration, logger *slog.Logger) *Assigner {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assigner{client: client, timeout: timeout, logger: logger}
}

// Assign fills in the refs lists on the analysis. When the completion call
// fails or returns nothing usable, the deterministic fallback takes over.
func (a *Assigner) Assign(ctx context.Context, analysis *job.Analysis) {
	if len(analysis.References) == 0 {
		return
	}

	assigned, err := a.assignViaModel(ctx, analysis)
	if err != nil || !assigned {
		if err != nil {
			a.logger.Warn("citation call failed; using deterministic fallback", "error", err)
		}
		Fallback(analysis)
		return
	}

	// The model may still have left everything empty; the job must not end
	// with an unreferenced analysis while references exist.
	if !anyAssigned(analysis) {
		Fallback(analysis)
	}
}

// assignment mirrors the JSON shape the model is asked for.
type assignment struct {
	Diagnoses []itemRefs `json:"diagnoses"`
	Plan      []itemRefs `json:"plan"`
}

type itemRefs struct {
	Number int   `json:"number"`
	Refs   []int `json:"refs"`
}

func (a *Assigner) assignViaModel(ctx context.Context, analysis *job.Analysis) (bool, error) {
	content, err := a.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(analysis),
		Temperature: 0.1,
		JSONOnly:    true,
		Timeout:     a.timeout,
	})
	if err != nil {
		return false, err
	}

	raw, err := llm.ParseObject(content)
	if err != nil {
		return false, err
	}

	var parsed assignment
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return false, fmt.Errorf("unusable citation assignment: %w", err)
	}

	n := len(analysis.References)
	applied := false
	for _, item := range parsed.Diagnoses {
		idx := item.Number - 1
		if idx < 0 || idx >= len(analysis.Diagnoses) {
			continue
		}
		refs := validRefs(item.Refs, n)
		if len(refs) > 0 {
			analysis.Diagnoses[idx].Refs = refs
			applied = true
		}
	}
	for _, item := range parsed.Plan {
		idx := item.Number - 1
		if idx < 0 || idx >= len(analysis.Plan) {
			continue
		}
		refs := validRefs(item.Refs, n)
		if len(refs) > 0 {
			analysis.Plan[idx].Refs = refs
			applied = true
		}
	}
	return applied, nil
}

// validRefs drops numbers outside 1..n and caps the list. The completion
// service is never trusted on range.
func validRefs(refs []int, n int) []int {
	out := make([]int, 0, maxRefsPerItem)
	seen := make(map[int]struct{})
	for _, ref := range refs {
		if ref < 1 || ref > n {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
		if len(out) == maxRefsPerItem {
			break
		}
	}
	return out
}

func buildPrompt(analysis *job.Analysis) string {
	var b strings.Builder
	b.WriteString("References:\n")
	for _, ref := range analysis.References {
		fmt.Fprintf(&b, "%d. %s\n", ref.Number, ref.Citation)
	}

	b.WriteString("\nDiagnoses:\n")
	for _, d := range analysis.Diagnoses {
		fmt.Fprintf(&b, "%d. %s\n", d.Number, d.Label)
	}
	b.WriteString("\nPlan items:\n")
	for _, p := range analysis.Plan {
		fmt.Fprintf(&b, "%d. %s\n", p.Number, p.Title)
	}

	fmt.Fprintf(&b, `
Assign up to %d reference numbers to each diagnosis and plan item. Only use
numbers from the reference list. Skip items no reference supports.

Return exactly this shape:
{"diagnoses": [{"number": 1, "refs": [1, 2]}], "plan": [{"number": 1, "refs": [3]}]}`,
		maxRefsPerItem)
	return b.String()
}

func anyAssigned(analysis *job.Analysis) bool {
	for _, d := range analysis.Diagnoses {
		if len(d.Refs) > 0 {
			return true
		}
	}
	for _, p := range analysis.Plan {
		if len(p.Refs) > 0 {
			return true
		}
	}
	return false
}
