// Package analysis sends extracted text to the completion service and turns
// the response into a validated, repaired clinical extraction.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/clincite/clincite/internal/job"
	"github.com/clincite/clincite/internal/llm"
)

// maxInputChars bounds the note text sent to the model.
const maxInputChars = 16000

const systemPrompt = `You are a clinical documentation analyst. You read a ` +
	`clinician's note and extract its structure. Return ONLY a single JSON ` +
	`object matching the schema you are given - no markdown, no commentary.`

// Analyzer runs the LLM analysis stage.
type Analyzer struct {
	client  llm.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates an analyzer. Timeout defaults to 60s; generation is slow.
func New(client llm.Client, timeout time.Duration, logger *slog.Logger) *Analyzer {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{client: client, timeout: timeout, logger: logger}
}

// Analyze extracts the structured analysis from note text. Failures here are
// fatal to the job: the caller records the error verbatim.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*job.Analysis, error) {
	text = clamp(text, maxInputChars)

	prompt := fmt.Sprintf(`Extract the clinical structure from the note below.

Output schema:
%s

Rules:
- "diagnoses" and "plan" are ordered as they appear in the note.
- "bullets" are short supporting findings, three words to one sentence each.
- "plan" items carry "dx_numbers" pointing at the diagnoses they address.
- "warnings" lists anything ambiguous or missing from the note.

Note:
%s`, outputSchema, text)

	start := time.Now()
	content, err := a.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: 0.2,
		JSONOnly:    true,
		Timeout:     a.timeout,
	})
	if err != nil {
		return nil, err
	}

	raw, err := llm.ParseObject(content)
	if err != nil {
		return nil, err
	}

	result, err := repair(raw)
	if err != nil {
		return nil, err
	}

	// Re-encode the repaired result and check it against the declared
	// schema; repair guarantees shape, this guards against regressions.
	repaired, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode repaired analysis: %w", err)
	}
	if err := validateOutput(repaired); err != nil {
		return nil, err
	}

	a.logger.Info("analysis complete",
		"diagnoses", len(result.Diagnoses),
		"plan_items", len(result.Plan),
		"warnings", len(result.Warnings),
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// clamp cuts text to at most n characters on a rune boundary.
func clamp(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
