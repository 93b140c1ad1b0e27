package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("CLINCITE_TEST_KEY", "sk-secret")
	t.Setenv("CLINCITE_TEST_HOST", "db.internal")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"single var", "${CLINCITE_TEST_KEY}", "sk-secret"},
		{"embedded var", "postgres://user:pw@${CLINCITE_TEST_HOST}:5432/db", "postgres://user:pw@db.internal:5432/db"},
		{"two vars", "${CLINCITE_TEST_KEY}:${CLINCITE_TEST_HOST}", "sk-secret:db.internal"},
		{"no vars", "plain value", "plain value"},
		{"empty", "", ""},
		{"unset var", "${CLINCITE_TEST_UNSET_VAR}", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveEnvVars(tt.input); got != tt.want {
				t.Errorf("ResolveEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port == 0 {
		t.Error("default server port missing")
	}
	if cfg.LLM.Model == "" {
		t.Error("default model missing")
	}
	if !strings.Contains(cfg.LLM.APIKey, "${") {
		t.Errorf("default api_key %q should reference an environment variable", cfg.LLM.APIKey)
	}
	if cfg.OCR.DPI <= 0 || cfg.OCR.RetryDPI <= cfg.OCR.DPI {
		t.Errorf("OCR dpi defaults %d/%d not ordered", cfg.OCR.DPI, cfg.OCR.RetryDPI)
	}
	if cfg.Pipeline.StaleAfterSeconds <= 0 {
		t.Error("stale threshold missing")
	}
	if cfg.PubMed.MaxReferences <= 0 {
		t.Error("reference cap missing")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)
	for _, want := range []string{"server:", "llm:", "ocr:", "pubmed:", "pipeline:", "${OPENAI_API_KEY}"} {
		if !strings.Contains(content, want) {
			t.Errorf("written config missing %q", want)
		}
	}
}

func TestManagerLoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  host: 0.0.0.0
  port: 9000
llm:
  model: gpt-4o-mini
pipeline:
  workers: 2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := cm.Get()

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.Pipeline.Workers != 2 {
		t.Errorf("workers = %d", cfg.Pipeline.Workers)
	}
	// Unset keys fall back to defaults.
	if cfg.OCR.Tesseract != "tesseract" {
		t.Errorf("tesseract default = %q", cfg.OCR.Tesseract)
	}
}
