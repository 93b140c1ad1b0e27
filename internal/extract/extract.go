// Package extract turns raw uploaded bytes into text, escalating to OCR
// when the document has no usable text layer.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrNeedsOCR signals that the document has no meaningful text layer and the
// caller should resubmit with OCR forced. It is not a pipeline failure.
var ErrNeedsOCR = errors.New("document has no readable text layer; optical character recognition required")

// Meaningful-text heuristic thresholds. A text layer below either bound is
// treated as scanner garbage and routed to OCR.
const (
	minMeaningfulChars = 250
	minAlphaFraction   = 0.25
)

// Secondary-pass bounds: if the first OCR pass yields less than
// shortOCRChars, the first retryPages pages are re-run at RetryDPI.
const (
	shortOCRChars = 200
	retryPages    = 3
)

// Config holds extraction settings. Binary names resolve through PATH when
// not absolute.
type Config struct {
	Tesseract string // default "tesseract"
	Pdftoppm  string // default "pdftoppm"

	Lang     string // tesseract language, default "eng"
	DPI      int    // first-pass rasterization, default 220
	RetryDPI int    // secondary-pass rasterization, default 300
	MaxPages int    // OCR page cap, default 12
}

// Result is the outcome of an extraction.
type Result struct {
	Text     string
	Pages    int
	Method   string // "text-layer" | "pdf-ocr" | "image-ocr" | "plain-text"
	Duration time.Duration
}

// Extractor implements the extraction gate. External commands run through a
// Runner so tests can stub tesseract and pdftoppm.
type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

// New creates an extractor with defaults filled in.
func New(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 220
	}
	if cfg.RetryDPI <= 0 {
		cfg.RetryDPI = 300
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 12
	}
	return &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// WithRunner swaps the command runner. Tests use this to stub OCR binaries.
func (e *Extractor) WithRunner(r Runner) *Extractor {
	e.runner = r
	return e
}

// Extract routes by file type and applies the OCR gate.
func (e *Extractor) Extract(ctx context.Context, data []byte, filename string, forceOCR bool) (*Result, error) {
	start := time.Now()
	ext := strings.ToLower(filepath.Ext(filename))

	var res *Result
	var err error
	switch {
	case ext == ".pdf":
		res, err = e.extractPDF(ctx, data, forceOCR)
	case isImageExt(ext):
		res, err = e.extractImage(ctx, data, ext)
	case ext == ".txt":
		res = &Result{Text: string(data), Pages: 1, Method: "plain-text"}
	default:
		return nil, fmt.Errorf("unsupported file type %q", ext)
	}
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	e.logger.Info("extraction finished",
		"method", res.Method, "pages", res.Pages, "chars", len(res.Text),
		"duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// extractPDF tries the native text layer first, then decides OCR via the
// meaningful-text heuristic.
func (e *Extractor) extractPDF(ctx context.Context, data []byte, forceOCR bool) (*Result, error) {
	pages, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("unreadable PDF upload: %w", err)
	}

	if !forceOCR {
		text := textLayer(data)
		if Meaningful(text) {
			return &Result{Text: text, Pages: pages, Method: "text-layer"}, nil
		}
		return nil, ErrNeedsOCR
	}

	text, ocrPages, err := e.ocrPDF(ctx, data, pages)
	if err != nil {
		return nil, err
	}
	return &Result{Text: text, Pages: ocrPages, Method: "pdf-ocr"}, nil
}

// extractImage routes image uploads straight to OCR; there is no text layer
// to attempt.
func (e *Extractor) extractImage(ctx context.Context, data []byte, ext string) (*Result, error) {
	text, err := e.ocrImage(ctx, data, ext)
	if err != nil {
		return nil, err
	}
	return &Result{Text: text, Pages: 1, Method: "image-ocr"}, nil
}

// textLayer pulls the native text layer out of a PDF. Extraction errors
// yield empty text, which the heuristic then routes to OCR.
func textLayer(data []byte) string {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	reader, err := r.GetPlainText()
	if err != nil {
		return ""
	}
	var b strings.Builder
	if _, err := io.Copy(&b, reader); err != nil {
		return ""
	}
	return strings.TrimSpace(b.String())
}

// Meaningful reports whether extracted text is dense and alphabetic enough
// to skip OCR: at least 250 characters with an alphabetic fraction of 0.25.
func Meaningful(text string) bool {
	runes := []rune(text)
	if len(runes) < minMeaningfulChars {
		return false
	}
	alpha := 0
	for _, r := range runes {
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	return float64(alpha)/float64(len(runes)) >= minAlphaFraction
}

func isImageExt(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
		return true
	}
	return false
}
