package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
	LookPath(name string) (string, error)
}

type execRunner struct {
	logger interface {
		Debug(msg string, args ...any)
		Error(msg string, args ...any)
	}
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		r.logger.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10))
	} else {
		r.logger.Debug("exec ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len())
	}

	return out.Bytes(), errb.Bytes(), err
}

func (execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// ocrPDF rasterizes up to MaxPages pages and runs tesseract per page. If the
// combined output is still short, the first few pages are retried at the
// higher resolution and the improved pages spliced back in.
func (e *Extractor) ocrPDF(ctx context.Context, data []byte, pageCount int) (string, int, error) {
	if err := e.checkBinaries(e.cfg.Pdftoppm, e.cfg.Tesseract); err != nil {
		return "", 0, err
	}

	tmpDir, err := os.MkdirTemp("", "clincite-ocr-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "upload.pdf")
	if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
		return "", 0, fmt.Errorf("failed to stage PDF for OCR: %w", err)
	}

	pages := pageCount
	if pages > e.cfg.MaxPages {
		pages = e.cfg.MaxPages
	}

	pageTexts, err := e.rasterizeAndRead(ctx, pdfPath, tmpDir, "page", 1, pages, e.cfg.DPI)
	if err != nil {
		return "", 0, err
	}

	combined := strings.Join(pageTexts, "\n\f\n")
	if len(strings.TrimSpace(combined)) < shortOCRChars && len(pageTexts) > 0 {
		// Secondary pass: the scan may just be too low-resolution.
		n := retryPages
		if n > len(pageTexts) {
			n = len(pageTexts)
		}
		retried, rerr := e.rasterizeAndRead(ctx, pdfPath, tmpDir, "retry", 1, n, e.cfg.RetryDPI)
		if rerr == nil {
			for i := 0; i < len(retried) && i < len(pageTexts); i++ {
				if len(retried[i]) > len(pageTexts[i]) {
					pageTexts[i] = retried[i]
				}
			}
			combined = strings.Join(pageTexts, "\n\f\n")
		}
	}

	if strings.TrimSpace(combined) == "" {
		return "", 0, fmt.Errorf("optical character recognition produced no usable text")
	}
	return combined, len(pageTexts), nil
}

// rasterizeAndRead renders a page range to PNGs and OCRs each one, returning
// per-page text in page order.
func (e *Extractor) rasterizeAndRead(ctx context.Context, pdfPath, tmpDir, prefix string, first, last, dpi int) ([]string, error) {
	outPrefix := filepath.Join(tmpDir, prefix)
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm,
		"-r", fmt.Sprintf("%d", dpi),
		"-f", fmt.Sprintf("%d", first),
		"-l", fmt.Sprintf("%d", last),
		"-png", pdfPath, outPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize PDF: %s: %w", truncate(string(errb), 512), err)
	}

	matches, _ := filepath.Glob(outPrefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("rasterization produced no page images")
	}

	texts := make([]string, 0, len(matches))
	for _, img := range matches {
		text, err := e.tesseract(ctx, img)
		if err != nil {
			// A single bad page should not sink the document.
			texts = append(texts, "")
			continue
		}
		texts = append(texts, strings.TrimSpace(text))
	}
	return texts, nil
}

// ocrImage runs tesseract directly on an image upload.
func (e *Extractor) ocrImage(ctx context.Context, data []byte, ext string) (string, error) {
	if err := e.checkBinaries(e.cfg.Tesseract); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "clincite-img-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to stage image for OCR: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to stage image for OCR: %w", err)
	}
	tmp.Close()

	text, err := e.tesseract(ctx, tmp.Name())
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("optical character recognition produced no usable text")
	}
	return strings.TrimSpace(text), nil
}

// tesseract runs `tesseract <file> stdout -l <lang>`.
func (e *Extractor) tesseract(ctx context.Context, path string) (string, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, path, "stdout", "-l", e.cfg.Lang)
	if err != nil {
		return "", fmt.Errorf("tesseract failed: %s: %w", truncate(string(errb), 512), err)
	}
	return string(out), nil
}

// checkBinaries verifies the OCR toolchain is installed before any work
// starts, so a missing engine fails with an explicit message.
func (e *Extractor) checkBinaries(names ...string) error {
	for _, name := range names {
		if _, err := e.runner.LookPath(name); err != nil {
			return fmt.Errorf("OCR engine unavailable: %q not found in PATH", name)
		}
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
