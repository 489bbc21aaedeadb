package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/extract"
)

// stderr fragments tesseract prints when language data is missing
var missingDataMarkers = []string{
	"Failed loading language",
	"Error opening data file",
	"Could not initialize tesseract",
}

// TesseractRecognizer runs the tesseract CLI on a single image
type TesseractRecognizer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseractRecognizer(cfg Config, runner Runner, logger *slog.Logger) *TesseractRecognizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TesseractRecognizer{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

func (t *TesseractRecognizer) Recognize(ctx context.Context, img extract.PageImage, languages string) (string, error) {
	wd, err := newWorkdir(t.cfg.TempDir, "statement-ocr-*", t.logger)
	if err != nil {
		return "", fmt.Errorf("%w: %w", extract.ErrRecognitionFailed, err)
	}
	defer wd.cleanup()

	in, err := wd.write("page."+imageExt(img.Format), img.Data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", extract.ErrRecognitionFailed, err)
	}

	// tesseract <file> stdout -l <lang>
	args := []string{in, "stdout", "-l", languages}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}

	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		stderr := strings.TrimSpace(string(errb))
		if errors.Is(err, exec.ErrNotFound) || missingLanguageData(stderr) {
			return "", fmt.Errorf("%w: %s: %w (%s)", extract.ErrRecognitionUnavailable, t.cfg.Tesseract, err, stderr)
		}
		return "", fmt.Errorf("%w: tesseract page %d: %w (%s)", extract.ErrRecognitionFailed, img.Page+1, err, stderr)
	}

	return Normalize(string(out)), nil
}

func missingLanguageData(stderr string) bool {
	for _, marker := range missingDataMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	reBoxNoise   = regexp.MustCompile(`(?m)^\s*[_\-]{3,}\s*$`)
)

// Normalize collapses noisy whitespace in recognized text.
// Line breaks are kept so each ledger row stays on its own line.
func Normalize(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\f", "\n")
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reBoxNoise.ReplaceAllString(s, "")
	s = reTabs.ReplaceAllString(s, " ")
	s = reMultiSpace.ReplaceAllString(s, " ")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
