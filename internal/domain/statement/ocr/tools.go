package ocr

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/extract"
)

type Config struct {
	Pdftoppm    string // binary name or absolute path; if empty -> "pdftoppm"
	Magick      string // binary name or absolute path; if empty -> "magick"
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	TessdataDir string
	TempDir     string // scratch space for page images; if empty -> os.TempDir()
}

func (c Config) withDefaults() Config {
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Magick == "" {
		c.Magick = "magick"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	return c
}

// NewProviders wires the structural reader and the command line tools
// behind the extract capability interfaces.
func NewProviders(cfg Config, runner Runner, logger *slog.Logger) extract.Providers {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return extract.Providers{
		Text:         NewPDFTextReader(logger),
		Rasterizer:   NewPopplerRasterizer(cfg, runner, logger),
		Preprocessor: NewMagickPreprocessor(cfg, runner, logger),
		Recognizer:   NewTesseractRecognizer(cfg, runner, logger),
	}
}

// workdir is a per-call scratch directory removed by cleanup
type workdir struct {
	path   string
	logger *slog.Logger
}

func newWorkdir(base, pattern string, logger *slog.Logger) (*workdir, error) {
	dir, err := os.MkdirTemp(base, pattern)
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &workdir{path: dir, logger: logger}, nil
}

func (w *workdir) write(name string, data []byte) (string, error) {
	path := filepath.Join(w.path, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

func (w *workdir) file(name string) string {
	return filepath.Join(w.path, name)
}

func (w *workdir) cleanup() {
	if err := os.RemoveAll(w.path); err != nil {
		w.logger.Warn("failed to remove temp dir", "path", w.path, "error", err)
	}
}

func imageExt(format string) string {
	if format == "" {
		return "png"
	}
	return format
}
