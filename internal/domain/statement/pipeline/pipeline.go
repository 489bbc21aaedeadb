// Package pipeline builds the extraction gate and the line parser from
// application configuration, for the API server and the CLI alike.
package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/extract"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/ocr"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/parser"
	"github.com/FACorreiaa/statement-ledger/pkg/config"
)

// GateConfig maps the OCR settings onto the gate thresholds
func GateConfig(cfg config.OCRConfig) extract.GateConfig {
	return extract.GateConfig{
		MinTextLength: cfg.MinTextLength,
		MinDateLines:  cfg.MinDateLines,
		DPI:           cfg.DPI,
		Languages:     cfg.Languages,
		Concurrency:   cfg.Concurrency,
		Preprocess:    cfg.Preprocess,
	}
}

// ToolsConfig maps the OCR settings onto the external tool locations
func ToolsConfig(cfg config.OCRConfig) ocr.Config {
	return ocr.Config{
		Pdftoppm:    cfg.PdftoppmBin,
		Magick:      cfg.MagickBin,
		Tesseract:   cfg.TesseractBin,
		TessdataDir: cfg.TessdataDir,
	}
}

// NewGate wires the structural reader and the recognition tools into a gate.
// runner may be nil to execute the real binaries.
func NewGate(cfg config.OCRConfig, runner ocr.Runner, logger *slog.Logger, opts ...extract.Option) *extract.Gate {
	providers := ocr.NewProviders(ToolsConfig(cfg), runner, logger)
	return extract.NewGate(GateConfig(cfg), providers, logger, opts...)
}

// ParserConfig maps the statement settings onto the parser. "auto" detects
// the number format per document, falling back to the dominican convention.
func ParserConfig(cfg config.StatementConfig) (parser.Config, error) {
	pc := parser.Config{
		CurrencyMarker: cfg.CurrencyMarker,
		Location:       time.UTC,
	}

	if cfg.NumberFormat == "auto" {
		pc.NumberFormat = parser.DominicanFormat
		pc.DetectFormat = true
		return pc, nil
	}

	format, ok := parser.NumberFormatByName(cfg.NumberFormat)
	if !ok {
		return parser.Config{}, fmt.Errorf("unknown number format %q", cfg.NumberFormat)
	}
	pc.NumberFormat = format
	return pc, nil
}

// NewParser builds the line parser for the statement settings
func NewParser(cfg config.StatementConfig, logger *slog.Logger) (*parser.Parser, error) {
	pc, err := ParserConfig(cfg)
	if err != nil {
		return nil, err
	}
	return parser.New(pc, logger)
}
