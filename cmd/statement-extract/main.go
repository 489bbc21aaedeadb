// Command statement-extract runs the extraction gate and the line parser over
// a local statement file and prints the transactions found.
//
// Usage:
//
//	statement-extract [flags] statement.pdf
//	statement-extract -text scan.png
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/bank"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/export"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/extract"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/pipeline"
	"github.com/FACorreiaa/statement-ledger/pkg/config"
)

type options struct {
	docType    string
	textOnly   bool
	format     string
	outPath    string
	marker     string
	numbers    string
	languages  string
	dpi        int
	timeout    time.Duration
	preprocess bool
	verbose    bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "statement-extract:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	opts := options{}
	fs := flag.NewFlagSet("statement-extract", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.docType, "type", "", "document type: pdf or image (default: from the file extension)")
	fs.BoolVar(&opts.textOnly, "text", false, "print the aggregated text instead of transactions")
	fs.StringVar(&opts.format, "format", "csv", "output format: csv or xlsx")
	fs.StringVar(&opts.outPath, "o", "", "write output to this file instead of stdout")
	fs.StringVar(&opts.marker, "marker", cfg.Statement.CurrencyMarker, "currency marker printed before amounts")
	fs.StringVar(&opts.numbers, "numbers", cfg.Statement.NumberFormat, "number format: dominican, us or auto")
	fs.StringVar(&opts.languages, "lang", cfg.OCR.Languages, "recognition languages")
	fs.IntVar(&opts.dpi, "dpi", cfg.OCR.DPI, "rasterization resolution")
	fs.DurationVar(&opts.timeout, "timeout", cfg.OCR.Timeout, "extraction timeout")
	fs.BoolVar(&opts.preprocess, "preprocess", cfg.OCR.Preprocess, "clean up rendered pages before recognition")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one input file is required")
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	path := fs.Arg(0)
	docType, err := resolveType(opts.docType, path)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	if format == export.FormatXLSX && opts.outPath == "" && !opts.textOnly {
		return errors.New("xlsx output needs -o")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg.OCR.Languages = opts.languages
	cfg.OCR.DPI = opts.dpi
	cfg.OCR.Preprocess = opts.preprocess
	cfg.Statement.CurrencyMarker = opts.marker
	cfg.Statement.NumberFormat = opts.numbers

	gate := pipeline.NewGate(cfg.OCR, nil, logger)
	p, err := pipeline.NewParser(cfg.Statement, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	doc := extract.Document{Name: filepath.Base(path), Type: docType, Data: data}
	var res extract.Result
	if docType == statement.DocumentTypeImage {
		res, err = gate.ExtractImageText(ctx, doc)
	} else {
		res, err = gate.ExtractBestText(ctx, doc)
	}
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		logger.Warn("extraction warning", slog.String("detail", w))
	}

	out := stdout
	if opts.outPath != "" {
		f, err := os.Create(opts.outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if opts.textOnly {
		_, err := io.WriteString(out, res.Text)
		return err
	}

	issuer := "unknown"
	if b, ok := bank.NewDetector(bank.DominicanBanks()).Detect(res.Text); ok {
		issuer = b.Name
	}

	parsed := p.Parse(res.Text)
	for _, rej := range parsed.Rejected {
		logger.Warn("line rejected", slog.String("detail", rej.String()))
	}
	logger.Info("statement parsed",
		slog.String("bank", issuer),
		slog.Bool("used_fallback", res.UsedFallback),
		slog.Int("pages", res.Pages),
		slog.Int("transactions", len(parsed.Records)),
	)

	return export.Write(out, format, parsed.Records, cfg.Statement.CurrencyCode)
}

func resolveType(flagValue, path string) (statement.DocumentType, error) {
	if flagValue != "" {
		docType, ok := statement.ParseDocumentType(flagValue)
		if !ok {
			return "", fmt.Errorf("unknown document type %q", flagValue)
		}
		return docType, nil
	}
	docType, ok := statement.DocumentTypeForFile(path)
	if !ok {
		return "", fmt.Errorf("cannot tell the document type of %s, use -type", path)
	}
	return docType, nil
}
