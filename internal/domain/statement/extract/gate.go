package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/parser"
)

const tracerName = "github.com/FACorreiaa/statement-ledger/internal/domain/statement/extract"

// GateConfig holds the quality heuristic and recognition settings
type GateConfig struct {
	MinTextLength int    // Below this many characters the structural text is not trusted; <= 0 uses 100
	MinDateLines  int    // Below this many date-prefixed lines the structural text is not trusted; <= 0 uses 2
	DPI           int    // Rasterization resolution for recognition
	Languages     string // Recognition language hints, "eng+spa"
	Concurrency   int    // Pages recognized in parallel; <= 0 uses GOMAXPROCS
	Preprocess    bool   // Run the Preprocessor on rendered pages
}

// DefaultGateConfig returns the thresholds used for Dominican bank statements
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinTextLength: 100,
		MinDateLines:  2,
		DPI:           300,
		Languages:     "eng+spa",
		Concurrency:   runtime.GOMAXPROCS(0),
		Preprocess:    false,
	}
}

// Providers bundles the capabilities the gate depends on.
// Preprocessor may be nil.
type Providers struct {
	Text         PageTextProvider
	Rasterizer   Rasterizer
	Preprocessor Preprocessor
	Recognizer   Recognizer
}

// Option configures optional Gate collaborators
type Option func(*Gate)

// WithRecorder reports outcomes to r
func WithRecorder(r Recorder) Option {
	return func(g *Gate) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithTracer overrides the global otel tracer
func WithTracer(t trace.Tracer) Option {
	return func(g *Gate) {
		if t != nil {
			g.tracer = t
		}
	}
}

// Gate picks the best available text for a document.
// It keeps no per-document state and may be shared between requests.
type Gate struct {
	cfg       GateConfig
	providers Providers
	logger    *slog.Logger
	recorder  Recorder
	tracer    trace.Tracer
}

// NewGate creates a gate over the given providers
func NewGate(cfg GateConfig, providers Providers, logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGateConfig()
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = defaults.MinTextLength
	}
	if cfg.MinDateLines <= 0 {
		cfg.MinDateLines = defaults.MinDateLines
	}
	if cfg.DPI <= 0 {
		cfg.DPI = defaults.DPI
	}
	if cfg.Languages == "" {
		cfg.Languages = defaults.Languages
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}

	g := &Gate{
		cfg:       cfg,
		providers: providers,
		logger:    logger,
		recorder:  nopRecorder{},
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ExtractBestText returns the structural text of a PDF, with recognized page
// text appended when the structural layer looks too thin to hold a ledger.
//
// Page-level failures are recorded as warnings. On cancellation the text
// gathered so far is returned together with an error wrapping
// ErrExtractionCanceled; it must not be treated as complete.
func (g *Gate) ExtractBestText(ctx context.Context, doc Document) (res Result, err error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "extract.ExtractBestText",
		trace.WithAttributes(
			attribute.String("document.name", doc.Name),
			attribute.Int("document.bytes", len(doc.Data)),
		),
	)
	defer func() {
		span.SetAttributes(
			attribute.Bool("extract.used_fallback", res.UsedFallback),
			attribute.Int("extract.pages", res.Pages),
			attribute.Int("extract.recognized_pages", res.RecognizedPages),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		g.recorder.ExtractionFinished(string(statement.DocumentTypePDF), res.UsedFallback, Outcome(err), time.Since(start))
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, canceled(ctxErr)
	}

	pages, err := g.providers.Text.PageTexts(ctx, doc)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, canceled(ctxErr)
		}
		g.logger.Error("structural text unavailable", "document", doc.Name, "error", err)
		return Result{}, fmt.Errorf("%w: %w", ErrDocumentUnreadable, err)
	}

	var text strings.Builder
	for _, page := range pages {
		appendPage(&text, page)
	}

	res = Result{Text: text.String(), Pages: len(pages)}
	chars := utf8.RuneCountInString(res.Text)
	dateLines := parser.CountDateLines(res.Text)

	if chars >= g.cfg.MinTextLength && dateLines >= g.cfg.MinDateLines {
		g.logger.Debug("structural text accepted",
			"document", doc.Name,
			"pages", len(pages),
			"chars", chars,
			"date_lines", dateLines,
		)
		return res, nil
	}

	g.logger.Info("structural text below threshold, recognizing pages",
		"document", doc.Name,
		"pages", len(pages),
		"chars", chars,
		"date_lines", dateLines,
		"min_chars", g.cfg.MinTextLength,
		"min_date_lines", g.cfg.MinDateLines,
	)

	recognized, warnings, err := g.recognizePages(ctx, doc, len(pages))
	res.Warnings = append(res.Warnings, warnings...)

	switch {
	case errors.Is(err, ErrRecognitionUnavailable):
		g.logger.Warn("recognition unavailable, keeping structural text",
			"document", doc.Name,
			"error", err,
		)
		res.Warnings = append(res.Warnings, err.Error())
		return res, nil
	case err != nil && ctx.Err() == nil:
		// errgroup only surfaces unavailability or cancellation
		return res, err
	}

	res.UsedFallback = true
	for _, pageText := range recognized {
		if pageText == "" {
			continue
		}
		appendPage(&text, pageText)
		res.RecognizedPages++
	}
	res.Text = text.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		g.logger.Warn("extraction canceled, returning partial text",
			"document", doc.Name,
			"recognized_pages", res.RecognizedPages,
			"pages", len(pages),
		)
		return res, canceled(ctxErr)
	}

	return res, nil
}

// recognizePages rasterizes and recognizes every page, keeping page order.
// A failed page yields "" and a warning.
func (g *Gate) recognizePages(ctx context.Context, doc Document, pages int) ([]string, []string, error) {
	texts := make([]string, pages)
	pageErrs := make([]error, pages)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)

	for i := 0; i < pages; i++ {
		eg.Go(func() error {
			text, err := g.recognizePage(egCtx, doc, i)
			switch {
			case err == nil:
				texts[i] = text
			case errors.Is(err, ErrRecognitionUnavailable):
				return err
			case egCtx.Err() != nil:
				return egCtx.Err()
			default:
				pageErrs[i] = err
			}
			return nil
		})
	}

	err := eg.Wait()
	if errors.Is(err, ErrRecognitionUnavailable) {
		return nil, nil, err
	}
	if ctx.Err() != nil {
		return texts, nil, ctx.Err()
	}

	var warnings []string
	for i, pageErr := range pageErrs {
		if pageErr == nil {
			continue
		}
		g.logger.Warn("page recognition failed",
			"document", doc.Name,
			"page", i+1,
			"error", pageErr,
		)
		warnings = append(warnings, fmt.Sprintf("page %d: %v", i+1, pageErr))
	}

	return texts, warnings, nil
}

func (g *Gate) recognizePage(ctx context.Context, doc Document, page int) (text string, err error) {
	ctx, span := g.tracer.Start(ctx, "extract.recognizePage",
		trace.WithAttributes(attribute.Int("page", page+1)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if ctx.Err() == nil {
			g.recorder.PageRecognized(Outcome(err))
		}
	}()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, err := g.providers.Rasterizer.RasterizePage(ctx, doc, page, g.cfg.DPI)
	if err != nil {
		return "", classify(err, ErrRasterizationFailed)
	}

	img = g.prepare(ctx, img, doc.Name)

	text, err = g.providers.Recognizer.Recognize(ctx, img, g.cfg.Languages)
	if err != nil {
		return "", classify(err, ErrRecognitionFailed)
	}
	return text, nil
}

// ExtractImageText recognizes an uploaded image directly. There is no
// structural layer to fall back on, so a recognition failure fails the document.
func (g *Gate) ExtractImageText(ctx context.Context, doc Document) (res Result, err error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "extract.ExtractImageText",
		trace.WithAttributes(
			attribute.String("document.name", doc.Name),
			attribute.Int("document.bytes", len(doc.Data)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		g.recorder.ExtractionFinished(string(statement.DocumentTypeImage), res.UsedFallback, Outcome(err), time.Since(start))
	}()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, canceled(ctxErr)
	}
	if len(doc.Data) == 0 {
		return Result{}, fmt.Errorf("%w: empty image", ErrDocumentUnreadable)
	}

	img := PageImage{
		Page:   0,
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(doc.Name)), "."),
		Data:   doc.Data,
	}
	img = g.prepareImage(ctx, img, doc.Name)

	text, err := g.providers.Recognizer.Recognize(ctx, img, g.cfg.Languages)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, canceled(ctxErr)
		}
		g.logger.Error("image recognition failed", "document", doc.Name, "error", err)
		return Result{}, classify(err, ErrRecognitionFailed)
	}

	res = Result{Text: text, UsedFallback: true, Pages: 1}
	if text != "" {
		res.RecognizedPages = 1
	}
	return res, nil
}

// prepare runs the preprocessor on rendered pages when enabled
func (g *Gate) prepare(ctx context.Context, img PageImage, name string) PageImage {
	if !g.cfg.Preprocess {
		return img
	}
	return g.prepareImage(ctx, img, name)
}

// prepareImage always preprocesses when a Preprocessor is configured; a
// failure is logged and the original image is recognized instead.
func (g *Gate) prepareImage(ctx context.Context, img PageImage, name string) PageImage {
	if g.providers.Preprocessor == nil {
		return img
	}
	prepared, err := g.providers.Preprocessor.Prepare(ctx, img)
	if err != nil {
		g.logger.Warn("image preprocessing failed, using original",
			"document", name,
			"page", img.Page+1,
			"error", err,
		)
		return img
	}
	return prepared
}

// appendPage adds a page to b, keeping line starts intact across page boundaries
func appendPage(b *strings.Builder, page string) {
	if page == "" {
		return
	}
	if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(page)
}

func classify(err, sentinel error) error {
	if errors.Is(err, ErrRecognitionUnavailable) || errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func canceled(ctxErr error) error {
	return fmt.Errorf("%w: %w", ErrExtractionCanceled, ctxErr)
}
