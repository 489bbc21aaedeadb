// Package extract decides which text a statement document yields: the
// structural text layer when it looks like a ledger, or that text with
// page-by-page recognized text appended when it does not.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement"
)

var (
	// ErrDocumentUnreadable means no text source is available for the document at all
	ErrDocumentUnreadable = errors.New("document unreadable")
	// ErrRasterizationFailed means one page could not be rendered to an image
	ErrRasterizationFailed = errors.New("page rasterization failed")
	// ErrRecognitionFailed means recognition failed for one page or image
	ErrRecognitionFailed = errors.New("text recognition failed")
	// ErrRecognitionUnavailable means the recognition engine or its language data is missing
	ErrRecognitionUnavailable = errors.New("text recognition unavailable")
	// ErrExtractionCanceled wraps ctx.Err() when extraction stopped before finishing
	ErrExtractionCanceled = errors.New("extraction canceled")
)

// Document is an uploaded statement held in memory
type Document struct {
	Name string
	Type statement.DocumentType
	Data []byte
}

// PageImage is a rendered page (or an uploaded image) ready for recognition
type PageImage struct {
	Page   int    // 0-based page index
	Format string // File extension without dot, e.g. "png"
	Data   []byte
}

// PageTextProvider reads the structural text layer, one string per page
type PageTextProvider interface {
	PageTexts(ctx context.Context, doc Document) ([]string, error)
}

// Rasterizer renders a single page at the given resolution
type Rasterizer interface {
	RasterizePage(ctx context.Context, doc Document, page, dpi int) (PageImage, error)
}

// Preprocessor cleans up an image before recognition (grayscale, deskew...)
type Preprocessor interface {
	Prepare(ctx context.Context, img PageImage) (PageImage, error)
}

// Recognizer turns an image into text. languages uses the engine's "eng+spa" syntax.
type Recognizer interface {
	Recognize(ctx context.Context, img PageImage, languages string) (string, error)
}

// Recorder receives extraction outcomes for metrics. Outcomes are the labels
// returned by Outcome.
type Recorder interface {
	ExtractionFinished(docType string, usedFallback bool, outcome string, elapsed time.Duration)
	PageRecognized(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ExtractionFinished(string, bool, string, time.Duration) {}
func (nopRecorder) PageRecognized(string)                                  {}

// Outcome maps an extraction error to a low-cardinality label
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrExtractionCanceled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrDocumentUnreadable):
		return "unreadable"
	case errors.Is(err, ErrRecognitionUnavailable):
		return "recognition_unavailable"
	case errors.Is(err, ErrRasterizationFailed):
		return "rasterization_failed"
	case errors.Is(err, ErrRecognitionFailed):
		return "recognition_failed"
	default:
		return "error"
	}
}

// Result is the aggregated text of one document
type Result struct {
	Text            string
	UsedFallback    bool     // Recognition ran and its output was merged into Text
	Pages           int      // Pages reported by the structural reader
	RecognizedPages int      // Pages whose recognized text was appended
	Warnings        []string // Page-level problems that did not abort the document
}
