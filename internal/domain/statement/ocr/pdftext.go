package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ledongthuc/pdf"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/extract"
)

var errEmptyDocument = errors.New("empty document")

// PDFTextReader reads the embedded text layer of each page
type PDFTextReader struct {
	logger *slog.Logger
}

func NewPDFTextReader(logger *slog.Logger) *PDFTextReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFTextReader{logger: logger}
}

// PageTexts returns one entry per page. A page whose text layer cannot be
// decoded yields "" so the recognition fallback can still cover it.
func (r *PDFTextReader) PageTexts(ctx context.Context, doc extract.Document) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(doc.Data) == 0 {
		return nil, errEmptyDocument
	}

	reader, err := openPDF(doc.Data)
	if err != nil {
		return nil, err
	}

	total := reader.NumPage()
	texts := make([]string, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			r.logger.Warn("page text layer unreadable",
				"document", doc.Name,
				"page", i,
				"error", err,
			)
			continue
		}
		texts[i-1] = text
	}

	r.logger.Debug("structural text read", "document", doc.Name, "pages", total)
	return texts, nil
}

// openPDF parses the cross-reference table; the library panics on some malformed input
func openPDF(data []byte) (reader *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reader = nil
			err = fmt.Errorf("parse pdf: %v", rec)
		}
	}()

	reader, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}
	return reader, nil
}
