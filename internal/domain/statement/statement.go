// Package statement holds the types shared by the bank statement pipeline:
// the extracted transaction record and the kinds of documents it accepts.
package statement

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType identifies how an uploaded statement is read
type DocumentType string

const (
	DocumentTypePDF   DocumentType = "pdf"
	DocumentTypeImage DocumentType = "image"
)

// ParseDocumentType accepts "pdf" or "image" (case-insensitive)
func ParseDocumentType(s string) (DocumentType, bool) {
	switch DocumentType(strings.ToLower(strings.TrimSpace(s))) {
	case DocumentTypePDF:
		return DocumentTypePDF, true
	case DocumentTypeImage:
		return DocumentTypeImage, true
	}
	return "", false
}

// DocumentTypeForFile infers the document type from a file extension
func DocumentTypeForFile(name string) (DocumentType, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return DocumentTypePDF, true
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp":
		return DocumentTypeImage, true
	}
	return "", false
}

// TransactionRecord is one ledger entry read from a statement.
// ID is zero until the record has been persisted.
type TransactionRecord struct {
	ID          int64
	Date        time.Time
	Description string
	Amount      decimal.Decimal // Negative = debit, positive = credit
	Balance     decimal.Decimal // Running balance after this entry
	CheckNumber string          // Empty when the line carries no reference
	Line        int             // 1-based line in the extracted text, 0 when loaded from storage
}

// IsDebit reports whether the entry withdrew money
func (r TransactionRecord) IsDebit() bool {
	return r.Amount.IsNegative()
}
