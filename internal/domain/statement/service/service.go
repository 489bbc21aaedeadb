// Package service orchestrates a statement import: store the document, pick
// its best text, parse the ledger lines and persist the records.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/bank"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/extract"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/parser"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/repository"
	"github.com/FACorreiaa/statement-ledger/pkg/storage"
)

const tracerName = "github.com/FACorreiaa/statement-ledger/internal/domain/statement/service"

// DefaultExtractionTimeout bounds text extraction when no timeout is configured
const DefaultExtractionTimeout = 2 * time.Minute

var (
	// ErrInvalidUpload means the request cannot be imported as given
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrNoTransactions means the document was read but no ledger line survived parsing
	ErrNoTransactions = errors.New("no transactions found in statement")
)

// Extractor yields the text of a statement document
type Extractor interface {
	ExtractBestText(ctx context.Context, doc extract.Document) (extract.Result, error)
	ExtractImageText(ctx context.Context, doc extract.Document) (extract.Result, error)
}

// LineParser turns extracted text into records
type LineParser interface {
	Parse(text string) parser.ParseResult
}

// BankDetector names the issuer of a statement from its text
type BankDetector interface {
	Detect(text string) (bank.Bank, bool)
}

// ImportRecorder receives the final state of each import for metrics
type ImportRecorder interface {
	ImportFinished(status string, transactions, rejected int)
}

// ImportRequest is one uploaded statement
type ImportRequest struct {
	DocumentType  statement.DocumentType
	BankName      string
	AccountNumber string
	FileName      string
	ContentType   string
	Data          []byte
}

// ImportResult contains the outcome of an import operation
type ImportResult struct {
	Import       *repository.Import
	Transactions []statement.TransactionRecord
	Rejected     []parser.LineRejection
	Warnings     []string
}

// StatementService orchestrates statement imports
type StatementService struct {
	repo              repository.Repository
	extractor         Extractor
	parser            LineParser
	store             storage.Storage // Optional: nil keeps no copy of the document
	recorder          ImportRecorder  // Optional: nil records nothing
	banks             BankDetector    // Optional: nil leaves an empty bank name empty
	tracer            trace.Tracer
	extractionTimeout time.Duration
	logger            *slog.Logger
}

// NewStatementService creates a new statement service
func NewStatementService(repo repository.Repository, extractor Extractor, p LineParser, logger *slog.Logger) *StatementService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatementService{
		repo:              repo,
		extractor:         extractor,
		parser:            p,
		tracer:            otel.Tracer(tracerName),
		extractionTimeout: DefaultExtractionTimeout,
		logger:            logger,
	}
}

// WithStorage keeps a copy of every imported document
func (s *StatementService) WithStorage(store storage.Storage) *StatementService {
	s.store = store
	return s
}

// WithRecorder reports import outcomes
func (s *StatementService) WithRecorder(recorder ImportRecorder) *StatementService {
	s.recorder = recorder
	return s
}

// WithBankDetector fills in the bank name of uploads that arrive without one
func (s *StatementService) WithBankDetector(banks BankDetector) *StatementService {
	s.banks = banks
	return s
}

// WithExtractionTimeout bounds the extraction step of each import
func (s *StatementService) WithExtractionTimeout(timeout time.Duration) *StatementService {
	if timeout > 0 {
		s.extractionTimeout = timeout
	}
	return s
}

// WithTracer overrides the global otel tracer
func (s *StatementService) WithTracer(tracer trace.Tracer) *StatementService {
	if tracer != nil {
		s.tracer = tracer
	}
	return s
}

// Import runs a document through the pipeline. A document that yields no
// records is stored as no_transactions and reported with ErrNoTransactions;
// the returned result is still populated in that case.
func (s *StatementService) Import(ctx context.Context, req ImportRequest) (_ *ImportResult, err error) {
	ctx, span := s.tracer.Start(ctx, "service.Import",
		trace.WithAttributes(
			attribute.String("document.type", string(req.DocumentType)),
			attribute.String("document.name", req.FileName),
			attribute.Int("document.bytes", len(req.Data)),
		),
	)
	defer func() {
		if err != nil && !errors.Is(err, ErrNoTransactions) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if docType, ok := statement.ParseDocumentType(string(req.DocumentType)); ok {
		req.DocumentType = docType
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	imp := &repository.Import{
		ID:            uuid.New(),
		DocumentType:  req.DocumentType,
		BankName:      strings.TrimSpace(req.BankName),
		AccountNumber: strings.TrimSpace(req.AccountNumber),
		FileName:      req.FileName,
	}
	span.SetAttributes(attribute.String("import.id", imp.ID.String()))

	var stored *storage.FileInfo
	if s.store != nil {
		stored, err = s.store.Save(ctx, req.FileName, req.ContentType, bytes.NewReader(req.Data))
		if err != nil {
			return nil, fmt.Errorf("failed to store document: %w", err)
		}
		imp.FileID = stored.ID.String()
	}

	if err := s.repo.CreateImport(ctx, imp); err != nil {
		if stored != nil {
			if delErr := s.store.Delete(context.WithoutCancel(ctx), stored.ID); delErr != nil {
				s.logger.Warn("failed to remove stored document", "file_id", stored.ID, "error", delErr)
			}
		}
		return nil, fmt.Errorf("failed to create import: %w", err)
	}

	s.logger.Info("statement import started",
		"import_id", imp.ID,
		"document_type", req.DocumentType,
		"file", req.FileName,
		"bytes", len(req.Data),
	)

	extracted, err := s.extract(ctx, req)
	imp.UsedFallback = extracted.UsedFallback
	imp.Pages = extracted.Pages
	if err != nil {
		s.fail(ctx, imp, err)
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}
	span.AddEvent("text extracted", trace.WithAttributes(
		attribute.Bool("extract.used_fallback", extracted.UsedFallback),
		attribute.Int("extract.pages", extracted.Pages),
	))

	if imp.BankName == "" && s.banks != nil {
		if b, ok := s.banks.Detect(extracted.Text); ok {
			imp.BankName = b.Name
			span.SetAttributes(attribute.String("statement.bank", b.Code))
			s.logger.Debug("bank detected", "import_id", imp.ID, "bank", b.Code)
		}
	}

	parsed := s.parser.Parse(extracted.Text)
	imp.TransactionsFound = len(parsed.Records)
	imp.LinesRejected = len(parsed.Rejected)

	result := &ImportResult{
		Import:       imp,
		Transactions: parsed.Records,
		Rejected:     parsed.Rejected,
		Warnings:     extracted.Warnings,
	}

	if len(parsed.Records) == 0 {
		imp.Status = repository.ImportStatusNoTransactions
		if err := s.finish(ctx, imp); err != nil {
			return nil, err
		}
		s.logger.Warn("statement import found no transactions",
			"import_id", imp.ID,
			"used_fallback", imp.UsedFallback,
			"lines_rejected", imp.LinesRejected,
		)
		return result, ErrNoTransactions
	}

	if err := s.repo.InsertTransactions(ctx, imp.ID, parsed.Records); err != nil {
		s.fail(ctx, imp, err)
		return nil, fmt.Errorf("failed to save transactions: %w", err)
	}

	imp.Status = repository.ImportStatusSucceeded
	if err := s.finish(ctx, imp); err != nil {
		return nil, err
	}

	s.logger.Info("statement import finished",
		"import_id", imp.ID,
		"transactions", imp.TransactionsFound,
		"lines_rejected", imp.LinesRejected,
		"used_fallback", imp.UsedFallback,
		"warnings", len(extracted.Warnings),
	)

	return result, nil
}

// extract runs the gate for the document type under the extraction timeout
func (s *StatementService) extract(ctx context.Context, req ImportRequest) (extract.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.extractionTimeout)
	defer cancel()

	doc := extract.Document{Name: req.FileName, Type: req.DocumentType, Data: req.Data}
	if req.DocumentType == statement.DocumentTypeImage {
		return s.extractor.ExtractImageText(ctx, doc)
	}
	return s.extractor.ExtractBestText(ctx, doc)
}

// fail marks the import failed. It runs even when ctx is already done.
func (s *StatementService) fail(ctx context.Context, imp *repository.Import, cause error) {
	imp.Status = repository.ImportStatusFailed
	imp.ErrorMessage = cause.Error()

	s.logger.Error("statement import failed",
		"import_id", imp.ID,
		"file", imp.FileName,
		"error", cause,
	)

	if err := s.finish(context.WithoutCancel(ctx), imp); err != nil {
		s.logger.Error("failed to record import failure", "import_id", imp.ID, "error", err)
	}
}

func (s *StatementService) finish(ctx context.Context, imp *repository.Import) error {
	if s.recorder != nil {
		stored := 0
		if imp.Status == repository.ImportStatusSucceeded {
			stored = imp.TransactionsFound
		}
		s.recorder.ImportFinished(string(imp.Status), stored, imp.LinesRejected)
	}
	if err := s.repo.FinishImport(ctx, imp); err != nil {
		return fmt.Errorf("failed to finish import: %w", err)
	}
	return nil
}

// GetImport returns one import by ID
func (s *StatementService) GetImport(ctx context.Context, id uuid.UUID) (*repository.Import, error) {
	return s.repo.GetImport(ctx, id)
}

// ListTransactions returns stored transactions ordered by date
func (s *StatementService) ListTransactions(ctx context.Context, filter repository.TransactionFilter) ([]statement.TransactionRecord, error) {
	records, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []statement.TransactionRecord{}
	}
	return records, nil
}

var pdfMagic = []byte("%PDF-")

func validate(req ImportRequest) error {
	if _, ok := statement.ParseDocumentType(string(req.DocumentType)); !ok {
		return fmt.Errorf("%w: document type %q is not pdf or image", ErrInvalidUpload, req.DocumentType)
	}
	if len(req.Data) == 0 {
		return fmt.Errorf("%w: empty document", ErrInvalidUpload)
	}
	if strings.TrimSpace(req.FileName) == "" {
		return fmt.Errorf("%w: file name is required", ErrInvalidUpload)
	}
	if req.DocumentType == statement.DocumentTypePDF && !bytes.HasPrefix(bytes.TrimLeft(req.Data, " \t\r\n"), pdfMagic) {
		return fmt.Errorf("%w: %s is not a PDF document", ErrInvalidUpload, req.FileName)
	}
	return nil
}
