// Package handler exposes the statement pipeline over HTTP.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/export"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/extract"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/repository"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/service"
	"github.com/FACorreiaa/statement-ledger/pkg/money"
)

const dateLayout = "2006-01-02"

// StatementService is the part of the service layer the handler calls
type StatementService interface {
	Import(ctx context.Context, req service.ImportRequest) (*service.ImportResult, error)
	GetImport(ctx context.Context, id uuid.UUID) (*repository.Import, error)
	ListTransactions(ctx context.Context, filter repository.TransactionFilter) ([]statement.TransactionRecord, error)
}

// HealthChecker reports whether a dependency is usable
type HealthChecker func(ctx context.Context) error

// StatementHandler serves uploads, listings and exports
type StatementHandler struct {
	svc            StatementService
	currency       string
	maxUploadBytes int64
	health         HealthChecker
	logger         *slog.Logger
}

// NewStatementHandler creates a new statement handler
func NewStatementHandler(svc StatementService, currency string, maxUploadBytes int64, logger *slog.Logger) *StatementHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatementHandler{
		svc:            svc,
		currency:       currency,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// WithHealthCheck makes /healthz report the checker's result
func (h *StatementHandler) WithHealthCheck(check HealthChecker) *StatementHandler {
	h.health = check
	return h
}

// Routes registers every endpoint on a new ServeMux
func (h *StatementHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/statements", h.uploadStatement)
	mux.HandleFunc("GET /api/statements/{id}", h.getImport)
	mux.HandleFunc("GET /api/transactions", h.listTransactions)
	mux.HandleFunc("GET /api/transactions/export", h.exportTransactions)
	mux.HandleFunc("GET /healthz", h.healthz)
	return mux
}

type importResponse struct {
	ImportID          uuid.UUID             `json:"import_id"`
	Status            string                `json:"status"`
	DocumentType      string                `json:"document_type"`
	BankName          string                `json:"bank_name,omitempty"`
	AccountNumber     string                `json:"account_number,omitempty"`
	FileName          string                `json:"file_name"`
	UsedFallback      bool                  `json:"used_fallback"`
	Pages             int                   `json:"pages"`
	TransactionsFound int                   `json:"transactions_found"`
	LinesRejected     int                   `json:"lines_rejected"`
	ErrorMessage      string                `json:"error_message,omitempty"`
	Warnings          []string              `json:"warnings,omitempty"`
	Rejected          []string              `json:"rejected_lines,omitempty"`
	Transactions      []transactionResponse `json:"transactions,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	FinishedAt        *time.Time            `json:"finished_at,omitempty"`
}

type transactionResponse struct {
	ID          int64        `json:"id"`
	Date        string       `json:"date"`
	Description string       `json:"description"`
	Type        string       `json:"type"`
	Amount      *money.Money `json:"amount"`
	Balance     *money.Money `json:"balance"`
	CheckNumber string       `json:"check_number,omitempty"`
}

type listResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Count        int                   `json:"count"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

// uploadStatement handles POST /api/statements (multipart: file, document_type, bank_name, account_number)
func (h *StatementHandler) uploadStatement(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large", err)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, fh, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload", err)
		return
	}

	docType, ok := statement.ParseDocumentType(r.FormValue("document_type"))
	if !ok {
		docType, ok = statement.DocumentTypeForFile(fh.Filename)
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "document_type must be pdf or image", nil)
		return
	}

	res, err := h.svc.Import(r.Context(), service.ImportRequest{
		DocumentType:  docType,
		BankName:      r.FormValue("bank_name"),
		AccountNumber: r.FormValue("account_number"),
		FileName:      fh.Filename,
		ContentType:   fh.Header.Get("Content-Type"),
		Data:          data,
	})

	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, h.toImportResponse(res))
	case errors.Is(err, service.ErrNoTransactions):
		writeJSON(w, http.StatusUnprocessableEntity, h.toImportResponse(res))
	default:
		code, msg := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.Error("statement upload failed", "file", fh.Filename, "error", err)
			writeError(w, code, msg, nil)
			return
		}
		writeError(w, code, msg, err)
	}
}

// getImport handles GET /api/statements/{id}
func (h *StatementHandler) getImport(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid import id", err)
		return
	}

	imp, err := h.svc.GetImport(r.Context(), id)
	if errors.Is(err, repository.ErrImportNotFound) {
		writeError(w, http.StatusNotFound, "import not found", nil)
		return
	}
	if err != nil {
		h.logger.Error("failed to get import", "import_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get import", nil)
		return
	}

	writeJSON(w, http.StatusOK, h.toImportResponse(&service.ImportResult{Import: imp}))
}

// listTransactions handles GET /api/transactions?import_id=&from=&to=&limit=&offset=
func (h *StatementHandler) listTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query", err)
		return
	}

	records, err := h.svc.ListTransactions(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions", nil)
		return
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = repository.DefaultListLimit
	}
	writeJSON(w, http.StatusOK, listResponse{
		Transactions: h.toTransactions(records),
		Count:        len(records),
		Limit:        min(limit, repository.MaxListLimit),
		Offset:       filter.Offset,
	})
}

// exportTransactions handles GET /api/transactions/export?format=csv|xlsx
func (h *StatementHandler) exportTransactions(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "format must be csv or xlsx", err)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query", err)
		return
	}
	if filter.Limit <= 0 {
		filter.Limit = repository.MaxListLimit
	}

	records, err := h.svc.ListTransactions(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to export transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export transactions", nil)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="transactions.%s"`, format))
	if err := export.Write(w, format, records, h.currency); err != nil {
		// Headers are gone by now; the client sees a truncated file
		h.logger.Error("failed to write export", "format", format, "error", err)
	}
}

// healthz handles GET /healthz
func (h *StatementHandler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unhealthy", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *StatementHandler) toImportResponse(res *service.ImportResult) importResponse {
	imp := res.Import
	resp := importResponse{
		ImportID:          imp.ID,
		Status:            string(imp.Status),
		DocumentType:      string(imp.DocumentType),
		BankName:          imp.BankName,
		AccountNumber:     imp.AccountNumber,
		FileName:          imp.FileName,
		UsedFallback:      imp.UsedFallback,
		Pages:             imp.Pages,
		TransactionsFound: imp.TransactionsFound,
		LinesRejected:     imp.LinesRejected,
		ErrorMessage:      imp.ErrorMessage,
		Warnings:          res.Warnings,
		Transactions:      h.toTransactions(res.Transactions),
		CreatedAt:         imp.CreatedAt,
		FinishedAt:        imp.FinishedAt,
	}
	for _, rej := range res.Rejected {
		resp.Rejected = append(resp.Rejected, rej.String())
	}
	return resp
}

func (h *StatementHandler) toTransactions(records []statement.TransactionRecord) []transactionResponse {
	out := make([]transactionResponse, 0, len(records))
	for _, rec := range records {
		kind := "credit"
		if rec.IsDebit() {
			kind = "debit"
		}
		out = append(out, transactionResponse{
			ID:          rec.ID,
			Date:        rec.Date.Format(dateLayout),
			Description: rec.Description,
			Type:        kind,
			Amount:      money.NewFromDecimal(rec.Amount, h.currency),
			Balance:     money.NewFromDecimal(rec.Balance, h.currency),
			CheckNumber: rec.CheckNumber,
		})
	}
	return out
}

func parseFilter(r *http.Request) (repository.TransactionFilter, error) {
	q := r.URL.Query()
	var filter repository.TransactionFilter

	if v := q.Get("import_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, fmt.Errorf("import_id: %w", err)
		}
		filter.ImportID = &id
	}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(dateLayout, v)
		if err != nil {
			return filter, fmt.Errorf("from: %w", err)
		}
		filter.From = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(dateLayout, v)
		if err != nil {
			return filter, fmt.Errorf("to: %w", err)
		}
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return filter, errors.New("to is before from")
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("limit: invalid value %q", v)
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("offset: invalid value %q", v)
		}
		filter.Offset = offset
	}
	return filter, nil
}

// statusFor maps pipeline errors to HTTP status codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidUpload):
		return http.StatusBadRequest, "invalid upload"
	case errors.Is(err, extract.ErrDocumentUnreadable):
		return http.StatusUnprocessableEntity, "document could not be read"
	case errors.Is(err, extract.ErrRecognitionFailed):
		return http.StatusUnprocessableEntity, "text recognition failed"
	case errors.Is(err, extract.ErrExtractionCanceled):
		return http.StatusGatewayTimeout, "text extraction did not finish in time"
	case errors.Is(err, extract.ErrRecognitionUnavailable):
		return http.StatusServiceUnavailable, "text recognition is not available"
	default:
		return http.StatusInternalServerError, "import failed"
	}
}
