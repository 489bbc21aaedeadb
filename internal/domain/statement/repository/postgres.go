package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a new PostgreSQL statement repository
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateImport inserts an import in the processing state
func (r *PostgresRepository) CreateImport(ctx context.Context, imp *Import) error {
	query := `
		INSERT INTO statement_imports (id, document_type, bank_name, account_number, file_name, file_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	if imp.ID == uuid.Nil {
		imp.ID = uuid.New()
	}
	if imp.Status == "" {
		imp.Status = ImportStatusProcessing
	}

	err := r.db.QueryRow(ctx, query,
		imp.ID,
		string(imp.DocumentType),
		imp.BankName,
		imp.AccountNumber,
		imp.FileName,
		imp.FileID,
		string(imp.Status),
	).Scan(&imp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create import: %w", err)
	}
	return nil
}

// FinishImport stores the final status and counters of an import, and the
// bank name when it was only known after extraction
func (r *PostgresRepository) FinishImport(ctx context.Context, imp *Import) error {
	query := `
		UPDATE statement_imports
		SET status = $2, used_fallback = $3, pages = $4, transactions_found = $5,
			lines_rejected = $6, error_message = $7, bank_name = $8, finished_at = NOW()
		WHERE id = $1
		RETURNING finished_at`

	err := r.db.QueryRow(ctx, query,
		imp.ID,
		string(imp.Status),
		imp.UsedFallback,
		imp.Pages,
		imp.TransactionsFound,
		imp.LinesRejected,
		imp.ErrorMessage,
		imp.BankName,
	).Scan(&imp.FinishedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrImportNotFound, imp.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to finish import: %w", err)
	}
	return nil
}

// GetImport retrieves an import by ID
func (r *PostgresRepository) GetImport(ctx context.Context, id uuid.UUID) (*Import, error) {
	query := `
		SELECT id, document_type, bank_name, account_number, file_name, file_id, status,
			used_fallback, pages, transactions_found, lines_rejected, error_message, created_at, finished_at
		FROM statement_imports
		WHERE id = $1`

	var (
		imp     Import
		docType string
		status  string
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&imp.ID,
		&docType,
		&imp.BankName,
		&imp.AccountNumber,
		&imp.FileName,
		&imp.FileID,
		&status,
		&imp.UsedFallback,
		&imp.Pages,
		&imp.TransactionsFound,
		&imp.LinesRejected,
		&imp.ErrorMessage,
		&imp.CreatedAt,
		&imp.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import: %w", err)
	}

	imp.DocumentType = statement.DocumentType(docType)
	imp.Status = ImportStatus(status)
	return &imp, nil
}

// InsertTransactions stores records in a single database transaction, in
// order, and sets each record's ID from the generated key.
func (r *PostgresRepository) InsertTransactions(ctx context.Context, importID uuid.UUID, records []statement.TransactionRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO transactions (import_id, posted_on, description, amount, balance, check_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, len(records))
	for i, rec := range records {
		err := tx.QueryRow(ctx, query,
			importID,
			rec.Date,
			rec.Description,
			rec.Amount,
			rec.Balance,
			rec.CheckNumber,
		).Scan(&ids[i])
		if err != nil {
			return fmt.Errorf("failed to insert transaction %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transactions: %w", err)
	}

	for i := range records {
		records[i].ID = ids[i]
	}
	return nil
}

// ListTransactions returns stored transactions ordered by date, then insertion
func (r *PostgresRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]statement.TransactionRecord, error) {
	var (
		conds []string
		args  []any
	)
	if filter.ImportID != nil {
		args = append(args, *filter.ImportID)
		conds = append(conds, fmt.Sprintf("import_id = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("posted_on >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("posted_on <= $%d", len(args)))
	}

	query := `
		SELECT id, posted_on, description, amount, balance, check_number
		FROM transactions`
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	args = append(args, limit, max(filter.Offset, 0))
	query += fmt.Sprintf("\n\t\tORDER BY posted_on ASC, id ASC\n\t\tLIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var records []statement.TransactionRecord
	for rows.Next() {
		var rec statement.TransactionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Date,
			&rec.Description,
			&rec.Amount,
			&rec.Balance,
			&rec.CheckNumber,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return records, nil
}
