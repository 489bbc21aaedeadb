// Package repository persists statement imports and the transactions read from them.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement"
)

// ErrImportNotFound is returned when no import exists for an ID
var ErrImportNotFound = errors.New("import not found")

// ImportStatus tracks an import through the pipeline
type ImportStatus string

const (
	ImportStatusProcessing     ImportStatus = "processing"
	ImportStatusSucceeded      ImportStatus = "succeeded"
	ImportStatusNoTransactions ImportStatus = "no_transactions"
	ImportStatusFailed         ImportStatus = "failed"
)

// Import is one uploaded statement document and what came out of it
type Import struct {
	ID                uuid.UUID
	DocumentType      statement.DocumentType
	BankName          string
	AccountNumber     string
	FileName          string
	FileID            string
	Status            ImportStatus
	UsedFallback      bool
	Pages             int
	TransactionsFound int
	LinesRejected     int
	ErrorMessage      string
	CreatedAt         time.Time
	FinishedAt        *time.Time
}

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	ImportID *uuid.UUID
	From     *time.Time // Inclusive
	To       *time.Time // Inclusive
	Limit    int
	Offset   int
}

const (
	DefaultListLimit = 500
	MaxListLimit     = 5000
)

// DBTX is the subset of pgx used here; *pgxpool.Pool and pgxmock pools satisfy it
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository defines the persistence operations of the statement pipeline
type Repository interface {
	CreateImport(ctx context.Context, imp *Import) error
	FinishImport(ctx context.Context, imp *Import) error
	GetImport(ctx context.Context, id uuid.UUID) (*Import, error)
	InsertTransactions(ctx context.Context, importID uuid.UUID, records []statement.TransactionRecord) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]statement.TransactionRecord, error)
}
