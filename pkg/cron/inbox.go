package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement"
	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/service"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Importer runs one document through the statement pipeline
type Importer interface {
	Import(ctx context.Context, req service.ImportRequest) (*service.ImportResult, error)
}

// SweepResult counts what one sweep did
type SweepResult struct {
	Imported int // Moved to processed/
	Failed   int // Moved to failed/, including documents with no transactions
	Skipped  int // Unsupported or still being written
	Deferred int // Left in place because the sweep was stopped mid-import
}

type fileOutcome int

const (
	fileImported fileOutcome = iota
	fileFailed
	fileDeferred
)

// Inbox imports statement files dropped into a directory
type Inbox struct {
	dir           string
	bankName      string
	accountNumber string
	importer      Importer
	logger        *slog.Logger

	// SettleTime skips files modified more recently than this, so partially
	// copied files are picked up on a later sweep.
	SettleTime time.Duration
}

// NewInbox creates an inbox over dir. Imports are tagged with bankName and accountNumber.
func NewInbox(dir, bankName, accountNumber string, importer Importer, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		dir:           dir,
		bankName:      bankName,
		accountNumber: accountNumber,
		importer:      importer,
		logger:        logger,
		SettleTime:    5 * time.Second,
	}
}

// Sweep imports every supported file in the inbox, in name order, moving
// each one to processed/ or failed/.
func (in *Inbox) Sweep(ctx context.Context) SweepResult {
	var result SweepResult

	for _, sub := range []string{processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(in.dir, sub), 0o755); err != nil {
			in.logger.Error("failed to prepare inbox", slog.String("dir", in.dir), slog.Any("error", err))
			return result
		}
	}

	entries, err := os.ReadDir(in.dir)
	if err != nil {
		in.logger.Error("failed to read inbox", slog.String("dir", in.dir), slog.Any("error", err))
		return result
	}

	now := time.Now()
	for _, entry := range entries {
		if ctx.Err() != nil {
			in.logger.Warn("inbox sweep interrupted", slog.Any("error", ctx.Err()))
			break
		}
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		docType, ok := statement.DocumentTypeForFile(entry.Name())
		if !ok {
			result.Skipped++
			continue
		}

		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) < in.SettleTime {
			result.Skipped++
			continue
		}

		switch in.importFile(ctx, entry.Name(), docType) {
		case fileImported:
			result.Imported++
		case fileFailed:
			result.Failed++
		case fileDeferred:
			result.Deferred++
		}
	}

	return result
}

// importFile imports one file and moves it. A file whose import was cut short
// by ctx stays in the inbox for the next sweep.
func (in *Inbox) importFile(ctx context.Context, name string, docType statement.DocumentType) fileOutcome {
	path := filepath.Join(in.dir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		in.logger.Error("failed to read inbox file", slog.String("file", name), slog.Any("error", err))
		in.move(name, failedDir)
		return fileFailed
	}

	res, err := in.importer.Import(ctx, service.ImportRequest{
		DocumentType:  docType,
		BankName:      in.bankName,
		AccountNumber: in.accountNumber,
		FileName:      name,
		Data:          data,
	})
	if err != nil && ctx.Err() != nil {
		in.logger.Warn("inbox import interrupted, leaving file for the next sweep",
			slog.String("file", name),
			slog.Any("error", err),
		)
		return fileDeferred
	}
	if err != nil {
		attrs := []any{slog.String("file", name), slog.Any("error", err)}
		if res != nil && res.Import != nil {
			attrs = append(attrs, slog.String("import_id", res.Import.ID.String()))
		}
		if errors.Is(err, service.ErrNoTransactions) {
			in.logger.Warn("inbox file has no transactions", attrs...)
		} else {
			in.logger.Error("inbox import failed", attrs...)
		}
		in.move(name, failedDir)
		return fileFailed
	}

	in.logger.Info("inbox file imported",
		slog.String("file", name),
		slog.String("import_id", res.Import.ID.String()),
		slog.Int("transactions", len(res.Transactions)),
	)
	in.move(name, processedDir)
	return fileImported
}

// move renames name into sub, adding a timestamp when the target already exists
func (in *Inbox) move(name, sub string) {
	target := filepath.Join(in.dir, sub, name)
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(name)
		target = filepath.Join(in.dir, sub,
			fmt.Sprintf("%s-%s%s", strings.TrimSuffix(name, ext), time.Now().UTC().Format("20060102T150405.000000000"), ext))
	}
	if err := os.Rename(filepath.Join(in.dir, name), target); err != nil {
		in.logger.Error("failed to move inbox file",
			slog.String("file", name),
			slog.String("to", sub),
			slog.Any("error", err),
		)
	}
}
