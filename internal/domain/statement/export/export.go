// Package export writes transaction records as CSV or XLSX.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement"
	"github.com/FACorreiaa/statement-ledger/pkg/money"
)

const dateLayout = "2006-01-02"

// SheetName is the worksheet that holds the transactions in XLSX exports
const SheetName = "Transactions"

// ErrUnknownFormat is returned for formats other than csv and xlsx
var ErrUnknownFormat = errors.New("unknown export format")

// Format is an export file type
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" (also the empty string) or "xlsx"
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Row is one exported transaction. Amounts are exact decimal strings.
type Row struct {
	ID          int64  `csv:"id"`
	Date        string `csv:"date"`
	Description string `csv:"description"`
	Amount      string `csv:"amount"`
	Balance     string `csv:"balance"`
	Currency    string `csv:"currency"`
	CheckNumber string `csv:"check_number"`
}

var header = []any{"id", "date", "description", "amount", "balance", "currency", "check_number"}

// Rows converts records for export in the given currency
func Rows(records []statement.TransactionRecord, currency string) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		amount := money.NewFromDecimal(rec.Amount, currency)
		rows = append(rows, Row{
			ID:          rec.ID,
			Date:        rec.Date.Format(dateLayout),
			Description: rec.Description,
			Amount:      amount.String(),
			Balance:     money.NewFromDecimal(rec.Balance, currency).String(),
			Currency:    amount.Currency(),
			CheckNumber: rec.CheckNumber,
		})
	}
	return rows
}

// Write encodes records to w in the given format
func Write(w io.Writer, format Format, records []statement.TransactionRecord, currency string) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, records, currency)
	case FormatXLSX:
		return WriteXLSX(w, records, currency)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// WriteCSV writes a header line followed by one line per record
func WriteCSV(w io.Writer, records []statement.TransactionRecord, currency string) error {
	rows := Rows(records, currency)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

// WriteXLSX writes a single-sheet workbook with a header row
func WriteXLSX(w io.Writer, records []statement.TransactionRecord, currency string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("failed to open sheet writer: %w", err)
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, row := range Rows(records, currency) {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{row.ID, row.Date, row.Description, row.Amount, row.Balance, row.Currency, row.CheckNumber}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
