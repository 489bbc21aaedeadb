// Package parser turns the text extracted from a bank statement into
// transaction records. Each line is matched on its own against
//
//	DD/MM/YYYY <description> <marker><amount> <marker><balance> [<check>]
//
// and lines that fail a field validation are dropped without aborting the batch.
package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement"
)

// DefaultCurrencyMarker is the prefix Dominican banks print before amounts
const DefaultCurrencyMarker = "RD$"

const dateLayout = "02/01/2006"

// space also covers the Unicode separators (NBSP and friends) PDF text layers emit
const space = `[\s\p{Zs}]`

var dateLinePattern = regexp.MustCompile(`(?m)^\d{2}/\d{2}/\d{4}`)

// ErrEmptyCurrencyMarker is returned by New when no marker is configured
var ErrEmptyCurrencyMarker = errors.New("currency marker is required")

// CountDateLines counts the lines that start with a DD/MM/YYYY token
func CountDateLines(text string) int {
	return len(dateLinePattern.FindAllStringIndex(text, -1))
}

// Config configures the line grammar and number normalization
type Config struct {
	CurrencyMarker string         // Literal printed before amount and balance (default RD$)
	NumberFormat   NumberFormat   // Grouping/decimal convention of the statement
	DetectFormat   bool           // Infer NumberFormat from the matched amounts instead
	Location       *time.Location // Location for posted dates (default UTC)
}

// DefaultConfig returns the configuration for Dominican peso statements
func DefaultConfig() Config {
	return Config{
		CurrencyMarker: DefaultCurrencyMarker,
		NumberFormat:   DominicanFormat,
		Location:       time.UTC,
	}
}

// LineRejection records a line that matched the grammar but failed validation
type LineRejection struct {
	Line   int
	Field  string
	Value  string
	Reason string
}

func (r LineRejection) String() string {
	return fmt.Sprintf("line %d, field %s: %s (%q)", r.Line, r.Field, r.Reason, r.Value)
}

// ParseResult contains the records found in a text blob and the lines dropped on the way
type ParseResult struct {
	Records  []statement.TransactionRecord
	Matched  int // Lines that matched the grammar
	Rejected []LineRejection
	Format   NumberFormat // Convention used for amounts
}

// Parser extracts transaction records from statement text.
// It holds no state between calls and is safe for concurrent use.
type Parser struct {
	cfg    Config
	lineRe *regexp.Regexp
	logger *slog.Logger
}

// New builds a parser for the configured currency marker
func New(cfg Config, logger *slog.Logger) (*Parser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.CurrencyMarker) == "" {
		return nil, ErrEmptyCurrencyMarker
	}
	if cfg.NumberFormat == (NumberFormat{}) {
		cfg.NumberFormat = DominicanFormat
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	marker := regexp.QuoteMeta(cfg.CurrencyMarker)
	lineRe, err := regexp.Compile(
		`^(\d{2}/\d{2}/\d{4})` + space + `+(.+?)` + space + `+` +
			marker + space + `*([\d.,\-]+)` + space + `+` +
			marker + space + `*([\d.,]+)` +
			`(?:` + space + `+([^\s\p{Zs}]+))?`,
	)
	if err != nil {
		return nil, fmt.Errorf("compile line pattern: %w", err)
	}

	return &Parser{cfg: cfg, lineRe: lineRe, logger: logger}, nil
}

// ParseTransactions returns the records found in text, in line order.
// An empty slice is the "nothing found" outcome; it never errors.
func (p *Parser) ParseTransactions(text string) []statement.TransactionRecord {
	return p.Parse(text).Records
}

// Parse is ParseTransactions plus the diagnostics of the run
func (p *Parser) Parse(text string) ParseResult {
	result := ParseResult{
		Records: make([]statement.TransactionRecord, 0),
		Format:  p.cfg.NumberFormat,
	}

	type match struct {
		line   int
		groups []string
	}

	lines := strings.Split(text, "\n")
	matches := make([]match, 0, len(lines)/2)
	for i, line := range lines {
		groups := p.lineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if groups == nil {
			continue
		}
		matches = append(matches, match{line: i + 1, groups: groups})
	}
	result.Matched = len(matches)

	if p.cfg.DetectFormat && len(matches) > 0 {
		samples := make([]string, 0, len(matches)*2)
		for _, m := range matches {
			samples = append(samples, m.groups[3], m.groups[4])
		}
		dialect := DetectNumberFormat(samples, p.cfg.NumberFormat)
		result.Format = dialect.Format
		p.logger.Debug("detected statement number format",
			"format", dialect.Format.Name,
			"confidence", dialect.Confidence,
			"samples", dialect.Samples,
		)
	}

	for _, m := range matches {
		record, rejection := p.parseLine(m.groups, m.line, result.Format)
		if rejection != nil {
			p.logger.Warn("statement line rejected",
				"line", rejection.Line,
				"field", rejection.Field,
				"value", rejection.Value,
				"reason", rejection.Reason,
			)
			result.Rejected = append(result.Rejected, *rejection)
			continue
		}
		result.Records = append(result.Records, record)
	}

	p.logger.Debug("statement text parsed",
		"lines", len(lines),
		"matched", result.Matched,
		"records", len(result.Records),
		"rejected", len(result.Rejected),
	)

	return result
}

// parseLine validates the captures of one matched line
func (p *Parser) parseLine(groups []string, lineNum int, format NumberFormat) (statement.TransactionRecord, *LineRejection) {
	date, err := time.ParseInLocation(dateLayout, groups[1], p.cfg.Location)
	if err != nil {
		return statement.TransactionRecord{}, &LineRejection{
			Line:   lineNum,
			Field:  "date",
			Value:  groups[1],
			Reason: err.Error(),
		}
	}

	amount, err := ParseAmount(groups[3], format, true)
	if err != nil {
		return statement.TransactionRecord{}, &LineRejection{
			Line:   lineNum,
			Field:  "amount",
			Value:  groups[3],
			Reason: err.Error(),
		}
	}

	balance, err := ParseAmount(groups[4], format, false)
	if err != nil {
		return statement.TransactionRecord{}, &LineRejection{
			Line:   lineNum,
			Field:  "balance",
			Value:  groups[4],
			Reason: err.Error(),
		}
	}

	var check string
	if len(groups) > 5 {
		check = strings.TrimSpace(groups[5])
	}

	return statement.TransactionRecord{
		Date:        date,
		Description: strings.TrimSpace(groups[2]),
		Amount:      amount,
		Balance:     balance,
		CheckNumber: check,
		Line:        lineNum,
	}, nil
}
