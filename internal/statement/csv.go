// Package statement parses external statement CSV files into records the
// matching engine can consume.
//
// Statement exports vary wildly between institutions: column names differ,
// some formats carry a single signed amount column while others split
// debits and credits, and date formats range from ISO to US ordering. The
// parser is configured per format and tolerant per row: a malformed row is
// recorded as a parse error and skipped, never aborting the whole file.
package statement

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"bookledger/internal/models"
	"bookledger/pkg/logger"
)

// Config describes one statement CSV format.
type Config struct {
	Name              string            `json:"name"`
	DateColumn        string            `json:"date_column"`
	DescriptionColumn string            `json:"description_column"`
	DebitColumn       string            `json:"debit_column"`
	CreditColumn      string            `json:"credit_column"`
	AmountColumn      string            `json:"amount_column"`
	BalanceColumn     string            `json:"balance_column"`
	HasHeader         bool              `json:"has_header"`
	Delimiter         rune              `json:"delimiter"`
	DateFormats       []string          `json:"date_formats,omitempty"`
	ColumnAliases     map[string]string `json:"column_aliases,omitempty"`
}

// DefaultConfig returns the generic statement format: a header row with
// date, description and separate debit/credit columns.
func DefaultConfig() *Config {
	return &Config{
		Name:              "standard",
		DateColumn:        "date",
		DescriptionColumn: "description",
		DebitColumn:       "debit",
		CreditColumn:      "credit",
		BalanceColumn:     "balance",
		HasHeader:         true,
		Delimiter:         ',',
	}
}

// SignedAmountConfig returns a format carrying a single signed amount
// column instead of split debit/credit columns.
func SignedAmountConfig() *Config {
	return &Config{
		Name:              "signed-amount",
		DateColumn:        "date",
		DescriptionColumn: "description",
		AmountColumn:      "amount",
		BalanceColumn:     "balance",
		HasHeader:         true,
		Delimiter:         ',',
	}
}

// Validate checks that the configuration names enough columns to produce
// a record.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DateColumn) == "" {
		return fmt.Errorf("date column cannot be empty")
	}
	if strings.TrimSpace(c.DescriptionColumn) == "" {
		return fmt.Errorf("description column cannot be empty")
	}
	hasSigned := strings.TrimSpace(c.AmountColumn) != ""
	hasSplit := strings.TrimSpace(c.DebitColumn) != "" || strings.TrimSpace(c.CreditColumn) != ""
	if !hasSigned && !hasSplit {
		return fmt.Errorf("either an amount column or debit/credit columns are required")
	}
	if hasSigned && hasSplit {
		return fmt.Errorf("amount column and debit/credit columns are mutually exclusive")
	}
	return nil
}

// ColumnName resolves a standard column role through the alias map.
func (c *Config) ColumnName(role string) string {
	if alias, ok := c.ColumnAliases[role]; ok {
		return alias
	}
	switch role {
	case "date":
		return c.DateColumn
	case "description":
		return c.DescriptionColumn
	case "debit":
		return c.DebitColumn
	case "credit":
		return c.CreditColumn
	case "amount":
		return c.AmountColumn
	case "balance":
		return c.BalanceColumn
	default:
		return role
	}
}

// ParseError records one rejected row.
type ParseError struct {
	Line    int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at line %d (%s=%q): %s: %v", e.Line, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("parse error at line %d (%s=%q): %s", e.Line, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Stats summarizes one parse run.
type Stats struct {
	TotalLines   int
	RecordsValid int
	Errors       []*ParseError
}

// Reader parses statement CSVs for one configured format.
type Reader struct {
	config *Config
	log    logger.Logger
}

// NewReader creates a Reader for the format. A nil config means the
// standard debit/credit format.
func NewReader(config *Config, log logger.Logger) (*Reader, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid statement configuration: %w", err)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Reader{
		config: config,
		log:    log.WithComponent("statement"),
	}, nil
}

// ReadFile parses the CSV file at path.
func (r *Reader) ReadFile(path string) ([]models.ExternalRecord, *Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open statement file: %w", err)
	}
	defer f.Close()
	return r.Read(f)
}

// Read parses statement records from the stream. Rows that fail to parse
// are collected in Stats.Errors; the remaining rows still come back.
func (r *Reader) Read(src io.Reader) ([]models.ExternalRecord, *Stats, error) {
	cr := csv.NewReader(src)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	if r.config.Delimiter != 0 {
		cr.Comma = r.config.Delimiter
	}

	stats := &Stats{}
	line := 0

	columns, err := r.columnIndexes(cr, &line)
	if err != nil {
		return nil, stats, err
	}

	var records []models.ExternalRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			stats.Errors = append(stats.Errors, &ParseError{
				Line: line, Message: "malformed CSV row", Err: err,
			})
			continue
		}
		if isEmptyRow(row) {
			continue
		}

		rec, perr := r.parseRow(row, columns, line)
		if perr != nil {
			stats.Errors = append(stats.Errors, perr)
			continue
		}
		records = append(records, rec)
		stats.RecordsValid++
	}
	stats.TotalLines = line

	r.log.WithFields(logger.Fields{
		"format": r.config.Name,
		"lines":  stats.TotalLines,
		"valid":  stats.RecordsValid,
		"errors": len(stats.Errors),
	}).Info("statement parsed")

	return records, stats, nil
}

// columnIndexes maps column roles to field positions. Without a header
// the configured column names are interpreted as zero-based indexes in
// declaration order: date, description, debit, credit, amount, balance.
func (r *Reader) columnIndexes(cr *csv.Reader, line *int) (map[string]int, error) {
	indexes := make(map[string]int)
	roles := []string{"date", "description", "debit", "credit", "amount", "balance"}

	if !r.config.HasHeader {
		pos := 0
		for _, role := range roles {
			if strings.TrimSpace(r.config.ColumnName(role)) == "" {
				continue
			}
			indexes[role] = pos
			pos++
		}
		return indexes, nil
	}

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read statement header: %w", err)
	}
	*line++

	byName := make(map[string]int, len(header))
	for i, name := range header {
		byName[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, role := range roles {
		name := strings.TrimSpace(r.config.ColumnName(role))
		if name == "" {
			continue
		}
		idx, ok := byName[strings.ToLower(name)]
		if !ok {
			if role == "balance" {
				continue
			}
			return nil, fmt.Errorf("statement header missing column %q", name)
		}
		indexes[role] = idx
	}
	return indexes, nil
}

func (r *Reader) parseRow(row []string, columns map[string]int, line int) (models.ExternalRecord, *ParseError) {
	var rec models.ExternalRecord

	raw, perr := fieldAt(row, columns, "date", line)
	if perr != nil {
		return rec, perr
	}
	date, err := models.ParseCivilDate(raw, r.config.DateFormats...)
	if err != nil {
		return rec, &ParseError{Line: line, Field: "date", Value: raw, Message: "unparseable date", Err: err}
	}
	rec.Date = date

	desc, perr := fieldAt(row, columns, "description", line)
	if perr != nil {
		return rec, perr
	}
	rec.Description = strings.TrimSpace(desc)

	if idx, ok := columns["amount"]; ok && idx < len(row) {
		amount, err := models.ParseAmount(row[idx])
		if err != nil {
			return rec, &ParseError{Line: line, Field: "amount", Value: row[idx], Message: "unparseable amount", Err: err}
		}
		if amount.IsNegative() {
			rec.Debit = amount.Neg()
		} else {
			rec.Credit = amount
		}
	} else {
		var perr *ParseError
		rec.Debit, perr = optionalAmount(row, columns, "debit", line)
		if perr != nil {
			return rec, perr
		}
		rec.Credit, perr = optionalAmount(row, columns, "credit", line)
		if perr != nil {
			return rec, perr
		}
	}

	if idx, ok := columns["balance"]; ok && idx < len(row) && strings.TrimSpace(row[idx]) != "" {
		balance, err := models.ParseAmount(row[idx])
		if err != nil {
			return rec, &ParseError{Line: line, Field: "balance", Value: row[idx], Message: "unparseable balance", Err: err}
		}
		rec.Balance = &balance
	}

	if err := rec.Validate(); err != nil {
		return rec, &ParseError{Line: line, Field: "record", Message: "invalid record", Err: err}
	}
	return rec, nil
}

func fieldAt(row []string, columns map[string]int, role string, line int) (string, *ParseError) {
	idx, ok := columns[role]
	if !ok || idx >= len(row) {
		return "", &ParseError{Line: line, Field: role, Message: "column missing from row"}
	}
	return row[idx], nil
}

func optionalAmount(row []string, columns map[string]int, role string, line int) (decimal.Decimal, *ParseError) {
	idx, ok := columns[role]
	if !ok || idx >= len(row) || strings.TrimSpace(row[idx]) == "" {
		return decimal.Zero, nil
	}
	amount, err := models.ParseAmount(row[idx])
	if err != nil {
		return decimal.Zero, &ParseError{Line: line, Field: role, Value: row[idx], Message: "unparseable amount", Err: err}
	}
	return amount, nil
}

func isEmptyRow(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
