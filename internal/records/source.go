// File: internal/records/source.go
package records

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrInputMissing is returned when the input path does not exist or is not a regular file.
	ErrInputMissing = errors.New("input file not found")
	// ErrInputEmpty is returned for a zero-byte input file.
	ErrInputEmpty = errors.New("input file is empty")
	// ErrUnreadable is returned when every parser in the chain failed.
	ErrUnreadable = errors.New("input file could not be parsed")
	// ErrNoHeader is what a parser chain step reports when a table has no usable header row.
	ErrNoHeader = errors.New("no header row found")
)

// Table is a raw grid of cell values, rows first.
type Table [][]string

// Parser reads a file into a raw table.
type Parser interface {
	Name() string
	Parse(path string) (Table, error)
}

// Source turns a spreadsheet file into records using an ordered parser chain.
type Source struct {
	logger  *zap.Logger
	parsers []Parser
}

// NewSource creates a source. With no explicit parsers the chain is chosen
// per file from its extension, see DefaultParsers.
func NewSource(logger *zap.Logger, parsers ...Parser) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{logger: logger.Named("records"), parsers: parsers}
}

// DefaultParsers returns the primary and secondary parser for a path.
func DefaultParsers(path, sheet string) []Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt", ".tsv":
		return []Parser{NewCSVParser(), NewExcelizeParser(sheet)}
	default:
		return []Parser{NewExcelizeParser(sheet), NewXLSXParser(sheet)}
	}
}

// Load reads path and returns one record per non-blank data row.
func (s *Source) Load(ctx context.Context, path string) ([]Record, error) {
	// 1. Preconditions, before any parser is touched.
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrInputMissing, path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInputEmpty, path)
	}

	parsers := s.parsers
	if len(parsers) == 0 {
		parsers = DefaultParsers(path, "")
	}

	// 2. Walk the chain until one parser yields a table with a header.
	var errs []error
	for _, p := range parsers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		table, err := p.Parse(path)
		if err == nil {
			var recs []Record
			recs, err = buildRecords(table)
			if err == nil {
				s.logger.Info("Input parsed.",
					zap.String("parser", p.Name()),
					zap.String("path", path),
					zap.Int("records", len(recs)))
				return recs, nil
			}
		}
		s.logger.Warn("Parser failed, trying next.",
			zap.String("parser", p.Name()),
			zap.String("path", path),
			zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, errors.Join(errs...))
}

func buildRecords(table Table) ([]Record, error) {
	// 3. First non-blank row is the header.
	start := -1
	for i, row := range table {
		if !blank(row) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, ErrNoHeader
	}

	columns := headerColumns(table[start])
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: row %d names no known field", ErrNoHeader, start+1)
	}

	// 4. One record per non-blank data row.
	var recs []Record
	for i := start + 1; i < len(table); i++ {
		row := table[i]
		if blank(row) {
			continue
		}
		values := make(map[string]string, len(columns))
		for col, f := range columns {
			if col < len(row) {
				values[f] = row[col]
			}
		}
		recs = append(recs, NewRecord(i+1, values))
	}
	return recs, nil
}

// headerColumns maps column index to canonical field. Unknown and repeated
// headers are skipped.
func headerColumns(header []string) map[int]string {
	columns := make(map[int]string)
	seen := make(map[string]bool)
	for i, h := range header {
		f, ok := CanonicalField(h)
		if !ok || seen[f] {
			continue
		}
		seen[f] = true
		columns[i] = f
	}
	return columns
}

// hasKnownHeader reports whether the first non-blank row names at least one
// whitelisted field.
func hasKnownHeader(table Table) bool {
	for _, row := range table {
		if !blank(row) {
			return len(headerColumns(row)) > 0
		}
	}
	return false
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
