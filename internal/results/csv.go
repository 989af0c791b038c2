// File: internal/results/csv.go
package results

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Columns of the results CSV, in order.
var Columns = []string{"username", "success", "message", "screenshot", "stateFile", "targetUrl"}

// CSVWriter appends one line per row to the results file.
type CSVWriter struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
	path string
}

// OpenCSV opens path for appending, writing the header only when the file is new or empty.
func OpenCSV(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat results file: %w", err)
	}

	cw := &CSVWriter{file: f, w: csv.NewWriter(f), path: path}
	if info.Size() == 0 {
		if err := cw.writeLine(Columns); err != nil {
			f.Close()
			return nil, err
		}
	}
	return cw, nil
}

// Path returns the file being written.
func (c *CSVWriter) Path() string { return c.path }

// Record appends r and flushes it to disk.
func (c *CSVWriter) Record(_ context.Context, r RowResult) error {
	return c.writeLine(r.Line().fields())
}

func (c *CSVWriter) writeLine(line []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.w.Write(line); err != nil {
		return fmt.Errorf("failed to write results line: %w", err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("failed to flush results: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	return errors.Join(c.w.Error(), c.file.Close())
}

// Line is one row of the results CSV.
type Line struct {
	Username   string
	Success    bool
	Message    string
	Screenshot string
	StateFile  string
	TargetURL  string
}

// Line flattens a result into its CSV form.
func (r RowResult) Line() Line {
	return Line{
		Username:   r.Username,
		Success:    r.Success,
		Message:    r.Message(),
		Screenshot: r.Screenshot,
		StateFile:  r.StateFile,
		TargetURL:  r.TargetURL,
	}
}

func (l Line) fields() []string {
	return []string{l.Username, strconv.FormatBool(l.Success), l.Message, l.Screenshot, l.StateFile, l.TargetURL}
}

// ReadCSV loads a results file written by CSVWriter. Columns are located by
// header name so files with extra columns still load.
func ReadCSV(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read results header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	get := func(rec []string, col string) string {
		if i, ok := idx[col]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}

	var out []Line
	for n := 2; ; n++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read results line %d: %w", n, err)
		}
		ok, _ := strconv.ParseBool(get(rec, "success"))
		out = append(out, Line{
			Username:   get(rec, "username"),
			Success:    ok,
			Message:    get(rec, "message"),
			Screenshot: get(rec, "screenshot"),
			StateFile:  get(rec, "stateFile"),
			TargetURL:  get(rec, "targetUrl"),
		})
	}
	return out, nil
}
