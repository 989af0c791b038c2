// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/erpfill/internal/results"
)

// Reporter renders result lines to an output.
type Reporter interface {
	// Write processes a single result line.
	Write(line results.Line) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
func New(format, outputPath string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	switch format {
	case "table", "markdown", "json":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	if isStdOut {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWithWriter(format, writer)
}

// NewWithWriter creates a reporter that takes ownership of w.
func NewWithWriter(format string, w io.WriteCloser) (Reporter, error) {
	switch format {
	case "table":
		return &tableReporter{out: w}, nil
	case "markdown":
		return &tableReporter{out: w, markdown: true}, nil
	case "json":
		return &jsonReporter{out: w, stream: jsoniter.NewStream(jsoniter.ConfigCompatibleWithStandardLibrary, w, 512)}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// tableReporter buffers lines and renders them with a summary footer on Close.
type tableReporter struct {
	out      io.WriteCloser
	markdown bool
	lines    []results.Line
}

func (r *tableReporter) Write(line results.Line) error {
	r.lines = append(r.lines, line)
	return nil
}

func (r *tableReporter) Close() error {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.AppendHeader(table.Row{"#", "User", "Success", "Message", "Screenshot", "State", "Target URL"})

	ok := 0
	for i, l := range r.lines {
		status := text.FgRed.Sprint("no")
		if r.markdown {
			status = "no"
		}
		if l.Success {
			ok++
			status = "yes"
			if !r.markdown {
				status = text.FgGreen.Sprint("yes")
			}
		}
		t.AppendRow(table.Row{i + 1, l.Username, status, text.WrapSoft(l.Message, 60), l.Screenshot, l.StateFile, l.TargetURL})
	}
	t.AppendFooter(table.Row{"", "Total", len(r.lines), fmt.Sprintf("%d succeeded, %d failed", ok, len(r.lines)-ok)})

	if r.markdown {
		t.RenderMarkdown()
	} else {
		t.SetStyle(table.StyleLight)
		t.Render()
	}
	return r.out.Close()
}

type jsonLine struct {
	Username   string `json:"username"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Screenshot string `json:"screenshot,omitempty"`
	StateFile  string `json:"stateFile,omitempty"`
	TargetURL  string `json:"targetUrl,omitempty"`
}

// jsonReporter writes one JSON object per line.
type jsonReporter struct {
	out    io.WriteCloser
	stream *jsoniter.Stream
}

func (r *jsonReporter) Write(l results.Line) error {
	r.stream.WriteVal(jsonLine(l))
	r.stream.WriteRaw("\n")
	if r.stream.Error != nil {
		return fmt.Errorf("failed to encode result line: %w", r.stream.Error)
	}
	return r.stream.Flush()
}

func (r *jsonReporter) Close() error {
	if err := r.stream.Flush(); err != nil {
		return err
	}
	return r.out.Close()
}
