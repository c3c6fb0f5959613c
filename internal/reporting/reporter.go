// File: internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// Supported output formats.
const (
	FormatJSON  = "json"
	FormatSARIF = "sarif"
	FormatText  = "text"
)

// Reporter defines the interface for writing analysis reports to an output.
type Reporter interface {
	// Write renders a single report.
	Write(report *schemas.Report) error
	// Close finalizes the output and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for the given format. An empty output path or "stdout"
// writes to standard output, which is never closed.
func New(format, outputPath, toolVersion string, logger *zap.Logger) (Reporter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	switch format {
	case FormatJSON, FormatSARIF, FormatText:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case FormatSARIF:
		return NewSARIFReporter(writer, toolVersion, logger), nil
	case FormatText:
		return NewTextReporter(writer, logger), nil
	default:
		return NewJSONReporter(writer, logger), nil
	}
}
