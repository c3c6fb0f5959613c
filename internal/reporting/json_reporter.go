// File: internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-contract/api/schemas"
)

// JSONReporter writes each report as an indented JSON document as soon as it
// arrives. Several reports produce a stream of documents.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	mu     sync.Mutex
}

// NewJSONReporter takes ownership of writer.
func NewJSONReporter(writer io.WriteCloser, logger *zap.Logger) *JSONReporter {
	return &JSONReporter{writer: writer, logger: logger.Named("json_reporter")}
}

func (r *JSONReporter) Write(report *schemas.Report) error {
	if report == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	encoder := json.ConfigCompatibleWithStandardLibrary.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		r.logger.Error("Failed to encode report", zap.String("run_id", report.RunID), zap.Error(err))
		return fmt.Errorf("failed to encode JSON report: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("failed to close output writer: %w", err)
	}
	return nil
}
