// Package report provides history export for the alerting engine.
// It defines the ReportWriter interface and a registry of the Excel and HTML writers.
package report

import (
	"alert-engine/internal/model"
)

// ReportWriter defines the interface for writing history reports.
type ReportWriter interface {
	// Write renders the export to outputPath. The extension of the format
	// is appended when missing.
	Write(export *model.HistoryExport, outputPath string) error

	// Format returns the format identifier for this writer, "excel" or "html".
	Format() string
}
