// internal/export/exporter.go
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"dmm-service/internal/model"
)

// Format is an export file format
type Format string

const (
	FormatCSV Format = "csv"
	FormatNPY Format = "npy"
)

// ParseFormat parses "csv" or "npy"
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatNPY:
		return f, nil
	}
	return "", &model.ConfigError{Field: "format", Value: s, Reason: "expected csv or npy"}
}

// Extension returns the file extension, dot included
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type served for the format
func (f Format) ContentType() string {
	if f == FormatNPY {
		return "application/octet-stream"
	}
	return "text/csv"
}

// Write writes the matrix in the given format
func Write(w io.Writer, format Format, m *model.Matrix) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, m, false)
	case FormatNPY:
		return WriteNPY(w, m)
	}
	return &model.ConfigError{Field: "format", Value: string(format), Reason: "expected csv or npy"}
}

// Exporter writes finished sessions to a directory
type Exporter struct {
	directory string
	format    Format
	header    bool
	logger    *zap.Logger
}

// NewExporter creates an exporter
func NewExporter(directory string, format Format, logger *zap.Logger) *Exporter {
	return &Exporter{
		directory: directory,
		format:    format,
		logger:    logger.With(zap.String("component", "exporter")),
	}
}

// Export writes <id>.<format> and <id>.yaml into the export directory and
// returns their paths
func (e *Exporter) Export(session *model.Session) (dataPath, manifestPath string, err error) {
	return e.ExportTo(session, filepath.Join(e.directory, session.ID.String()+e.format.Extension()))
}

// ExportTo writes the session data to dataPath and the manifest next to it,
// with the extension replaced by .yaml
func (e *Exporter) ExportTo(session *model.Session, dataPath string) (string, string, error) {
	if session.Matrix == nil {
		return "", "", fmt.Errorf("session %s has no data", session.ID)
	}

	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create export directory: %w", err)
	}

	manifestPath := strings.TrimSuffix(dataPath, filepath.Ext(dataPath)) + ".yaml"

	if err := writeFile(dataPath, func(w io.Writer) error {
		if e.format == FormatCSV {
			return WriteCSV(w, session.Matrix, e.header)
		}
		return Write(w, e.format, session.Matrix)
	}); err != nil {
		return "", "", err
	}

	manifest := NewManifest(session, filepath.Base(dataPath), e.format)
	if err := writeFile(manifestPath, func(w io.Writer) error {
		return WriteManifest(w, manifest)
	}); err != nil {
		return "", "", err
	}

	e.logger.Info("Session exported",
		zap.String("session_id", session.ID.String()),
		zap.String("data", dataPath),
		zap.Int("rows", session.Matrix.Rows()),
	)
	return dataPath, manifestPath, nil
}

// SetCSVHeader makes CSV exports start with a header row
func (e *Exporter) SetCSVHeader(header bool) {
	e.header = header
}

// Format returns the format the exporter writes
func (e *Exporter) Format() Format {
	return e.format
}

// WriteFile writes the matrix to path in the given format
func WriteFile(path string, format Format, m *model.Matrix) error {
	return writeFile(path, func(w io.Writer) error {
		return Write(w, format, m)
	})
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	return write(f)
}
