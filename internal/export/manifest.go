// internal/export/manifest.go
package export

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"dmm-service/internal/model"
)

// Manifest describes an exported run
type Manifest struct {
	SessionID    string   `yaml:"session_id"`
	Status       string   `yaml:"status"`
	Mode         string   `yaml:"mode"`
	Devices      []string `yaml:"devices"`
	TickInterval string   `yaml:"tick_interval"`
	Duration     string   `yaml:"duration"`
	Range        string   `yaml:"range"`
	Resolution   string   `yaml:"resolution"`
	Trigger      string   `yaml:"trigger,omitempty"`
	Rows         int      `yaml:"rows"`
	Columns      []string `yaml:"columns"`
	// Shape is always (rows, columns). FileShape is set when the data file
	// stores a different shape: npy has no empty 2-D form, so a run without
	// rows is stored as (0,).
	Shape       []int      `yaml:"shape,flow"`
	FileShape   []int      `yaml:"file_shape,flow,omitempty"`
	StartedAt   time.Time  `yaml:"started_at"`
	CompletedAt *time.Time `yaml:"completed_at,omitempty"`
	Error       string     `yaml:"error,omitempty"`
	DataFile    string     `yaml:"data_file"`
	Format      Format     `yaml:"format"`
}

// NewManifest builds the manifest for a finished session
func NewManifest(session *model.Session, dataFile string, format Format) *Manifest {
	m := &Manifest{
		SessionID:    session.ID.String(),
		Status:       string(session.Status),
		Mode:         session.Params.Mode.String(),
		Devices:      append([]string{}, session.Devices...),
		TickInterval: session.Params.TickInterval.String(),
		Duration:     session.Params.Duration.String(),
		Range:        session.Params.Range.String(),
		Resolution:   session.Params.Resolution.String(),
		Trigger:      string(session.Params.Trigger),
		Rows:         session.Rows,
		Columns:      append([]string{"elapsed"}, session.Devices...),
		StartedAt:    session.StartedAt,
		CompletedAt:  session.CompletedAt,
		DataFile:     dataFile,
		Format:       format,
	}
	m.Shape = []int{m.Rows, len(m.Columns)}
	if session.Matrix != nil {
		m.Shape[0] = session.Matrix.Rows()
	}
	if format == FormatNPY && m.Shape[0] == 0 {
		m.FileShape = []int{0}
	}
	if session.ErrorMessage != nil {
		m.Error = *session.ErrorMessage
	}
	return m
}

// WriteManifest writes the manifest as YAML
func WriteManifest(w io.Writer, m *Manifest) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return enc.Close()
}

// ReadManifest decodes a manifest written by WriteManifest
func ReadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return &m, nil
}
