// internal/export/csv.go
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"dmm-service/internal/model"
)

// CSVValueFormat renders every cell, elapsed time included
const CSVValueFormat = "%10.8f"

// WriteCSV writes one comma separated line per sample. With header the first
// line names the columns: "elapsed" followed by the device names.
func WriteCSV(w io.Writer, m *model.Matrix, header bool) error {
	cw := csv.NewWriter(w)

	if header {
		if err := cw.Write(append([]string{"elapsed"}, m.Devices...)); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
	}

	record := make([]string, m.Cols())
	for i, sample := range m.Samples {
		for j, v := range sample.Row() {
			record[j] = fmt.Sprintf(CSVValueFormat, v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
