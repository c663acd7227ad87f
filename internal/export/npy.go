// internal/export/npy.go
package export

import (
	"fmt"
	"io"

	"github.com/sbinet/npyio"

	"dmm-service/internal/model"
)

// WriteNPY writes the matrix as a 2-D float64 NumPy array. npyio derives the
// shape of an empty value as (0,), so a matrix without rows is written as an
// empty 1-D array and its manifest records the (0, columns) shape.
func WriteNPY(w io.Writer, m *model.Matrix) error {
	dense := m.Dense()
	if dense == nil {
		if err := npyio.Write(w, []float64{}); err != nil {
			return fmt.Errorf("failed to write npy: %w", err)
		}
		return nil
	}

	if err := npyio.Write(w, dense); err != nil {
		return fmt.Errorf("failed to write npy: %w", err)
	}
	return nil
}
