package model

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Sample is one row of a measurement run
type Sample struct {
	Elapsed  float64   `json:"elapsed"`
	Readings []float64 `json:"readings"`
}

// Row returns the sample as elapsed time followed by readings
func (s Sample) Row() []float64 {
	row := make([]float64, 0, len(s.Readings)+1)
	row = append(row, s.Elapsed)
	return append(row, s.Readings...)
}

// String renders the row tab separated
func (s Sample) String() string {
	fields := make([]string, 0, len(s.Readings)+1)
	for _, v := range s.Row() {
		fields = append(fields, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.Join(fields, "\t")
}

// Matrix is an ordered sequence of samples with a fixed device count
type Matrix struct {
	Devices []string `json:"devices"`
	Samples []Sample `json:"samples"`
}

// NewMatrix creates an empty matrix for the given device names
func NewMatrix(devices []string) *Matrix {
	return &Matrix{
		Devices: append([]string(nil), devices...),
		Samples: []Sample{},
	}
}

// Append adds a sample; it must carry exactly one reading per device
func (m *Matrix) Append(s Sample) error {
	if len(s.Readings) != len(m.Devices) {
		return fmt.Errorf("sample has %d readings for %d devices", len(s.Readings), len(m.Devices))
	}
	m.Samples = append(m.Samples, s)
	return nil
}

// Rows returns the number of samples
func (m *Matrix) Rows() int {
	return len(m.Samples)
}

// Cols returns 1 + device count
func (m *Matrix) Cols() int {
	return len(m.Devices) + 1
}

// Dense returns a copy of the matrix as a gonum dense matrix, or nil when empty
func (m *Matrix) Dense() *mat.Dense {
	if m.Rows() == 0 {
		return nil
	}
	data := make([]float64, 0, m.Rows()*m.Cols())
	for _, s := range m.Samples {
		data = append(data, s.Row()...)
	}
	return mat.NewDense(m.Rows(), m.Cols(), data)
}

// Clone returns a deep copy
func (m *Matrix) Clone() *Matrix {
	out := NewMatrix(m.Devices)
	out.Samples = make([]Sample, len(m.Samples))
	for i, s := range m.Samples {
		out.Samples[i] = Sample{
			Elapsed:  s.Elapsed,
			Readings: append([]float64(nil), s.Readings...),
		}
	}
	return out
}
