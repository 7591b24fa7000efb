// Package data holds the dense training-data layout shared by the trainers
// and the predictors: a column-major float32 matrix plus the label, weight
// and stratum vectors that go with it.
package data

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense samples-by-variables matrix of float32 values stored
// column-major, so code that walks one variable over all samples touches
// contiguous memory.
type Matrix struct {
	rows  int
	cols  int
	cells []float32
}

// NewMatrix returns a zero-filled rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{rows: rows, cols: cols, cells: make([]float32, rows*cols)}
}

// FromRows builds a matrix from row-major slices. All rows must have the
// same length and the matrix must be non-empty.
func FromRows(rows [][]float32) (*Matrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, Errf(InvalidInput, "indata has 0 samples or 0 variables")
	}
	m := NewMatrix(len(rows), len(rows[0]))
	for i, row := range rows {
		if len(row) != m.cols {
			return nil, Errf(InvalidInput, "indata row %d has %d values, want %d", i, len(row), m.cols)
		}
		for j, v := range row {
			m.cells[j*m.rows+i] = v
		}
	}
	return m, nil
}

// FromDense converts a gonum dense matrix, narrowing the values to float32.
func FromDense(d *mat.Dense) (*Matrix, error) {
	rows, cols := d.Dims()
	if rows == 0 || cols == 0 {
		return nil, Errf(InvalidInput, "indata has 0 samples or 0 variables")
	}
	m := NewMatrix(rows, cols)
	for j := 0; j < cols; j++ {
		col := m.Col(j)
		for i := 0; i < rows; i++ {
			col[i] = float32(d.At(i, j))
		}
	}
	return m, nil
}

// Dense converts back to a gonum dense matrix.
func (m *Matrix) Dense() *mat.Dense {
	d := mat.NewDense(m.rows, m.cols, nil)
	for j := 0; j < m.cols; j++ {
		col := m.Col(j)
		for i := 0; i < m.rows; i++ {
			d.Set(i, j, float64(col[i]))
		}
	}
	return d
}

func (m *Matrix) Rows() int { return m.rows }
func (m *Matrix) Cols() int { return m.cols }

func (m *Matrix) At(i, j int) float32 { return m.cells[j*m.rows+i] }

func (m *Matrix) Set(i, j int, v float32) { m.cells[j*m.rows+i] = v }

// Col returns the backing slice for column j. Callers must treat it as
// read-only once training has started.
func (m *Matrix) Col(j int) []float32 {
	return m.cells[j*m.rows : (j+1)*m.rows]
}

// Row copies row i into buf, which must have length Cols.
func (m *Matrix) Row(i int, buf []float32) {
	for j := 0; j < m.cols; j++ {
		buf[j] = m.cells[j*m.rows+i]
	}
}

// CheckFinite fails if any cell is NaN or infinite.
func (m *Matrix) CheckFinite() error {
	for _, v := range m.cells {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return Errf(InvalidInput, "indata has values that are infinity or NaN")
		}
	}
	return nil
}
