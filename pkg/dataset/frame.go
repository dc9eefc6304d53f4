package dataset

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrColumnNotFound = errors.New("column not found")
	ErrEmptyDataset   = errors.New("dataset has no rows")
	ErrNoFeatures     = errors.New("dataset has no feature columns")
)

// Frame is a table of float64 values with named columns, stored row-major.
type Frame struct {
	Columns []string
	Data    *mat.Dense
}

func NewFrame(columns []string, rows [][]float64) (*Frame, error) {
	if len(columns) == 0 {
		return nil, ErrNoFeatures
	}
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}
	seen := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		if _, ok := seen[col]; ok {
			return nil, fmt.Errorf("duplicate column %q", col)
		}
		seen[col] = struct{}{}
	}
	data := make([]float64, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d: expected %d values, got %d", i, len(columns), len(row))
		}
		data = append(data, row...)
	}
	return &Frame{
		Columns: append([]string(nil), columns...),
		Data:    mat.NewDense(len(rows), len(columns), data),
	}, nil
}

func (f *Frame) Rows() int {
	r, _ := f.Data.Dims()
	return r
}

func (f *Frame) Cols() int {
	return len(f.Columns)
}

func (f *Frame) ColumnIndex(name string) int {
	for i, col := range f.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

func (f *Frame) Column(name string) ([]float64, error) {
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	return mat.Col(nil, idx, f.Data), nil
}

func (f *Frame) Row(i int) []float64 {
	return mat.Row(nil, i, f.Data)
}

// Drop returns a copy of the frame without the named columns.
func (f *Frame) Drop(names ...string) (*Frame, error) {
	drop := make(map[int]struct{}, len(names))
	for _, name := range names {
		idx := f.ColumnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
		}
		drop[idx] = struct{}{}
	}
	keep := make([]int, 0, f.Cols()-len(drop))
	columns := make([]string, 0, f.Cols()-len(drop))
	for i, col := range f.Columns {
		if _, ok := drop[i]; ok {
			continue
		}
		keep = append(keep, i)
		columns = append(columns, col)
	}
	if len(keep) == 0 {
		return nil, ErrNoFeatures
	}
	rows := f.Rows()
	out := mat.NewDense(rows, len(keep), nil)
	for j, idx := range keep {
		out.SetCol(j, mat.Col(nil, idx, f.Data))
	}
	return &Frame{Columns: columns, Data: out}, nil
}

// Head returns a copy of the first n rows.
func (f *Frame) Head(n int) *Frame {
	if rows := f.Rows(); n > rows {
		n = rows
	}
	if n <= 0 {
		n = 1
	}
	out := mat.DenseCopyOf(f.Data.Slice(0, n, 0, f.Cols()))
	return &Frame{Columns: append([]string(nil), f.Columns...), Data: out}
}

// Split separates the target column from the features.
func Split(f *Frame, target string) (*Frame, []float64, error) {
	y, err := f.Column(target)
	if err != nil {
		return nil, nil, err
	}
	x, err := f.Drop(target)
	if err != nil {
		return nil, nil, err
	}
	return x, y, nil
}
