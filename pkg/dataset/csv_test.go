package dataset

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wineCSV = `fixed acidity,volatile acidity,alcohol,quality
7.4,0.7,9.4,5
7.8,0.88,9.8,5
11.2,0.28,9.8,6
`

func TestReadCSV(t *testing.T) {
	tests := []struct {
		name    string
		content string
		rows    int
		cols    int
		wantErr bool
	}{
		{
			name:    "wine",
			content: wineCSV,
			rows:    3,
			cols:    4,
		},
		{
			name:    "spaces",
			content: "a, b\n 1, 2\n",
			rows:    1,
			cols:    2,
		},
		{
			name:    "empty",
			content: "",
			wantErr: true,
		},
		{
			name:    "header only",
			content: "a,b\n",
			wantErr: true,
		},
		{
			name:    "not a number",
			content: "a,b\n1,red\n",
			wantErr: true,
		},
		{
			name:    "ragged",
			content: "a,b\n1,2,3\n",
			wantErr: true,
		},
		{
			name:    "duplicate column",
			content: "a,a\n1,2\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadCSV(strings.NewReader(tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rows, got.Rows())
			assert.Equal(t, tt.cols, got.Cols())
		})
	}
}

func TestLoadCSVMissingFile(t *testing.T) {
	_, err := LoadCSV(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSplit(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(wineCSV))
	require.NoError(t, err)

	x, y, err := Split(frame, "quality")
	require.NoError(t, err)
	assert.Equal(t, []string{"fixed acidity", "volatile acidity", "alcohol"}, x.Columns)
	assert.Equal(t, []float64{5, 5, 6}, y)
	assert.Equal(t, []float64{7.8, 0.88, 9.8}, x.Row(1))
	assert.Equal(t, -1, x.ColumnIndex("quality"))

	// the source frame is untouched
	assert.Equal(t, 4, frame.Cols())

	_, _, err = Split(frame, "price")
	assert.ErrorIs(t, err, ErrColumnNotFound)

	single, err := ReadCSV(strings.NewReader("quality\n5\n"))
	require.NoError(t, err)
	_, _, err = Split(single, "quality")
	assert.ErrorIs(t, err, ErrNoFeatures)
}

func TestHead(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(wineCSV))
	require.NoError(t, err)

	head := frame.Head(1)
	assert.Equal(t, 1, head.Rows())
	assert.Equal(t, frame.Columns, head.Columns)
	assert.Equal(t, []float64{7.4, 0.7, 9.4, 5}, head.Row(0))

	// copies do not share storage
	head.Data.Set(0, 0, 100)
	assert.Equal(t, 7.4, frame.Data.At(0, 0))

	assert.Equal(t, 3, frame.Head(10).Rows())
}
