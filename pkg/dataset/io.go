package dataset

import (
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Load reads a counts matrix from path, choosing the format by extension:
// ".fvecs" for binary float vectors (one observation per vector) and
// ".csv"/".tsv" for delimited text with a header row of feature names and
// observation names in the first column.
//
// The loaded matrix is also stored as the "counts" layer.
func Load(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	var ds *Dataset
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".fvecs":
		ds, err = ReadFvecs(f)
	case ".csv":
		ds, err = ReadCSV(f, ',')
	case ".tsv":
		ds, err = ReadCSV(f, '\t')
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	ds.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ds, nil
}

// ReadFvecs reads observations from an io.Reader in FVECS format.
//
// FVECS format:
// For each vector:
//   - 4 bytes: dimension (int32, little-endian)
//   - dimension * 4 bytes: float32 values (little-endian)
//
// All vectors must have the same dimension.
func ReadFvecs(r io.Reader) (*Dataset, error) {
	var rows [][]float64
	var expectedDim int32 = -1

	for {
		var dim int32
		err := binary.Read(r, binary.LittleEndian, &dim)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read dimension: %w", err)
		}
		if dim <= 0 {
			return nil, fmt.Errorf("invalid dimension %d", dim)
		}

		if expectedDim == -1 {
			expectedDim = dim
		} else if dim != expectedDim {
			return nil, fmt.Errorf("inconsistent dimensions: expected %d, got %d", expectedDim, dim)
		}

		floats := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, floats); err != nil {
			return nil, fmt.Errorf("failed to read vector values: %w", err)
		}

		row := make([]float64, dim)
		for i, v := range floats {
			row[i] = float64(v)
		}
		rows = append(rows, row)
	}

	return withCounts(FromRows(rows, nil, nil))
}

// WriteFvecs writes the rows of m to w in FVECS format.
func WriteFvecs(w io.Writer, m mat.Matrix) error {
	n, d := m.Dims()
	floats := make([]float32, d)
	for i := 0; i < n; i++ {
		if err := binary.Write(w, binary.LittleEndian, int32(d)); err != nil {
			return fmt.Errorf("failed to write dimension: %w", err)
		}
		for j := range floats {
			floats[j] = float32(m.At(i, j))
		}
		if err := binary.Write(w, binary.LittleEndian, floats); err != nil {
			return fmt.Errorf("failed to write vector values: %w", err)
		}
	}
	return nil
}

// ReadCSV reads a delimited counts table. The first header cell is ignored,
// the remaining header cells name the features; each following record is an
// observation name followed by one value per feature.
func ReadCSV(r io.Reader, delim rune) (*Dataset, error) {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("header must name at least one feature")
	}
	varNames := header[1:]

	var obsNames []string
	var rows [][]float64
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make([]float64, len(varNames))
		for j, cell := range rec[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %q: %w", line, varNames[j], err)
			}
			row[j] = v
		}
		obsNames = append(obsNames, rec[0])
		rows = append(rows, row)
	}

	return withCounts(FromRows(rows, obsNames, varNames))
}

// WriteEmbeddingCSV writes an embedding with observation names as the first
// column and one column per embedding dimension.
func WriteEmbeddingCSV(w io.Writer, obsNames []string, emb mat.Matrix) error {
	n, d := emb.Dims()
	if len(obsNames) != n {
		return fmt.Errorf("%w: %d names for %d rows", ErrShapeMismatch, len(obsNames), n)
	}

	cw := csv.NewWriter(w)
	header := make([]string, d+1)
	header[0] = "obs"
	for j := 0; j < d; j++ {
		header[j+1] = fmt.Sprintf("dim_%d", j+1)
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	rec := make([]string, d+1)
	for i := 0; i < n; i++ {
		rec[0] = obsNames[i]
		for j := 0; j < d; j++ {
			rec[j+1] = strconv.FormatFloat(emb.At(i, j), 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveEmbedding writes emb to path as CSV, or FVECS for a ".fvecs" extension.
func SaveEmbedding(path string, obsNames []string, emb mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".fvecs") {
		return WriteFvecs(f, emb)
	}
	return WriteEmbeddingCSV(f, obsNames, emb)
}

func withCounts(ds *Dataset, err error) (*Dataset, error) {
	if err != nil {
		return nil, err
	}
	ds.Layers[LayerCounts] = ds.X
	return ds, nil
}
