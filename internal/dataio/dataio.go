// Package dataio loads training matrices and vectors from disk and writes
// predictions back.
//
// Two encodings are understood. Files ending in ".npy" are NumPy arrays
// (little-endian float64, float32, int64 or int32; C or Fortran order).
// Anything else is whitespace separated text with one example per line.
// Lines starting with '#' are skipped. A text file whose first line is
// "sparse <dim>" holds one example per line as "fx:value" tokens, where a
// bare "fx" means value 1.
package dataio

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/pkg/log"
)

const maxLineBytes = 64 << 20

// IsNpy reports whether path is treated as a NumPy file.
func IsNpy(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".npy")
}

// ReadMatrix reads an examples-by-features matrix. A one-dimensional .npy
// array is read as a single feature column.
func ReadMatrix(path string) (*mat.Dense, error) {
	const op = "dataio.ReadMatrix"
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewModelError(op, "open", err)
	}
	defer f.Close()

	var m *mat.Dense
	if IsNpy(path) {
		m, err = decodeNpyMatrix(f)
	} else {
		m, err = DecodeText(f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s: %s", op, path)
	}
	rows, cols := m.Dims()
	log.GetLoggerWithName("rgf.dataio").Debug("Loaded matrix",
		log.PathKey, path,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
	)
	return m, nil
}

// ReadVector reads a target or weight vector. Text files hold one value per
// line. A .npy file may be one-dimensional or a single row or column.
func ReadVector(path string) ([]float64, error) {
	const op = "dataio.ReadVector"
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewModelError(op, "open", err)
	}
	defer f.Close()

	var v []float64
	if IsNpy(path) {
		v, err = decodeNpyVector(f)
	} else {
		v, err = DecodeTextVector(f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s: %s", op, path)
	}
	return v, nil
}

// WriteVector writes one value per example, as a 1-D float64 array when
// path ends in ".npy" and as text otherwise.
func WriteVector(path string, v []float64) (err error) {
	const op = "dataio.WriteVector"
	f, err := os.Create(path)
	if err != nil {
		return errors.NewModelError(op, "create", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.NewModelError(op, "close", cerr)
		}
	}()

	if IsNpy(path) {
		if err := npyio.Write(f, v); err != nil {
			return errors.NewModelError(op, "write", err)
		}
		return nil
	}
	w := bufio.NewWriter(f)
	for _, x := range v {
		w.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return errors.NewModelError(op, "write", err)
	}
	return nil
}

// decodeNpy returns the array contents as float64 in C order together with
// its shape.
func decodeNpy(r io.Reader) ([]float64, []int, error) {
	const op = "dataio.decodeNpy"
	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, nil, errors.NewModelError(op, "format", err)
	}
	descr := nr.Header.Descr
	shape := append([]int(nil), descr.Shape...)
	if len(shape) > 2 {
		return nil, nil, errors.NewModelError(op, "format", errors.Newf("%d-dimensional array", len(shape)))
	}

	var data []float64
	switch strings.TrimLeft(descr.Type, "<|=") {
	case "f8":
		err = nr.Read(&data)
	case "f4":
		var raw []float32
		if err = nr.Read(&raw); err == nil {
			data = widen(raw)
		}
	case "i8":
		var raw []int64
		if err = nr.Read(&raw); err == nil {
			data = widen(raw)
		}
	case "i4":
		var raw []int32
		if err = nr.Read(&raw); err == nil {
			data = widen(raw)
		}
	default:
		return nil, nil, errors.NewModelError(op, "format", errors.Newf("unsupported dtype %q", descr.Type))
	}
	if err != nil {
		return nil, nil, errors.NewModelError(op, "read", err)
	}

	if descr.Fortran && len(shape) == 2 {
		data = fromColumnMajor(data, shape[0], shape[1])
	}
	return data, shape, nil
}

func decodeNpyMatrix(r io.Reader) (*mat.Dense, error) {
	data, shape, err := decodeNpy(r)
	if err != nil {
		return nil, err
	}
	rows, cols := len(data), 1
	if len(shape) == 2 {
		rows, cols = shape[0], shape[1]
	}
	if rows == 0 || cols == 0 {
		return nil, errors.ErrEmptyData
	}
	return mat.NewDense(rows, cols, data), nil
}

func decodeNpyVector(r io.Reader) ([]float64, error) {
	data, shape, err := decodeNpy(r)
	if err != nil {
		return nil, err
	}
	if len(shape) == 2 && shape[0] != 1 && shape[1] != 1 {
		return nil, errors.NewValueError("dataio.ReadVector",
			"expected a vector, got shape "+strconv.Itoa(shape[0])+"x"+strconv.Itoa(shape[1]))
	}
	if len(data) == 0 {
		return nil, errors.ErrEmptyData
	}
	return data, nil
}

func widen[T float32 | int64 | int32](raw []T) []float64 {
	out := make([]float64, len(raw))
	for i, x := range raw {
		out[i] = float64(x)
	}
	return out
}

func fromColumnMajor(data []float64, rows, cols int) []float64 {
	out := make([]float64, len(data))
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			out[i*cols+j] = data[j*rows+i]
		}
	}
	return out
}
