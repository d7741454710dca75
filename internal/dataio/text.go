package dataio

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// lines yields the non-blank, non-comment lines of r with their 1-based
// line numbers.
func lines(r io.Reader, fn func(lineNo int, fields []string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(lineNo, strings.Fields(line)); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return errors.NewModelError("dataio.lines", "read", err)
	}
	return nil
}

func lineError(lineNo int, format string, args ...interface{}) error {
	return errors.NewModelError("dataio.DecodeText", "format",
		errors.Newf("line %d: "+format, append([]interface{}{lineNo}, args...)...))
}

// DecodeText parses a dense or sparse text matrix.
func DecodeText(r io.Reader) (*mat.Dense, error) {
	var (
		data   []float64
		rows   int
		cols   = -1
		sparse bool
	)
	err := lines(r, func(lineNo int, fields []string) error {
		if cols < 0 && fields[0] == "sparse" {
			if len(fields) != 2 {
				return lineError(lineNo, `expected "sparse <dim>"`)
			}
			dim, err := strconv.Atoi(fields[1])
			if err != nil || dim <= 0 {
				return lineError(lineNo, "invalid sparse dimensionality %q", fields[1])
			}
			cols, sparse = dim, true
			return nil
		}
		if sparse {
			row, err := parseSparseRow(lineNo, fields, cols)
			if err != nil {
				return err
			}
			data = append(data, row...)
			rows++
			return nil
		}
		if cols < 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return lineError(lineNo, "expected %d values, got %d", cols, len(fields))
		}
		for _, tok := range fields {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return lineError(lineNo, "invalid value %q", tok)
			}
			data = append(data, v)
		}
		rows++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, errors.ErrEmptyData
	}
	return mat.NewDense(rows, cols, data), nil
}

// parseSparseRow expands "fx:value" tokens into a dense row of length dim.
func parseSparseRow(lineNo int, fields []string, dim int) ([]float64, error) {
	row := make([]float64, dim)
	seen := make(map[int]bool, len(fields))
	for _, tok := range fields {
		idx, val := tok, "1"
		if i := strings.IndexByte(tok, ':'); i >= 0 {
			idx, val = tok[:i], tok[i+1:]
		}
		fx, err := strconv.Atoi(idx)
		if err != nil || fx < 0 || fx >= dim {
			return nil, lineError(lineNo, "invalid feature# %q", idx)
		}
		if seen[fx] {
			return nil, lineError(lineNo, "feature# %d appears more than once", fx)
		}
		seen[fx] = true
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, lineError(lineNo, "invalid value %q", val)
		}
		row[fx] = v
	}
	return row, nil
}

// DecodeTextVector parses one value per line.
func DecodeTextVector(r io.Reader) ([]float64, error) {
	var out []float64
	err := lines(r, func(lineNo int, fields []string) error {
		if len(fields) != 1 {
			return lineError(lineNo, "expected one value, got %d", len(fields))
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return lineError(lineNo, "invalid value %q", fields[0])
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.ErrEmptyData
	}
	return out, nil
}
