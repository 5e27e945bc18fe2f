// Package frame provides a small columnar table used as the interchange
// format between the upstream adapter and the transform stage. Columns are
// named, values are untyped until read, and typed accessors reject values
// that cannot be represented in the requested type.
package frame

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leeksaver/leeksaver/internal/errkind"
)

// Frame is an ordered set of named columns of equal length.
type Frame struct {
	cols  []string
	index map[string]int
	data  [][]any // data[colIdx][rowIdx]
	rows  int
}

// New creates an empty frame with the given column names.
func New(cols ...string) *Frame {
	f := &Frame{
		cols:  append([]string(nil), cols...),
		index: make(map[string]int, len(cols)),
		data:  make([][]any, len(cols)),
	}
	for i, c := range cols {
		f.index[c] = i
	}
	return f
}

// FromRecords builds a frame from row-oriented maps, using the provided
// column order. Missing keys become nil cells.
func FromRecords(cols []string, records []map[string]any) *Frame {
	f := New(cols...)
	for _, rec := range records {
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = rec[c]
		}
		f.AppendRow(row...)
	}
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int { return f.rows }

// Columns returns the column names in order.
func (f *Frame) Columns() []string { return append([]string(nil), f.cols...) }

// HasColumn reports whether the named column exists.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// AppendRow appends one row. The number of values must match the column
// count; it panics otherwise, matching the slice-bounds contract of the
// builders that call it.
func (f *Frame) AppendRow(values ...any) {
	if len(values) != len(f.cols) {
		panic(fmt.Sprintf("frame: AppendRow got %d values for %d columns", len(values), len(f.cols)))
	}
	for i, v := range values {
		f.data[i] = append(f.data[i], v)
	}
	f.rows++
}

// Require verifies that every named column is present, returning a
// schema-drift error naming the first missing column otherwise.
func (f *Frame) Require(cols ...string) error {
	for _, c := range cols {
		if !f.HasColumn(c) {
			return errkind.Newf(errkind.SchemaDrift, "required column %q missing (have: %s)",
				c, strings.Join(f.cols, ", "))
		}
	}
	return nil
}

// Rename renames columns in place per the mapping. Unknown source names are
// ignored so adapters can share one mapping across similar endpoints.
func (f *Frame) Rename(mapping map[string]string) {
	for i, c := range f.cols {
		if to, ok := mapping[c]; ok {
			delete(f.index, c)
			f.cols[i] = to
			f.index[to] = i
		}
	}
}

// Select returns a new frame holding only the named columns, in the given
// order. Missing columns yield a schema-drift error.
func (f *Frame) Select(cols ...string) (*Frame, error) {
	if err := f.Require(cols...); err != nil {
		return nil, err
	}
	out := New(cols...)
	out.rows = f.rows
	for i, c := range cols {
		src := f.data[f.index[c]]
		out.data[i] = append([]any(nil), src...)
	}
	return out, nil
}

// Value returns the raw cell at (row, col).
func (f *Frame) Value(row int, col string) (any, error) {
	idx, ok := f.index[col]
	if !ok {
		return nil, errkind.Newf(errkind.SchemaDrift, "column %q missing", col)
	}
	if row < 0 || row >= f.rows {
		return nil, fmt.Errorf("frame: row %d out of range [0,%d)", row, f.rows)
	}
	return f.data[idx][row], nil
}

// SetValue overwrites the cell at (row, col).
func (f *Frame) SetValue(row int, col string, v any) error {
	idx, ok := f.index[col]
	if !ok {
		return errkind.Newf(errkind.SchemaDrift, "column %q missing", col)
	}
	if row < 0 || row >= f.rows {
		return fmt.Errorf("frame: row %d out of range [0,%d)", row, f.rows)
	}
	f.data[idx][row] = v
	return nil
}

// Float64 reads the cell as a float64. Numeric strings are parsed; nil and
// unparseable values are rejected.
func (f *Frame) Float64(row int, col string) (float64, error) {
	v, err := f.Value(row, col)
	if err != nil {
		return 0, err
	}
	return toFloat64(v, col)
}

// Int64 reads the cell as an int64. Floats with a fractional part and
// unparseable strings are rejected.
func (f *Frame) Int64(row int, col string) (int64, error) {
	v, err := f.Value(row, col)
	if err != nil {
		return 0, err
	}
	return toInt64(v, col)
}

// String reads the cell as a string. Non-string scalars are formatted.
func (f *Frame) String(row int, col string) (string, error) {
	v, err := f.Value(row, col)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(s, 10), nil
	case int:
		return strconv.Itoa(s), nil
	case bool:
		return strconv.FormatBool(s), nil
	default:
		return fmt.Sprintf("%v", s), nil
	}
}

// Time reads the cell as a timestamp, trying the given layouts in order.
func (f *Frame) Time(row int, col string, layouts ...string) (time.Time, error) {
	s, err := f.String(row, col)
	if err != nil {
		return time.Time{}, err
	}
	if s == "" {
		return time.Time{}, fmt.Errorf("frame: empty time in column %q", col)
	}
	if len(layouts) == 0 {
		layouts = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("frame: cannot parse %q as time in column %q", s, col)
}

// IsNil reports whether the cell is nil or an empty string.
func (f *Frame) IsNil(row int, col string) bool {
	v, err := f.Value(row, col)
	if err != nil {
		return true
	}
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func toFloat64(v any, col string) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" || s == "-" {
			return 0, fmt.Errorf("frame: empty numeric in column %q", col)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("frame: %q is not a float in column %q", n, col)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("frame: nil value in column %q", col)
	default:
		return 0, fmt.Errorf("frame: %T is not numeric in column %q", v, col)
	}
}

func toInt64(v any, col string) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("frame: %v has a fractional part in column %q", n, col)
		}
		return int64(n), nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" || s == "-" {
			return 0, fmt.Errorf("frame: empty numeric in column %q", col)
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			// Upstream sometimes ships integers as "1.23e+08".
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil || f != float64(int64(f)) {
				return 0, fmt.Errorf("frame: %q is not an integer in column %q", n, col)
			}
			return int64(f), nil
		}
		return i, nil
	case nil:
		return 0, fmt.Errorf("frame: nil value in column %q", col)
	default:
		return 0, fmt.Errorf("frame: %T is not an integer in column %q", v, col)
	}
}
