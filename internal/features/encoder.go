// Package features turns raw form values into the numeric feature row the
// scaler and classifier expect.
package features

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"dropout-risk/internal/schema"
)

var (
	ErrUnknownLabel   = errors.New("unknown categorical label")
	ErrInvalidNumber  = errors.New("invalid numeric value")
	ErrOutOfRange     = errors.New("value out of range")
	ErrMissingColumn  = errors.New("missing schema column")
	ErrUnknownColumn  = errors.New("column not in schema")
	ErrNotWholeNumber = errors.New("value must be a whole number")
)

// RawInput holds collected values in their natural (string) form, keyed by field name.
type RawInput map[string]string

// Row is one encoded feature row. Values[i] belongs to Columns[i].
type Row struct {
	Columns []string
	Values  []float64
	Filled  []string // columns defaulted to zero because the input lacked them
}

// Get returns the value of a named column.
func (r Row) Get(name string) (float64, bool) {
	for i, c := range r.Columns {
		if c == name {
			return r.Values[i], true
		}
	}
	return 0, false
}

// Map returns the row as a name to value map.
func (r Row) Map() map[string]float64 {
	m := make(map[string]float64, len(r.Columns))
	for i, c := range r.Columns {
		m[c] = r.Values[i]
	}
	return m
}

// Encode maps categorical labels, parses numeric values and lays them out in
// cols order. Columns absent from raw are set to 0 and listed in Row.Filled.
// Keys in raw that are not in cols are ignored.
func Encode(raw RawInput, cols []string, fields schema.FieldSet) (Row, error) {
	row := Row{
		Columns: append([]string(nil), cols...),
		Values:  make([]float64, len(cols)),
	}

	for i, col := range cols {
		v, ok := raw[col]
		if !ok {
			row.Filled = append(row.Filled, col)
			continue
		}

		f, known := fields.Lookup(col)
		if !known {
			x, err := parseNumber(col, v)
			if err != nil {
				return Row{}, err
			}
			row.Values[i] = x
			continue
		}

		x, err := encodeValue(f, v)
		if err != nil {
			return Row{}, err
		}
		row.Values[i] = x
	}

	return row, nil
}

// Encoder binds Encode to a schema. Strict mode refuses to zero-fill missing
// columns and rejects keys outside the schema.
type Encoder struct {
	Columns []string
	Fields  schema.FieldSet
	Strict  bool
}

// NewEncoder returns an encoder over the training schema.
func NewEncoder(strict bool) *Encoder {
	return &Encoder{
		Columns: schema.Columns,
		Fields:  schema.Fields,
		Strict:  strict,
	}
}

func (e *Encoder) Encode(raw RawInput) (Row, error) {
	if e.Strict {
		if extra := unknownKeys(raw, e.Columns); len(extra) > 0 {
			return Row{}, fmt.Errorf("%w: %s", ErrUnknownColumn, strings.Join(extra, ", "))
		}
	}

	row, err := Encode(raw, e.Columns, e.Fields)
	if err != nil {
		return Row{}, err
	}

	if e.Strict && len(row.Filled) > 0 {
		return Row{}, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(row.Filled, ", "))
	}
	return row, nil
}

func encodeValue(f schema.Field, v string) (float64, error) {
	if f.Kind == schema.Categorical {
		code, ok := f.Labels[v]
		if !ok {
			return 0, fmt.Errorf("%w: %s=%q (want one of %s)", ErrUnknownLabel, f.Name, v, strings.Join(f.Options, ", "))
		}
		return float64(code), nil
	}

	x, err := parseNumber(f.Name, v)
	if err != nil {
		return 0, err
	}
	if f.Kind == schema.Integer && x != math.Trunc(x) {
		return 0, fmt.Errorf("%w: %s=%s", ErrNotWholeNumber, f.Name, v)
	}
	if x < f.Min || x > f.Max {
		return 0, fmt.Errorf("%w: %s=%s not in [%g, %g]", ErrOutOfRange, f.Name, v, f.Min, f.Max)
	}
	return x, nil
}

func parseNumber(name, v string) (float64, error) {
	x, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidNumber, name, v)
	}
	return x, nil
}

func unknownKeys(raw RawInput, cols []string) []string {
	known := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		known[c] = struct{}{}
	}
	var extra []string
	for k := range raw {
		if _, ok := known[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}
