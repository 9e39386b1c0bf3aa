// Package normalize canonicalizes query result sets so that two sets compare
// equal regardless of row order and of column order within a row.
package normalize

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Column is one (name, value) cell of a row.
type Column struct {
	Name  string
	Value interface{}
}

// Row is an unordered set of columns.
type Row []Column

// Canonical returns the canonical serialization of rows.
func Canonical(rows []Row) (string, error) {
	serialized := make([]string, 0, len(rows))
	for i, row := range rows {
		s, err := canonicalRow(row)
		if err != nil {
			return "", fmt.Errorf("row %d: %w", i, err)
		}
		serialized = append(serialized, s)
	}
	sort.Strings(serialized)

	var b strings.Builder
	b.WriteByte('[')
	for i, s := range serialized {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s)
	}
	b.WriteByte(']')
	return b.String(), nil
}

// Equal reports whether a and b contain the same multiset of rows.
func Equal(a, b []Row) (bool, error) {
	if len(a) != len(b) {
		return false, nil
	}
	ca, err := Canonical(a)
	if err != nil {
		return false, err
	}
	cb, err := Canonical(b)
	if err != nil {
		return false, err
	}
	return ca == cb, nil
}

type cell struct {
	name  string
	value string
}

func canonicalRow(row Row) (string, error) {
	cells := make([]cell, 0, len(row))
	for _, col := range row {
		v, err := json.Marshal(normalizeValue(col.Value))
		if err != nil {
			return "", fmt.Errorf("column %q: %w", col.Name, err)
		}
		cells = append(cells, cell{name: col.Name, value: string(v)})
	}
	// Value breaks ties between duplicate column names.
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].name != cells[j].name {
			return cells[i].name < cells[j].name
		}
		return cells[i].value < cells[j].value
	})

	var b strings.Builder
	b.WriteByte('[')
	for i, c := range cells {
		if i > 0 {
			b.WriteByte(',')
		}
		name, _ := json.Marshal(c.name)
		b.WriteByte('[')
		b.Write(name)
		b.WriteByte(',')
		b.WriteString(c.value)
		b.WriteByte(']')
	}
	b.WriteByte(']')
	return b.String(), nil
}

// rawBytes carries text that is not valid UTF-8. It serializes as an object,
// so it never collides with a string value.
type rawBytes struct {
	Hex string `json:"hex"`
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return text(string(t))
	case string:
		return text(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return text(t.String())
	default:
		return v
	}
}

// text keeps valid UTF-8 as is. encoding/json would replace invalid bytes
// with U+FFFD and make distinct values equal.
func text(s string) interface{} {
	if utf8.ValidString(s) {
		return s
	}
	return rawBytes{Hex: hex.EncodeToString([]byte(s))}
}
