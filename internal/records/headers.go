package records

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Column is one rendered table column.
type Column struct {
	Label string `yaml:"label" json:"label"`
	Path  string `yaml:"path" json:"path"`
}

// Row is one rendered table row. Ordinal is 1-based.
type Row struct {
	Ordinal int
	Key     string
	Cells   []string
	Record  Record
}

// ParseList accepts either a bare JSON array of objects or an object
// wrapping the array under "data".
func ParseList(body []byte) ([]Record, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	doc := gjson.ParseBytes(body)
	if doc.IsObject() {
		data := doc.Get("data")
		if !data.Exists() {
			return nil, fmt.Errorf("%w: missing data field", ErrMalformed)
		}
		doc = data
	}
	if !doc.IsArray() {
		return nil, fmt.Errorf("%w: expected a list", ErrMalformed)
	}
	items := doc.Array()
	out := make([]Record, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return nil, fmt.Errorf("%w: item %d is not an object", ErrMalformed, i)
		}
		out = append(out, Record{raw: item.Raw})
	}
	return out, nil
}

// Flatten lists every leaf path of r in first-seen order. Nested objects are
// descended; arrays, primitives and null are leaves. Paths with any segment
// containing "id" (any case) are dropped. Dots inside a field name are
// escaped so the path resolves back to the same field.
func Flatten(r Record) []string {
	var out []string
	seen := map[string]bool{}

	var walk func(prefix []string, node gjson.Result)
	walk = func(prefix []string, node gjson.Result) {
		node.ForEach(func(key, value gjson.Result) bool {
			segments := make([]string, len(prefix), len(prefix)+1)
			copy(segments, prefix)
			segments = append(segments, key.String())
			if value.IsObject() {
				walk(segments, value)
				return true
			}
			if excludedPath(segments) {
				return true
			}
			escaped := make([]string, len(segments))
			for i, seg := range segments {
				escaped[i] = FieldPath(seg)
			}
			path := strings.Join(escaped, ".")
			if !seen[path] {
				seen[path] = true
				out = append(out, path)
			}
			return true
		})
	}
	walk(nil, gjson.Parse(r.Raw()))
	return out
}

// InferHeaders derives headers from the first record only.
func InferHeaders(list []Record) []string {
	if len(list) == 0 {
		return nil
	}
	return Flatten(list[0])
}

// ColumnsFor prefers declared columns and falls back to inferred headers.
func ColumnsFor(list []Record, declared []Column) []Column {
	if len(declared) > 0 {
		out := make([]Column, len(declared))
		copy(out, declared)
		return out
	}
	headers := InferHeaders(list)
	cols := make([]Column, 0, len(headers))
	for _, h := range headers {
		cols = append(cols, Column{Label: strings.Join(SplitPath(h), "."), Path: h})
	}
	return cols
}

// Rows renders list against cols.
func Rows(list []Record, cols []Column, idField string) []Row {
	rows := make([]Row, 0, len(list))
	for i, rec := range list {
		cells := make([]string, len(cols))
		for j, col := range cols {
			cells[j] = rec.Text(col.Path)
		}
		rows = append(rows, Row{
			Ordinal: i + 1,
			Key:     rec.Key(idField),
			Cells:   cells,
			Record:  rec,
		})
	}
	return rows
}

func excludedPath(segments []string) bool {
	for _, seg := range segments {
		if strings.Contains(strings.ToLower(seg), "id") {
			return true
		}
	}
	return false
}
