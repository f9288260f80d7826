package records

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Placeholder is rendered for any field that is missing, null or empty.
const Placeholder = "N/A"

var ErrMalformed = errors.New("malformed record payload")

// Record is one JSON object as returned by a backend. Field order is kept
// exactly as received so inferred headers follow first-seen order.
type Record struct {
	raw string
}

// Parse validates raw as a JSON object.
func Parse(raw string) (Record, error) {
	raw = strings.TrimSpace(raw)
	if !gjson.Valid(raw) {
		return Record{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	if !gjson.Parse(raw).IsObject() {
		return Record{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	return Record{raw: raw}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(raw string) Record {
	r, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// Empty returns a record with no fields.
func Empty() Record {
	return Record{raw: "{}"}
}

func (r Record) Raw() string {
	if r.raw == "" {
		return "{}"
	}
	return r.raw
}

func (r Record) IsZero() bool {
	return r.raw == "" || r.raw == "{}"
}

func (r Record) MarshalJSON() ([]byte, error) {
	return []byte(r.Raw()), nil
}

func (r *Record) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Get resolves a dot-separated path. Each segment is matched literally; a
// dot inside a field name is written as `\.` (see FieldPath).
func (r Record) Get(path string) gjson.Result {
	return gjson.Get(r.Raw(), escapePath(path))
}

func (r Record) Has(path string) bool {
	return r.Get(path).Exists()
}

// Text formats the value at path for display.
func (r Record) Text(path string) string {
	v := r.Get(path)
	if !v.Exists() {
		return Placeholder
	}
	switch v.Type {
	case gjson.Null:
		return Placeholder
	case gjson.String:
		if strings.TrimSpace(v.Str) == "" {
			return Placeholder
		}
		return v.Str
	case gjson.JSON:
		if v.IsArray() {
			parts := make([]string, 0, len(v.Array()))
			for _, item := range v.Array() {
				if item.IsObject() || item.IsArray() {
					parts = append(parts, item.Raw)
					continue
				}
				if s := strings.TrimSpace(item.String()); s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) == 0 {
				return Placeholder
			}
			return strings.Join(parts, ", ")
		}
		return v.Raw
	default:
		return v.String()
	}
}

func (r Record) Bool(path string) bool {
	return r.Get(path).Bool()
}

// Key returns the identity value stored under field, or "" when absent.
func (r Record) Key(field string) string {
	v := r.Get(field)
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	return strings.TrimSpace(v.String())
}

// Strings reads a string or an array of strings.
func (r Record) Strings(path string) []string {
	v := r.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	if !v.IsArray() {
		if s := strings.TrimSpace(v.String()); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, item := range v.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Fields lists the top-level field names in order.
func (r Record) Fields() []string {
	var names []string
	gjson.Parse(r.Raw()).ForEach(func(key, _ gjson.Result) bool {
		names = append(names, key.String())
		return true
	})
	return names
}

// Set returns a copy with path set to value. New fields are appended.
func (r Record) Set(path string, value any) (Record, error) {
	out, err := sjson.Set(r.Raw(), escapePath(path), value)
	if err != nil {
		return r, fmt.Errorf("set %s: %w", path, err)
	}
	return Record{raw: out}, nil
}

// Without returns a copy with path removed.
func (r Record) Without(path string) Record {
	out, err := sjson.Delete(r.Raw(), escapePath(path))
	if err != nil {
		return r
	}
	return Record{raw: out}
}

// FieldPath turns a top-level field name into a path that Get resolves to
// that field even when the name contains dots.
func FieldPath(name string) string {
	return strings.ReplaceAll(name, ".", `\.`)
}

// SplitPath splits path on the dots that are not written as `\.`.
func SplitPath(path string) []string {
	var segments []string
	var cur strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '\\' && i+1 < len(path) && path[i+1] == '.' {
			cur.WriteByte('.')
			i++
			continue
		}
		if c == '.' {
			segments = append(segments, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	return append(segments, cur.String())
}

func escapePath(path string) string {
	segments := SplitPath(path)
	for i, seg := range segments {
		segments[i] = escapeSegment(seg)
	}
	return strings.Join(segments, ".")
}

func escapeSegment(seg string) string {
	var b strings.Builder
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		if !safePathChar(c) {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func safePathChar(c byte) bool {
	return c <= ' ' || c > '~' || c == '_' || c == '-' || c == ':' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
