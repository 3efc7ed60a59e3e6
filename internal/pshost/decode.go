package pshost

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ValueKey holds scalar pipeline output, which has no property names.
const ValueKey = "Value"

// decodeOutput turns the serialized pipeline into one map per output object.
// JSON is a subset of YAML, so the yaml decoder reads it directly.
func decodeOutput(out []byte) ([]map[string]any, error) {
	out = bytes.TrimSpace(bytes.TrimPrefix(out, []byte("\xef\xbb\xbf")))
	if len(out) == 0 {
		return nil, nil
	}

	var items []any
	if err := yaml.Unmarshal(out, &items); err != nil {
		var single any
		if err2 := yaml.Unmarshal(out, &single); err2 != nil {
			return nil, fmt.Errorf("decode automation output: %w", err)
		}
		items = []any{single}
	}

	rows := make([]map[string]any, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case nil:
			continue
		case map[string]any:
			rows = append(rows, v)
		default:
			rows = append(rows, map[string]any{ValueKey: v})
		}
	}
	return rows, nil
}

// Decode maps rows onto out, a pointer to a slice, by re-encoding them
// through yaml so struct yaml tags name the properties.
func Decode(rows []map[string]any, out any) error {
	return remarshal(rows, out)
}

// DecodeFirst maps the first row onto out, a pointer to a struct.
func DecodeFirst(rows []map[string]any, out any) error {
	if len(rows) == 0 {
		return fmt.Errorf("decode automation output: no output")
	}
	return remarshal(rows[0], out)
}

func remarshal(in, out any) error {
	raw, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("re-encode automation output: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode automation output: %w", err)
	}
	return nil
}

// Values returns the scalar outputs of rows as strings.
func Values(rows []map[string]any) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if v, ok := r[ValueKey]; ok && v != nil {
			out = append(out, fmt.Sprint(v))
		}
	}
	return out
}

// First returns the first scalar output, or "" when there is none.
func First(rows []map[string]any) string {
	if v := Values(rows); len(v) > 0 {
		return v[0]
	}
	return ""
}
