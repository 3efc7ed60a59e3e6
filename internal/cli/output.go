package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Render writes v to w in the given format. Tables are built from the json
// tags of a struct or a slice of structs.
func Render(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toPlain(v)); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable, "":
		return renderTable(w, v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// toPlain round-trips v through JSON so YAML output uses the same keys.
func toPlain(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func renderTable(w io.Writer, v any) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	rv := reflect.Indirect(reflect.ValueOf(v))
	switch rv.Kind() {
	case reflect.Slice:
		if rv.Len() == 0 {
			fmt.Fprintln(tw, "No resources found.")
			break
		}
		elem := reflect.Indirect(rv.Index(0))
		if elem.Kind() != reflect.Struct {
			for i := 0; i < rv.Len(); i++ {
				fmt.Fprintln(tw, rv.Index(i).Interface())
			}
			break
		}
		cols := columns(elem.Type())
		headers := make([]string, len(cols))
		for i, c := range cols {
			headers[i] = strings.ToUpper(c.name)
		}
		fmt.Fprintln(tw, strings.Join(headers, "\t"))
		for i := 0; i < rv.Len(); i++ {
			row := reflect.Indirect(rv.Index(i))
			vals := make([]string, len(cols))
			for j, c := range cols {
				vals[j] = cell(row.Field(c.index))
			}
			fmt.Fprintln(tw, strings.Join(vals, "\t"))
		}
	case reflect.Struct:
		for _, c := range columns(rv.Type()) {
			fmt.Fprintf(tw, "%s:\t%s\n", c.name, cell(rv.Field(c.index)))
		}
	default:
		fmt.Fprintln(tw, rv.Interface())
	}
	return tw.Flush()
}

type column struct {
	name  string
	index int
}

func columns(t reflect.Type) []column {
	var cols []column
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" {
			if tag == "-" {
				continue
			}
			name = tag
		}
		cols = append(cols, column{name: name, index: i})
	}
	return cols
}

func cell(v reflect.Value) string {
	switch x := v.Interface().(type) {
	case time.Time:
		if x.IsZero() {
			return "-"
		}
		return x.UTC().Format(time.RFC3339)
	case string:
		if x == "" {
			return "-"
		}
		return x
	}
	return fmt.Sprintf("%v", v.Interface())
}
