// Package csvexport renders tabular dashboard data as CSV documents.
package csvexport

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Column maps a row key to its header label.
type Column struct {
	Key   string
	Label string
}

// Row is one record keyed by Column.Key. Missing keys and nil values render
// as empty fields.
type Row map[string]any

// ToCSV renders rows under a header line made of the column labels. Lines are
// joined with "\n" and the document has no trailing newline.
func ToCSV(rows []Row, columns []Column) string {
	var b strings.Builder

	for i, c := range columns {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escape(c.Label))
	}

	for _, row := range rows {
		b.WriteByte('\n')
		for i, c := range columns {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(escape(format(row[c.Key])))
		}
	}

	return b.String()
}

func escape(field string) string {
	if !strings.ContainsAny(field, ",\"\n") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

func format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case *float64:
		if val == nil {
			return ""
		}
		return strconv.FormatFloat(*val, 'f', -1, 64)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return val.Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
