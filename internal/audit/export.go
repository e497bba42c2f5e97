package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var csvHeader = []string{"id", "created_at", "actor", "action", "resource", "tenant_id", "metadata"}

// WriteCSV encodes entries with a header row. Cells that a spreadsheet would
// evaluate as a formula are prefixed with a single quote.
func WriteCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range entries {
		meta := ""
		if len(e.Metadata) > 0 {
			raw, err := json.Marshal(e.Metadata)
			if err != nil {
				return nil, fmt.Errorf("audit: encode metadata: %w", err)
			}
			meta = string(raw)
		}
		record := []string{
			e.ID.String(),
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
			safeCell(e.Actor),
			safeCell(e.Action),
			safeCell(e.Resource),
			safeCell(e.TenantID),
			meta,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func safeCell(v string) string {
	if v != "" && strings.ContainsRune("=+-@\t\r", rune(v[0])) {
		return "'" + v
	}
	return v
}
