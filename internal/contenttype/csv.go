package contenttype

import (
	"encoding/csv"
	"strings"

	"github.com/kestrun/kestrun-go/values"
)

// DecodeCSV decodes a CSV document with a required header row. Every data
// row becomes an ordered map keyed by the header; a single row decodes to
// the map itself, multiple rows to a list of maps. Blank lines are skipped
// and all fields are trimmed. Empty input decodes to nil.
func DecodeCSV(data []byte, _ Hint) any {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, record := range records {
		if isBlankRecord(record) {
			continue
		}
		rows = append(rows, record)
	}
	if len(rows) < 2 {
		// no header or no data
		return nil
	}

	header := make([]string, len(rows[0]))
	for i, name := range rows[0] {
		header[i] = strings.TrimSpace(name)
	}

	results := make([]any, 0, len(rows)-1)
	for _, record := range rows[1:] {
		row := values.NewMap()
		for i, name := range header {
			if name == "" {
				continue
			}
			if i < len(record) {
				row.Set(name, strings.TrimSpace(record[i]))
			} else {
				row.Set(name, "")
			}
		}
		results = append(results, row)
	}
	if len(results) == 1 {
		return results[0]
	}
	return results
}

func isBlankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
