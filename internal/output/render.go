package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Output formats accepted by Render.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

// Render formats records for display. CSV output is written to csvPath and
// the returned string is a short confirmation; the other formats return
// the full rendered text.
func Render(records []*Record, format, csvPath string) (string, error) {
	// A nil slice renders identically to an empty one: an empty JSON
	// array, not null.
	if records == nil {
		records = []*Record{}
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal records: %w", err)
		}
		return string(data), nil

	case FormatCSV:
		if csvPath == "" {
			return "", fmt.Errorf("csv-path is required when output format is csv")
		}
		if err := writeCSV(records, csvPath); err != nil {
			return "", err
		}
		return fmt.Sprintf("Wrote %d row(s) to %s", len(records), csvPath), nil

	case FormatTable:
		return renderTable(records), nil

	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// columnSet returns the union of keys across all records in first-seen
// order.
func columnSet(records []*Record) []string {
	var columns []string
	seen := make(map[string]bool)
	for _, record := range records {
		for _, key := range record.Keys() {
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
	}
	return columns
}

func writeCSV(records []*Record, csvPath string) error {
	columns := columnSet(records)

	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if len(columns) == 0 {
		return nil
	}

	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, record := range records {
		row := make([]string, len(columns))
		for i, key := range columns {
			value, _ := record.Get(key)
			row[i] = formatCell(value)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	return nil
}

func renderTable(records []*Record) string {
	if len(records) == 0 {
		return "No rows found."
	}

	columns := columnSet(records)

	widths := make(map[string]int, len(columns))
	for _, key := range columns {
		widths[key] = len(key)
	}
	for _, record := range records {
		for _, key := range columns {
			value, _ := record.Get(key)
			if cell := formatCell(value); len(cell) > widths[key] {
				widths[key] = len(cell)
			}
		}
	}

	headerParts := make([]string, len(columns))
	separatorParts := make([]string, len(columns))
	for i, key := range columns {
		headerParts[i] = pad(key, widths[key])
		separatorParts[i] = strings.Repeat("-", widths[key])
	}

	lines := []string{
		strings.Join(headerParts, " | "),
		strings.Join(separatorParts, "-+-"),
	}

	for _, record := range records {
		rowParts := make([]string, len(columns))
		for i, key := range columns {
			value, _ := record.Get(key)
			rowParts[i] = pad(formatCell(value), widths[key])
		}
		lines = append(lines, strings.Join(rowParts, " | "))
	}

	return strings.Join(lines, "\n")
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
