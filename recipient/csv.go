package recipient

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrEmptyFile is returned for a CSV without data rows.
	ErrEmptyFile = errors.New("CSV file is empty")
	// ErrNoEmailColumn is returned when no header contains "email".
	ErrNoEmailColumn = errors.New("CSV must contain an 'email' column")
)

// Table is a parsed recipient list.
type Table struct {
	// Fields lists the columns in file order, with the email column renamed to "email".
	Fields     []string
	Recipients []Recipient
}

// ParseCSV reads a recipient list. The first row is the header. The first column whose
// name contains "email" (case-insensitive) becomes the "email" field. Rows with a blank
// email are dropped and missing cells become empty strings.
func ParseCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, errors.Wrap(err, "error parsing CSV")
	}

	fields := normalizeHeader(header)
	emailCol := -1
	for i, f := range fields {
		if strings.Contains(strings.ToLower(f), EmailField) {
			emailCol = i
			break
		}
	}
	if emailCol < 0 {
		return nil, ErrNoEmailColumn
	}
	if fields[emailCol] != EmailField {
		for i, f := range fields {
			if f == EmailField {
				fields[i] = EmailField + ".1"
			}
		}
		fields[emailCol] = EmailField
	}

	table := &Table{Fields: fields}
	rows := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "error parsing CSV")
		}
		rows++

		rec := make(Recipient, len(fields))
		for i, f := range fields {
			if i < len(record) {
				rec[f] = record[i]
			} else {
				rec[f] = ""
			}
		}
		rec[EmailField] = strings.TrimSpace(rec[EmailField])
		if rec[EmailField] == "" {
			continue
		}
		table.Recipients = append(table.Recipients, rec)
	}

	if rows == 0 {
		return nil, ErrEmptyFile
	}
	return table, nil
}

// normalizeHeader trims names, strips a UTF-8 BOM and suffixes duplicates with ".N".
func normalizeHeader(header []string) []string {
	fields := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = name + "." + strconv.Itoa(n+1)
		} else {
			seen[name] = 0
		}
		fields[i] = name
	}
	return fields
}
