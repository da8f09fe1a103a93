package fetcher

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the CSV record reader.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// ReadCSVRecords reads a CSV stream with a header row and returns each data
// row as a header-keyed map. Short rows are padded; extra cells are dropped.
func ReadCSVRecords(r io.Reader, opts CSVOptions) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // registry exports have ragged rows

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read header")
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}

	var records []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		records = append(records, zipRecord(header, record))
	}

	return records, nil
}

func zipRecord(header, record []string) map[string]string {
	m := make(map[string]string, len(header))
	for i, key := range header {
		if key == "" {
			continue
		}
		if i < len(record) {
			m[key] = strings.TrimSpace(record[i])
		} else {
			m[key] = ""
		}
	}
	return m
}
