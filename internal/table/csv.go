package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrUnsupportedFormat is returned for attachments the pipeline cannot parse.
var ErrUnsupportedFormat = errors.New("unsupported input format")

type csvReader struct {
	f       *os.File
	r       *csv.Reader
	columns []string
}

// OpenCSV opens a CSV file and consumes its header row. An empty file is an
// error; these attachments always carry a header.
func OpenCSV(path string) (RowReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	r := csv.NewReader(f)
	// Uncontrolled inputs often have ragged rows; fitRow squares them off.
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv %s has no header row", path)
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	return &csvReader{f: f, r: r, columns: header}, nil
}

func (c *csvReader) Columns() []string { return c.columns }

func (c *csvReader) Next() ([]string, error) {
	row, err := c.r.Read()
	if err != nil {
		return nil, err
	}
	return fitRow(row, len(c.columns)), nil
}

func (c *csvReader) Close() error { return c.f.Close() }
