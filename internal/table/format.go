// Package table reads heterogeneous tabular attachments as row streams and
// normalizes their column naming. Readers hold one row in memory at a time so
// large inputs can be consumed in bounded chunks.
package table

import (
	"path/filepath"
	"strings"
)

// Format identifies how an attachment is parsed. It is resolved once per
// file from the extension; there is no content sniffing.
type Format int

const (
	FormatUnsupported Format = iota
	FormatCSV
	FormatExcel
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatExcel:
		return "excel"
	default:
		return "unsupported"
	}
}

// DetectFormat maps a file name to its Format.
func DetectFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV
	case ".xlsx", ".xlsm":
		return FormatExcel
	default:
		return FormatUnsupported
	}
}

// RowReader streams one table: a fixed header plus data rows in file order.
// Next returns io.EOF once the rows are exhausted. Rows shorter than the
// header are padded with empty cells; longer rows are truncated.
type RowReader interface {
	Columns() []string
	Next() ([]string, error)
	Close() error
}

// Open resolves the format of path and returns a RowReader for it.
// Unsupported extensions return ErrUnsupportedFormat.
func Open(path string) (RowReader, error) {
	switch DetectFormat(path) {
	case FormatCSV:
		return OpenCSV(path)
	case FormatExcel:
		return OpenExcel(path)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// fitRow pads or truncates row to width cells.
func fitRow(row []string, width int) []string {
	if len(row) == width {
		return row
	}
	if len(row) > width {
		return row[:width]
	}
	out := make([]string, width)
	copy(out, row)
	return out
}
