package table

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

type excelReader struct {
	f       *excelize.File
	rows    *excelize.Rows
	columns []string
}

// OpenExcel opens the first sheet of an xlsx/xlsm workbook as a row stream.
// The sheet is iterated row by row rather than loaded whole, so workbook size
// does not drive memory use.
func OpenExcel(path string) (RowReader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	sheet := f.GetSheetName(0)
	if sheet == "" {
		f.Close()
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("iterate sheet %s: %w", sheet, err)
	}
	if !rows.Next() {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("sheet %s has no header row", sheet)
	}
	header, err := rows.Columns()
	if err != nil {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("read header row: %w", err)
	}
	if len(header) == 0 {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("sheet %s has an empty header row", sheet)
	}
	return &excelReader{f: f, rows: rows, columns: header}, nil
}

func (e *excelReader) Columns() []string { return e.columns }

func (e *excelReader) Next() ([]string, error) {
	if !e.rows.Next() {
		if err := e.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	row, err := e.rows.Columns()
	if err != nil {
		return nil, err
	}
	return fitRow(row, len(e.columns)), nil
}

func (e *excelReader) Close() error {
	e.rows.Close()
	return e.f.Close()
}
