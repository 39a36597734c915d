package extraction

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
)

const sheetName = "Fields"

// utf8BOM keeps spreadsheet applications from guessing a legacy encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Columns returns the export header: configured field order first, then any
// other keys of res sorted.
func Columns(cfg *model.FieldConfig, res *model.ExtractionResult) []string {
	cols := cfg.Names()
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		seen[c] = true
	}
	var extra []string
	if res != nil {
		for k := range res.Fields {
			if !seen[k] {
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}

func row(cols []string, res *model.ExtractionResult) []string {
	out := make([]string, len(cols))
	if res == nil {
		return out
	}
	for i, c := range cols {
		out[i] = res.Fields[c]
	}
	return out
}

// WriteCSV writes a header row and one value row.
func WriteCSV(w io.Writer, cols []string, res *model.ExtractionResult) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	if err := cw.Write(row(cols, res)); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the same projection as WriteCSV as a one-sheet workbook.
func WriteXLSX(w io.Writer, cols []string, res *model.ExtractionResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	values := row(cols, res)
	for i, c := range cols {
		header, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStr(sheetName, header, c); err != nil {
			return err
		}
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		if err := f.SetCellStr(sheetName, cell, values[i]); err != nil {
			return err
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
