package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Spreadsheet layout.
const (
	SheetName   = "VFD Report"
	HeaderName  = "Metric Name"
	HeaderValue = "Value"
)

// WriteXLSX writes the report as a two-column workbook.
func WriteXLSX(w io.Writer, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &[]any{HeaderName, HeaderValue}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, row := range r.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &[]any{string(row.Name), row.Display().InexactFloat64()}); err != nil {
			return fmt.Errorf("failed to write %s: %w", row.Name, err)
		}
	}
	if err := f.SetColWidth(SheetName, "A", "A", 48); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// WriteCSV writes the report with the same two columns as the workbook.
func WriteCSV(w io.Writer, r *Report) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{HeaderName, HeaderValue}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range r.Rows {
		if err := writer.Write([]string{string(row.Name), row.Display().StringFixed(2)}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// Filename is the suggested download name of an export.
func Filename(r *Report, ext string) string {
	return fmt.Sprintf("vfd-report-%d-%s.%s", int64(r.Client.ID), r.Anchor, ext)
}
