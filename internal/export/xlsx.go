// Package export renders stored batches as spreadsheets.
package export

import (
	"fmt"

	"github.com/mohammad-safakhou/docrelay/internal/batch"
	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding one row per file.
const SheetName = "Batch"

// ContentType is the MIME type of the XLSX workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var headers = []string{
	"Filename",
	"Document Type",
	"Success",
	"Processing Time (s)",
	"Error",
	"Answer",
	"Reasoning",
}

// BatchXLSX returns res as an XLSX workbook.
func BatchXLSX(res *batch.Result) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
	}

	for i, fr := range res.Results {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(SheetName, cell, v)
		}
		write(1, fr.Filename)
		write(2, fr.DocumentType)
		write(3, yesNo(fr.Success))
		write(4, fr.ProcessingTime)
		write(5, truncate(fr.Error, 500))
		if fr.Answer != nil {
			write(6, truncate(fr.Answer.Answer, 1000))
			write(7, truncate(fr.Answer.Reasoning, 1000))
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 32)
	_ = f.SetColWidth(SheetName, "B", "B", 24)
	_ = f.SetColWidth(SheetName, "C", "D", 12)
	_ = f.SetColWidth(SheetName, "E", "G", 60)
	_ = f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
