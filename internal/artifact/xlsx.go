package artifact

import (
	"fmt"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/IliadMediaGroup/EAS-XML-Parser/internal/report"
)

// placeholderSheet is the sheet excelize puts in every new workbook.
const placeholderSheet = "Sheet1"

// missingFill is the background of not-parsed cells.
const missingFill = "FF0000"

// defaultColWidth matches the width excelize gives unsized columns.
const defaultColWidth = 9.140625

// XLSXFormat stores reports as Excel workbooks, one sheet per section.
type XLSXFormat struct{}

// Compile-time interface check
var _ Format = XLSXFormat{}

// Name implements Format.
func (XLSXFormat) Name() FormatName { return FormatXLSX }

// Extension implements Format.
func (XLSXFormat) Extension() string { return ".xlsx" }

// New implements Format.
func (XLSXFormat) New() Document {
	return &xlsxDocument{file: excelize.NewFile(), fresh: true}
}

// Load implements Format.
func (XLSXFormat) Load(path string) (Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	return &xlsxDocument{file: f}, nil
}

type xlsxDocument struct {
	file  *excelize.File
	fresh bool // still carries the placeholder sheet
}

type xlsxStyles struct {
	title   int
	header  int
	label   int
	missing int
}

func (d *xlsxDocument) SectionNames() []string {
	return d.file.GetSheetList()
}

func (d *xlsxDocument) ReplaceSection(name string, rep *report.Report) error {
	idx, err := d.file.GetSheetIndex(name)
	if err != nil {
		return fmt.Errorf("invalid sheet name %q: %w", name, err)
	}
	prevCols := 0
	if idx == -1 {
		if _, err := d.file.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet: %w", err)
		}
	} else if prevCols, err = d.clear(name); err != nil {
		return err
	}

	if err := d.render(name, rep, prevCols); err != nil {
		return err
	}

	if d.fresh && name != placeholderSheet {
		if err := d.file.DeleteSheet(placeholderSheet); err != nil {
			return fmt.Errorf("failed to remove placeholder sheet: %w", err)
		}
		d.fresh = false
	}

	// Deleting the placeholder shifts indexes.
	if idx, err = d.file.GetSheetIndex(name); err == nil && idx >= 0 {
		d.file.SetActiveSheet(idx)
	}
	return nil
}

// clear drops every merge and row of a sheet and returns how many columns
// the old content used.
func (d *xlsxDocument) clear(sheet string) (int, error) {
	merged, err := d.file.GetMergeCells(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to read merged cells: %w", err)
	}
	cols := 0
	for _, mc := range merged {
		if end, _, err := excelize.CellNameToCoordinates(mc.GetEndAxis()); err == nil {
			cols = max(cols, end)
		}
		if err := d.file.UnmergeCell(sheet, mc.GetStartAxis(), mc.GetEndAxis()); err != nil {
			return 0, fmt.Errorf("failed to unmerge %s: %w", mc.GetStartAxis(), err)
		}
	}

	rows, err := d.file.GetRows(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to read rows: %w", err)
	}
	for _, row := range rows {
		cols = max(cols, len(row))
	}
	for r := len(rows); r >= 1; r-- {
		if err := d.file.RemoveRow(sheet, r); err != nil {
			return 0, fmt.Errorf("failed to remove row %d: %w", r, err)
		}
	}
	return cols, nil
}

func (d *xlsxDocument) styles() (xlsxStyles, error) {
	var s xlsxStyles
	var err error

	center := &excelize.Alignment{Horizontal: "center"}
	if s.title, err = d.file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: center,
	}); err != nil {
		return s, fmt.Errorf("failed to create title style: %w", err)
	}
	if s.header, err = d.file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: center,
	}); err != nil {
		return s, fmt.Errorf("failed to create header style: %w", err)
	}
	if s.label, err = d.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	}); err != nil {
		return s, fmt.Errorf("failed to create label style: %w", err)
	}
	if s.missing, err = d.file.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{missingFill}},
	}); err != nil {
		return s, fmt.Errorf("failed to create missing style: %w", err)
	}
	return s, nil
}

// render writes rep from A1 and sizes its columns. Columns up to prevCols
// that the new content leaves empty go back to the default width.
func (d *xlsxDocument) render(sheet string, rep *report.Report, prevCols int) error {
	st, err := d.styles()
	if err != nil {
		return err
	}

	widths := make(map[int]int)
	placements, _ := report.Layout(rep.Blocks, 1)
	for _, p := range placements {
		if err := d.renderBlock(sheet, p, st, widths); err != nil {
			return fmt.Errorf("failed to render %q: %w", p.Block.Title, err)
		}
	}

	for col, w := range widths {
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return err
		}
		if err := d.file.SetColWidth(sheet, name, name, float64(w+2)); err != nil {
			return fmt.Errorf("failed to size column %s: %w", name, err)
		}
	}

	for col := 1; col <= prevCols; col++ {
		if _, ok := widths[col]; ok {
			continue
		}
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return err
		}
		if err := d.file.SetColWidth(sheet, name, name, defaultColWidth); err != nil {
			return fmt.Errorf("failed to reset column %s: %w", name, err)
		}
	}
	return nil
}

func (d *xlsxDocument) renderBlock(sheet string, p report.Placement, st xlsxStyles, widths map[int]int) error {
	b := p.Block
	row := p.Row

	if err := d.setCell(sheet, 1, row, b.Title, st.title, widths); err != nil {
		return err
	}
	if err := d.span(sheet, row, 1, b.Width); err != nil {
		return err
	}

	row++
	for i, h := range b.Header {
		if err := d.setCell(sheet, i+1, row, h, st.header, widths); err != nil {
			return err
		}
	}
	if err := d.span(sheet, row, len(b.Header), b.Width); err != nil {
		return err
	}

	for _, r := range b.Rows {
		row++
		for i, c := range r {
			style := 0
			switch {
			case c.Missing:
				style = st.missing
			case c.Label:
				style = st.label
			}
			if err := d.setCell(sheet, i+1, row, c.Value, style, widths); err != nil {
				return err
			}
		}
		if err := d.span(sheet, row, len(r), b.Width); err != nil {
			return err
		}
	}
	return nil
}

func (d *xlsxDocument) setCell(sheet string, col, row int, value string, style int, widths map[int]int) error {
	axis, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if value != "" {
		if err := d.file.SetCellValue(sheet, axis, value); err != nil {
			return err
		}
	}
	if style != 0 {
		if err := d.file.SetCellStyle(sheet, axis, axis, style); err != nil {
			return err
		}
	}
	if n := utf8.RuneCountInString(value); n > widths[col] {
		widths[col] = n
	}
	return nil
}

// span merges columns from..to of row when to is past from.
func (d *xlsxDocument) span(sheet string, row, from, to int) error {
	if from < 1 || to <= from {
		return nil
	}
	start, err := excelize.CoordinatesToCellName(from, row)
	if err != nil {
		return err
	}
	end, err := excelize.CoordinatesToCellName(to, row)
	if err != nil {
		return err
	}
	return d.file.MergeCell(sheet, start, end)
}

func (d *xlsxDocument) Save(path string) error {
	return d.file.SaveAs(path)
}

func (d *xlsxDocument) Close() error {
	return d.file.Close()
}
