// Package sheets moves view records in and out of spreadsheets.
package sheets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/records"
	"github.com/phillip-england/clubadmin/internal/validate"
)

const maxImportRows = 100000

// Export writes rows as a single sheet workbook: a header row of "#" plus
// the column labels, then one row per record.
func Export(w io.Writer, title string, cols []records.Column, rows []records.Row) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := sheetName(title)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	header := make([]any, 0, len(cols)+1)
	header = append(header, "#")
	for _, c := range cols {
		header = append(header, c.Label)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	for i, row := range rows {
		values := make([]any, 0, len(row.Cells)+1)
		values = append(values, row.Ordinal)
		for _, cell := range row.Cells {
			values = append(values, cell)
		}
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if err := f.SetSheetRow(sheet, addr, &values); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}
	return f.Write(w)
}

func sheetName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return ' '
		}
		return r
	}, strings.TrimSpace(title))
	if name == "" {
		name = "Records"
	}
	if runes := []rune(name); len(runes) > 31 {
		name = string(runes[:31])
	}
	return name
}

// ReadRows reads every row of a single sheet .xls or .xlsx upload.
func ReadRows(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, err
		}
		if workbook.NumSheets() == 0 {
			return nil, errors.New("no worksheet found")
		}
		if workbook.NumSheets() > 1 {
			return nil, errors.New("multiple worksheets found; please upload a file with a single sheet")
		}
		rows := workbook.ReadAllCells(maxImportRows)
		if len(rows) == 0 {
			return nil, errors.New("worksheet is empty")
		}
		return rows, nil
	case ".xlsx":
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = file.Close() }()

		if len(file.GetSheetList()) > 1 {
			return nil, errors.New("multiple worksheets found; please upload a file with a single sheet")
		}
		sheet := file.GetSheetName(0)
		if sheet == "" {
			return nil, errors.New("no worksheet found")
		}
		rows, err := file.GetRows(sheet)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, errors.New("worksheet is empty")
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported file type %q, upload .xls or .xlsx", filepath.Ext(filename))
	}
}

// Skip explains why a sheet row was not imported. Row is 1-based and
// counts the header.
type Skip struct {
	Row    int
	Reason string
}

type Result struct {
	Created int
	Skipped []Skip
}

// CreateFunc stores one imported row.
type CreateFunc func(ctx context.Context, values map[string]string) error

// Import maps rows onto the form fields of view, validates each row and
// hands the valid ones to create in sheet order. File fields are never
// imported.
func Import(ctx context.Context, rows [][]string, form []domains.FormField, create CreateFunc) (Result, error) {
	var res Result
	if len(rows) < 2 {
		return res, errors.New("sheet has no data rows")
	}

	index := map[string]int{}
	for i, h := range rows[0] {
		index[normalizeHeader(h)] = i
	}
	var fields []domains.FormField
	columns := map[string]int{}
	for _, f := range form {
		if f.Kind == "file" {
			continue
		}
		fields = append(fields, f)
		if i, ok := index[normalizeHeader(f.Name)]; ok {
			columns[f.Name] = i
		} else if i, ok := index[normalizeHeader(f.Label)]; ok {
			columns[f.Name] = i
		}
	}
	if len(columns) == 0 {
		return res, errors.New("no sheet columns match this form")
	}

	rules := make([]validate.Field, 0, len(fields))
	for _, f := range fields {
		rules = append(rules, validate.Field{Name: f.Name, Required: f.Required, Rule: f.Rule})
	}

	for n, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rowNum := n + 2
		if blank(row) {
			continue
		}
		values := map[string]string{}
		for _, f := range fields {
			i, ok := columns[f.Name]
			if !ok {
				continue
			}
			v := cellValue(row, i)
			if f.Rule == validate.RuleDate || f.Kind == "date" {
				if d, ok := NormalizeDate(v); ok {
					v = d
				}
			}
			values[f.Name] = v
		}
		if err := validate.Form(rules, values); err != nil {
			res.Skipped = append(res.Skipped, Skip{Row: rowNum, Reason: err.Error()})
			continue
		}
		if err := create(ctx, values); err != nil {
			res.Skipped = append(res.Skipped, Skip{Row: rowNum, Reason: err.Error()})
			continue
		}
		res.Created++
	}
	return res, nil
}

func normalizeHeader(header string) string {
	return strings.ToLower(strings.TrimSpace(header))
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var dateFormats = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006/01/02",
	"2006-01-02T15:04:05",
}

// NormalizeDate turns the date spellings found in member sheets, including
// Excel serial numbers, into YYYY-MM-DD.
func NormalizeDate(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	// Serials outside this range are more likely plain numbers than dates.
	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		if serial >= 1000 && serial <= 80000 {
			if parsed, err := excelize.ExcelDateToTime(serial, false); err == nil {
				return parsed.Format("2006-01-02"), true
			}
		}
		return "", false
	}
	for _, format := range dateFormats {
		if parsed, err := time.Parse(format, value); err == nil {
			return parsed.Format("2006-01-02"), true
		}
	}
	return "", false
}
