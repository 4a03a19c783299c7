package scenario

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// LoadXLSX reads a workbook with one sheet per scenario. Row 0 holds the
// character names from column 1 onward; column 0 holds the trigger keys.
func LoadXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario workbook: %w", err)
	}
	defer f.Close()

	var sheets []sheet
	var headerErrs []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		sh, problems := sheetFromRows(name, rows)
		headerErrs = append(headerErrs, problems...)
		sheets = append(sheets, sh)
	}
	if len(headerErrs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrValidation, strings.Join(headerErrs, "; "))
	}
	return compile(sheets)
}

// sheetFromRows converts a ragged grid into a sheet. Empty header cells are
// reported as problems; fully blank rows are skipped.
func sheetFromRows(name string, rows [][]string) (sheet, []string) {
	sh := sheet{name: strings.TrimSpace(name), cells: make(map[string]map[string]string)}
	var problems []string
	if len(rows) == 0 {
		return sh, []string{fmt.Sprintf("sheet %q is empty", name)}
	}

	header := rows[0]
	for col := 1; col < len(header); col++ {
		ch := strings.TrimSpace(header[col])
		if ch == "" {
			problems = append(problems, fmt.Sprintf("sheet %q: empty character name in column %d", name, col+1))
			continue
		}
		sh.characters = append(sh.characters, ch)
	}
	colOf := func(col int) string {
		if col >= len(header) {
			return ""
		}
		return strings.TrimSpace(header[col])
	}

	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		key := strings.TrimSpace(row[0])
		if key == "" {
			problems = append(problems, fmt.Sprintf("sheet %q: empty trigger key in row %d", name, i+2))
			continue
		}
		if _, dup := sh.cells[key]; dup {
			problems = append(problems, fmt.Sprintf("sheet %q: trigger %q repeated", name, key))
			continue
		}
		byChar := make(map[string]string)
		for col := 1; col < len(row); col++ {
			ch := colOf(col)
			if ch == "" {
				if strings.TrimSpace(row[col]) != "" {
					problems = append(problems, fmt.Sprintf("sheet %q: cell in row %d has no character column", name, i+2))
				}
				continue
			}
			byChar[ch] = row[col]
		}
		sh.keys = append(sh.keys, key)
		sh.cells[key] = byChar
	}
	return sh, problems
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
