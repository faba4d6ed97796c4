// Package review writes the files handed to catalogers for manual review
// and reads back their decisions.
package review

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/shp-enrich/internal/ident"
	"github.com/sells-group/shp-enrich/internal/model"
)

// HoldingsSheet is the worksheet name used for holdings deletion review.
const HoldingsSheet = "holdings"

var holdingsHeader = []string{"ocn", "title", "keep"}

// ExportHoldings writes the holdings deletion candidates to an xlsx workbook
// with one row per candidate. The keep column is "x" for kept candidates
// and blank otherwise.
func ExportHoldings(path string, candidates []model.HoldingsDeletionCandidate) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(HoldingsSheet)
	if err != nil {
		return eris.Wrap(err, "review: add sheet")
	}

	addRow(sheet, holdingsHeader...)
	for _, c := range candidates {
		keep := ""
		if c.Keep {
			keep = "x"
		}
		addRow(sheet, strconv.FormatInt(c.ExternalID, 10), c.Title, keep)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "review: save %s", path)
	}
	return nil
}

// ReadKeepFlags reads a curated holdings workbook and returns the keep flag
// of every candidate it lists, keyed by authority identifier. Any non-blank
// keep cell other than "n", "no", "false" or "0" counts as kept.
func ReadKeepFlags(path string) (map[int64]bool, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "review: open %s", path)
	}

	sheet, ok := f.Sheet[HoldingsSheet]
	if !ok {
		if len(f.Sheets) == 0 {
			return nil, eris.Errorf("review: %s has no sheets", path)
		}
		sheet = f.Sheets[0]
	}

	flags := make(map[int64]bool)
	for i, row := range sheet.Rows {
		if i == 0 || row == nil {
			continue
		}
		cells := rowToStrings(row)
		if len(cells) == 0 || strings.TrimSpace(cells[0]) == "" {
			continue
		}
		ocn, ok := ident.NormalizeIdentifier(cells[0])
		if !ok {
			return nil, eris.Errorf("review: row %d: invalid ocn %q", i+1, cells[0])
		}
		var keep string
		if len(cells) > 2 {
			keep = cells[2]
		}
		flags[ocn] = parseKeep(keep)
	}
	return flags, nil
}

func parseKeep(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "n", "no", "false", "0":
		return false
	default:
		return true
	}
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
