package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

func readXLSX(ctx context.Context, path string) ([]Segment, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer f.Close()

	var segments []Segment
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: sheet %s: %v", ErrExtraction, sheet, err)
		}

		var lines []string
		for _, row := range rows {
			if line := joinRow(row); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}

		segments = append(segments, Segment{
			Text:    strings.Join(lines, "\n"),
			Locator: "sheet " + sheet,
			Section: sheet,
		})
	}
	return segments, nil
}

// joinRow renders one spreadsheet row, dropping trailing empty cells.
func joinRow(row []string) string {
	cells := make([]string, len(row))
	last := -1
	for i, c := range row {
		cells[i] = strings.Join(strings.Fields(c), " ")
		if cells[i] != "" {
			last = i
		}
	}
	if last < 0 {
		return ""
	}
	return strings.Join(cells[:last+1], " | ")
}
