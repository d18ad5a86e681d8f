package models

import "sort"

const (
	// DrawingRowOffset converts the 0-based row stored in a drawing anchor
	// into the 1-based row number shown by spreadsheet applications.
	DrawingRowOffset = 1

	// HeaderRowOffset maps an order item's sequence number to its display row.
	// The sheet carries exactly one header row, so sequence 1 sits on row 2.
	// Nothing checks the workbook against this assumption.
	HeaderRowOffset = 1
)

// RowImageMap maps a 1-based display row to the media filenames anchored on it.
type RowImageMap map[int][]string

// Add appends filename to row.
func (m RowImageMap) Add(row int, filename string) {
	m[row] = append(m[row], filename)
}

// Rows returns the rows in ascending order.
func (m RowImageMap) Rows() []int {
	rows := make([]int, 0, len(m))
	for row := range m {
		rows = append(rows, row)
	}
	sort.Ints(rows)
	return rows
}

// RowURLMap maps a 1-based display row to the public URLs of its images.
type RowURLMap map[int][]string

// Rows returns the rows in ascending order.
func (m RowURLMap) Rows() []int {
	rows := make([]int, 0, len(m))
	for row := range m {
		rows = append(rows, row)
	}
	sort.Ints(rows)
	return rows
}

// RowForSequence returns the display row an order item's sequence number points at.
func RowForSequence(sequenceNumber int) int {
	return sequenceNumber + HeaderRowOffset
}

// ScanResult is what the archive scanner recovers from a workbook.
type ScanResult struct {
	RowImages    RowImageMap
	Extracted    map[string]string // media base filename -> extracted path
	DrawingParts int
	MediaSkipped int
}

// UpdateResult counts what the record updater did.
type UpdateResult struct {
	Selected  int
	Updated   int
	Skipped   int // no images for the record's row
	Unchanged int // every image was already stored
	DryRun    bool
}

// ImportReport summarises one import run.
type ImportReport struct {
	DrawingParts int
	ImageRows    int
	MediaFiles   int
	MediaSkipped int
	URLRows      int
	Update       *UpdateResult
}
