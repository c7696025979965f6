// Package workbook implements the spreadsheet transform engine: it reads
// origin/destination coordinates row by row, resolves driving distance and
// duration through a lookup client, and writes results plus a per-row status
// back into the workbook.
package workbook

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Column layout of the input workbook. Origins and destinations are read from
// fixed columns; results and the row status are appended alongside.
const (
	originColumn      = "C"
	destinationColumn = "F"
	distanceColumn    = "G"
	durationColumn    = "H"
	statusColumn      = "I"
)

// Per-row status annotations written to the status column.
const (
	RowStatusProcessed     = "processed successfully"
	RowStatusEmptyCoords   = "skipped - empty coordinates"
	RowStatusInvalidCoords = "skipped - invalid coordinate format"
	RowStatusFailed        = "processing failed"
)

// Column headers written to the first row when absent.
const (
	headerDistance = "Distance"
	headerDuration = "Duration"
	headerStatus   = "Processing Status"
)

// Lookup resolves driving distance and duration between two validated
// "lat,lng" coordinate strings. Implementations signal per-row failure
// through sentinel return values rather than errors.
type Lookup interface {
	Lookup(ctx context.Context, origin, destination string) (distance, duration string)
}

// IsFailureFunc reports whether a lookup return value is a failure sentinel.
type IsFailureFunc func(value string) bool

// Processor transforms an uploaded workbook by filling in distance, duration
// and status columns for every data row.
type Processor struct {
	lookup    Lookup
	isFailure IsFailureFunc
	logger    *slog.Logger

	// now is indirected so tests can pin the output filename timestamp.
	now func() time.Time
}

// NewProcessor creates a workbook processor backed by the given lookup
// client. isFailure classifies lookup return values; if nil, no value is
// treated as a failure. If logger is nil the default logger is used.
func NewProcessor(lookup Lookup, isFailure IsFailureFunc, logger *slog.Logger) *Processor {
	if isFailure == nil {
		isFailure = func(string) bool { return false }
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		lookup:    lookup,
		isFailure: isFailure,
		logger:    logger.With(slog.String("component", "workbook_processor")),
		now:       time.Now,
	}
}

// Process parses fileContent as a spreadsheet, resolves distance and duration
// for every data row, and returns the serialized result workbook together
// with a timestamped output filename.
//
// Row failures are row-local: a bad coordinate or failed lookup marks that
// row and processing continues. The context is consulted at row boundaries;
// cancellation aborts the remaining rows and returns ctx.Err().
func (p *Processor) Process(ctx context.Context, fileContent []byte, filename string) ([]byte, string, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(fileContent))
	if err != nil {
		return nil, "", fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() {
		if closeErr := wb.Close(); closeErr != nil {
			p.logger.Warn("failed to close workbook", slog.String("error", closeErr.Error()))
		}
	}()

	sheet := wb.GetSheetName(0)
	if sheet == "" {
		return nil, "", fmt.Errorf("workbook has no sheets")
	}

	if err := p.writeHeaders(wb, sheet); err != nil {
		return nil, "", fmt.Errorf("failed to write headers: %w", err)
	}

	rows, err := wb.GetRows(sheet)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read rows: %w", err)
	}

	processed := 0
	skipped := 0

	for row := 2; row <= len(rows); row++ {
		// Cancellation is cooperative: honored between rows, never mid-call.
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		origin := p.cellValue(wb, sheet, originColumn, row)
		destination := p.cellValue(wb, sheet, destinationColumn, row)

		if origin == "" || destination == "" {
			p.setCell(wb, sheet, statusColumn, row, RowStatusEmptyCoords)
			skipped++
			continue
		}

		if !ValidCoordinates(origin) || !ValidCoordinates(destination) {
			p.setCell(wb, sheet, statusColumn, row, RowStatusInvalidCoords)
			skipped++
			continue
		}

		dist, dur := p.lookup.Lookup(ctx, origin, destination)
		p.setCell(wb, sheet, distanceColumn, row, dist)
		p.setCell(wb, sheet, durationColumn, row, dur)

		if p.isFailure(dist) {
			p.setCell(wb, sheet, statusColumn, row, RowStatusFailed)
			skipped++
		} else {
			p.setCell(wb, sheet, statusColumn, row, RowStatusProcessed)
			processed++
		}
	}

	var out bytes.Buffer
	if err := wb.Write(&out); err != nil {
		return nil, "", fmt.Errorf("failed to serialize workbook: %w", err)
	}

	p.logger.Info("workbook processing finished",
		slog.Int("processed_rows", processed),
		slog.Int("skipped_rows", skipped))

	timestamp := p.now().Format("20060102_150405")
	outputFilename := fmt.Sprintf("distance_result_%s_%s", timestamp, filename)

	return out.Bytes(), outputFilename, nil
}

// writeHeaders fills in the result column headers on row 1 unless the cells
// already hold values.
func (p *Processor) writeHeaders(wb *excelize.File, sheet string) error {
	headers := map[string]string{
		distanceColumn: headerDistance,
		durationColumn: headerDuration,
		statusColumn:   headerStatus,
	}

	for col, header := range headers {
		cell := col + "1"
		existing, err := wb.GetCellValue(sheet, cell)
		if err != nil {
			return err
		}
		if existing == "" {
			if err := wb.SetCellValue(sheet, cell, header); err != nil {
				return err
			}
		}
	}

	return nil
}

// cellValue reads and trims a cell, treating any read error as an empty cell.
func (p *Processor) cellValue(wb *excelize.File, sheet, col string, row int) string {
	value, err := wb.GetCellValue(sheet, fmt.Sprintf("%s%d", col, row))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

// setCell writes a cell value, logging rather than failing on error so a bad
// write stays row-local.
func (p *Processor) setCell(wb *excelize.File, sheet, col string, row int, value string) {
	cell := fmt.Sprintf("%s%d", col, row)
	if err := wb.SetCellValue(sheet, cell, value); err != nil {
		p.logger.Error("failed to set cell value",
			slog.String("cell", cell),
			slog.String("error", err.Error()))
	}
}

// ValidCoordinates reports whether s is a "lat,lng" pair with latitude in
// [-90, 90] and longitude in [-180, 180]. Embedded whitespace is tolerated.
func ValidCoordinates(s string) bool {
	s = strings.Join(strings.Fields(s), "")

	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return false
	}

	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return false
	}

	lng, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return false
	}

	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
