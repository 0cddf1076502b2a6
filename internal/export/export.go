// Package export writes wallet snapshot listings as CSV or XLSX.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/types"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Header is the column order of every export
var Header = []string{"address", "balance", "first_in", "last_in", "last_out", "captured_at", "scan_id"}

// ParseFormat validates a format name; empty means CSV
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", apperrors.NewInvalidParameterError("format", "must be csv or xlsx")
	}
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename returns a download name for the listing
func (f Format) Filename(name string) string {
	return fmt.Sprintf("%s.%s", name, f)
}

// Write renders snapshots in the given format. sheet names the XLSX worksheet.
func Write(w io.Writer, format Format, sheet string, snapshots []types.WalletSnapshot) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, snapshots)
	case FormatXLSX:
		return WriteXLSX(w, sheet, snapshots)
	default:
		return apperrors.NewInvalidParameterError("format", "must be csv or xlsx")
	}
}

// WriteCSV writes a header row followed by one row per snapshot
func WriteCSV(w io.Writer, snapshots []types.WalletSnapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, snapshot := range snapshots {
		if err := cw.Write(row(snapshot)); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", snapshot.Address, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes one worksheet with a header row and one row per snapshot.
// Balances are written as text so no precision is lost to float conversion.
func WriteXLSX(w io.Writer, sheet string, snapshots []types.WalletSnapshot) error {
	if sheet == "" {
		sheet = "wallets"
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("failed to open stream writer: %w", err)
	}

	if err := sw.SetRow("A1", toCells(Header)); err != nil {
		return fmt.Errorf("failed to write xlsx header: %w", err)
	}
	for i, snapshot := range snapshots {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, toCells(row(snapshot))); err != nil {
			return fmt.Errorf("failed to write xlsx row for %s: %w", snapshot.Address, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush xlsx: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

func row(s types.WalletSnapshot) []string {
	captured := ""
	if !s.CapturedAt.IsZero() {
		captured = s.CapturedAt.UTC().Format(time.RFC3339Nano)
	}
	return []string{s.Address, s.Balance.String(), s.FirstIn, s.LastIn, s.LastOut, captured, s.ScanID}
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
