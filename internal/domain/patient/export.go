package patient

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/asha/records/internal/platform/apperr"
	"github.com/asha/records/internal/platform/auth"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	exportSheet = "Patients"
)

// ExportHeader is the column order of both export formats.
var ExportHeader = []string{
	"Health ID", "Full Name", "Date of Birth", "Gender", "Phone", "Address", "Registration Date",
}

var exportColumnWidths = []float64{30, 28, 14, 10, 16, 48, 18}

func exportRow(p *Patient) []string {
	return []string{
		p.HealthID,
		p.FullName,
		p.DateOfBirth.String(),
		p.Gender,
		p.Phone,
		p.Address.FullAddress,
		p.RegistrationDate.UTC().Format(dateLayout),
	}
}

// Export writes the active patients in scope to w in the given format.
// Restricted to roles holding patient:export.
func (s *Service) Export(ctx context.Context, actor auth.Actor, f Filter, format string, w io.Writer) error {
	if err := auth.Authorize(actor, auth.ActionPatientExport); err != nil {
		return err
	}
	switch format {
	case "", FormatCSV:
		return s.exportCSV(ctx, f, w)
	case FormatXLSX:
		return s.exportXLSX(ctx, f, w)
	}
	return apperr.Invalid("format", "must be csv or xlsx")
}

func (s *Service) exportCSV(ctx context.Context, f Filter, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	err := s.repo.Scan(ctx, f, func(p *Patient) error {
		return cw.Write(exportRow(p))
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func (s *Service) exportXLSX(ctx context.Context, f Filter, w io.Writer) error {
	x := excelize.NewFile()
	defer x.Close()

	index, err := x.NewSheet(exportSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	x.SetActiveSheet(index)
	if err := x.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := x.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	writeRow := func(row int, values []string) error {
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := x.SetCellValue(exportSheet, cell, v); err != nil {
				return fmt.Errorf("set cell %s: %w", cell, err)
			}
		}
		return nil
	}

	if err := writeRow(1, ExportHeader); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(ExportHeader), 1)
	if err := x.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("set header style: %w", err)
	}
	for i, width := range exportColumnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := x.SetColWidth(exportSheet, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	if err := x.SetPanes(exportSheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	row := 2
	err = s.repo.Scan(ctx, f, func(p *Patient) error {
		if err := writeRow(row, exportRow(p)); err != nil {
			return err
		}
		row++
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := x.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
