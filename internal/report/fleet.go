package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"epon-monitor/internal/compliance"
	telemetry "epon-monitor/internal/telemetry/domain"
)

// FleetReport is the input shared by all export formats: the latest
// classification per device plus the snapshot the readings came from.
type FleetReport struct {
	GeneratedAt time.Time
	CapturedAt  time.Time
	Results     []compliance.Result
	Data        telemetry.ByDevice
}

// HealthCounts tallies devices per health state.
func (r FleetReport) HealthCounts() map[string]int {
	counts := make(map[string]int, 3)
	for _, result := range r.Results {
		counts[result.Health]++
	}
	return counts
}

type fleetRow struct {
	onuID    string
	health   string
	severity string
	layer    string
	rx       string
	snr      string
	ber      string
	temp     string
	causes   string
}

func buildRows(report FleetReport) []fleetRow {
	rows := make([]fleetRow, 0, len(report.Results))
	for _, result := range report.Results {
		row := fleetRow{
			onuID:    result.ONUID,
			health:   result.Health,
			severity: result.Severity,
			layer:    result.LikelyLayer,
			rx:       "n/a",
			snr:      "n/a",
			ber:      "n/a",
			temp:     "n/a",
			causes:   strings.Join(result.ProbableCauses, "; "),
		}
		if event, ok := report.Data.Latest(result.ONUID); ok {
			qot := event.QoT
			if qot.RxPowerDBm != nil {
				row.rx = fmt.Sprintf("%.2f", *qot.RxPowerDBm)
			}
			if qot.SNRdB != nil {
				row.snr = fmt.Sprintf("%.1f", *qot.SNRdB)
			}
			if qot.BERPreFEC != nil {
				row.ber = fmt.Sprintf("%.2e", *qot.BERPreFEC)
			}
			if qot.Temperature != nil {
				row.temp = fmt.Sprintf("%.1f", *qot.Temperature)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

var fleetHeader = []string{
	"ONU", "Health", "Severity", "Layer",
	"Rx Power (dBm)", "SNR (dB)", "Pre-FEC BER", "Temperature (C)", "Probable Causes",
}

// BuildFleetCSV renders the fleet health table as CSV.
func BuildFleetCSV(report FleetReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(fleetHeader); err != nil {
		return nil, err
	}
	for _, row := range buildRows(report) {
		record := []string{
			row.onuID, row.health, row.severity, row.layer,
			row.rx, row.snr, row.ber, row.temp, row.causes,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildFleetXLSX renders a summary sheet plus a per-device sheet.
func BuildFleetXLSX(report FleetReport) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	devicesSheet := "devices"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(devicesSheet)

	counts := report.HealthCounts()
	_ = f.SetCellValue(summarySheet, "A1", "EPON Fleet Health Report")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", report.GeneratedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Snapshot Captured")
	_ = f.SetCellValue(summarySheet, "B4", report.CapturedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Devices")
	_ = f.SetCellValue(summarySheet, "B5", len(report.Results))
	_ = f.SetCellValue(summarySheet, "A6", "Normal")
	_ = f.SetCellValue(summarySheet, "B6", counts[compliance.HealthNormal])
	_ = f.SetCellValue(summarySheet, "A7", "Minor Issues")
	_ = f.SetCellValue(summarySheet, "B7", counts[compliance.HealthMinorIssue])
	_ = f.SetCellValue(summarySheet, "A8", "Major Issues")
	_ = f.SetCellValue(summarySheet, "B8", counts[compliance.HealthMajorIssue])

	for col, title := range fleetHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(devicesSheet, cell, title)
	}
	for i, row := range buildRows(report) {
		values := []string{
			row.onuID, row.health, row.severity, row.layer,
			row.rx, row.snr, row.ber, row.temp, row.causes,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(devicesSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildFleetPDF renders a compact PDF of the fleet health table.
func BuildFleetPDF(report FleetReport) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "EPON Fleet Health Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Snapshot Captured: %s", report.CapturedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	counts := report.HealthCounts()
	pdf.Cell(0, 6, fmt.Sprintf("Devices: %d (normal %d, minor %d, major %d)",
		len(report.Results),
		counts[compliance.HealthNormal],
		counts[compliance.HealthMinorIssue],
		counts[compliance.HealthMajorIssue]))
	pdf.Ln(8)

	widths := []float64{18, 25, 22, 20, 28, 20, 26, 26, 92}
	pdf.SetFont("Arial", "B", 9)
	for i, title := range fleetHeader {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, row := range buildRows(report) {
		values := []string{
			row.onuID, row.health, row.severity, row.layer,
			row.rx, row.snr, row.ber, row.temp, truncate(row.causes, 70),
		}
		for i, value := range values {
			align := "R"
			if i == 0 || i == 1 || i == 2 || i == 3 || i == 8 {
				align = "L"
			}
			pdf.CellFormat(widths[i], 6, value, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}
