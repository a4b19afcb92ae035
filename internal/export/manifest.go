package export

import (
	"fmt"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Sheet names
const (
	SheetVolumes = "Volumes"
	SheetSummary = "Resumo"
	SheetErrors  = "Erros"
)

var volumeHeader = []string{
	"Código", "Volume", "Total", "NF-e", "Chave de acesso", "Pedido",
	"Remetente", "Destinatário", "Cidade/UF", "Endereço", "Transportadora",
	"Espécie", "Peso bruto (kg)", "ONU", "Risco", "Classe",
}

// Writer builds xlsx workbooks from label sets and batch reports
type Writer struct {
	logger *zap.Logger
}

// NewWriter creates a new workbook writer
func NewWriter(logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{logger: logger}
}

// LabelManifest lists every volume of a set, one row per label. The master
// label, when present, is the last row.
func (w *Writer) LabelManifest(volumes []entity.Volume, master *entity.MasterLabel) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", SheetVolumes); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := writeHeader(file, SheetVolumes, volumeHeader); err != nil {
		return nil, err
	}

	rows := make([]entity.Volume, 0, len(volumes)+1)
	rows = append(rows, volumes...)
	if master != nil {
		rows = append(rows, master.Volume)
	}

	for i, v := range rows {
		var un, risk, class string
		if v.Hazard != nil {
			un, risk, class = v.Hazard.UNNumber, v.Hazard.RiskCode, v.Hazard.Classification
		}
		weight, _ := v.GrossWeight.Float64()
		seq := any(v.Sequence)
		if v.Kind == entity.LabelKindMaster {
			seq = "MÃE"
		}

		values := []any{
			v.LabelCode, seq, v.TotalInSet, v.InvoiceNumber, v.AccessKey, v.PurchaseOrder,
			v.SenderName, v.ReceiverName, cityRegion(v.ReceiverCity, v.ReceiverRegion),
			v.ReceiverAddress, v.CarrierName, v.Species, weight, un, risk, class,
		}
		if err := writeRow(file, SheetVolumes, i+2, values); err != nil {
			return nil, err
		}
	}

	if err := file.SetColWidth(SheetVolumes, "A", "A", 34); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := file.SetColWidth(SheetVolumes, "E", "E", 48); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	w.logger.Debug("Label manifest written", zap.Int("rows", len(rows)))
	return buf.Bytes(), nil
}

// BatchReport writes a summary sheet and one row per failed item
func (w *Writer) BatchReport(report *entity.BatchReport) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	summary := [][]any{
		{"Lote", report.JobID},
		{"Processadas", report.Total()},
		{"Sucesso", report.Succeeded},
		{"Falhas", report.Failed},
		{"Início", report.StartedAt.Format("02/01/2006 15:04:05")},
		{"Fim", report.FinishedAt.Format("02/01/2006 15:04:05")},
	}
	for i, row := range summary {
		if err := writeRow(file, SheetSummary, i+1, row); err != nil {
			return nil, err
		}
	}
	if err := file.SetColWidth(SheetSummary, "A", "A", 16); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	if _, err := file.NewSheet(SheetErrors); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeHeader(file, SheetErrors, []string{"Item", "Etapa", "Motivo"}); err != nil {
		return nil, err
	}
	for i, e := range report.Errors {
		if err := writeRow(file, SheetErrors, i+2, []any{e.ItemID, e.Stage, e.Reason}); err != nil {
			return nil, err
		}
	}
	if err := file.SetColWidth(SheetErrors, "C", "C", 80); err != nil {
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	w.logger.Debug("Batch report written",
		zap.String("job_id", report.JobID),
		zap.Int("errors", len(report.Errors)))
	return buf.Bytes(), nil
}

func writeHeader(file *excelize.File, sheet string, header []string) error {
	style, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	values := make([]any, len(header))
	for i, h := range header {
		values[i] = h
	}
	if err := writeRow(file, sheet, 1, values); err != nil {
		return err
	}

	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := file.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	return nil
}

func writeRow(file *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := file.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func cityRegion(city, region string) string {
	switch {
	case city == "":
		return region
	case region == "":
		return city
	}
	return city + "/" + region
}
