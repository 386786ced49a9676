package reconciliation

import (
	"context"
	"fmt"
	"io"

	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const exportSheet = "Reconciliation"

var exportHeadings = []string{
	"CandidateId", "CandidateName", "Cycle", "Status", "ExternalBalanced",
	"LocalItemized", "LocalItemizedNet", "LocalTransfers", "LocalEarmarked",
	"LocalIndividualItemized", "LocalPacContributions", "LocalPartyContributions",
	"ExternalItemized", "ExternalUnitemized", "ExternalTotalReceipts", "OtherReceipts",
	"ExternalPacContributions", "ExternalPartyContributions",
	"IndividualDelta", "IndividualDeltaPct", "PacDelta", "PacDeltaPct",
	"Committees", "MissingExternal", "CheckedAt",
}

type exportRow struct {
	models.FinanceReconciliation
	CandidateName string
}

// ExportXLSX writes every reconciliation of the cycle as one worksheet row, ordered by
// status severity and candidate.
func ExportXLSX(ctx context.Context, db *gorm.DB, cycle int, w io.Writer) (int, error) {
	var rows []exportRow
	if err := db.WithContext(ctx).
		Table("finance_reconciliations").
		Select("finance_reconciliations.*, candidates.name AS candidate_name").
		Joins("LEFT JOIN candidates ON candidates.id = finance_reconciliations.candidate_id").
		Where("finance_reconciliations.cycle = ?", cycle).
		Order("CASE finance_reconciliations.status WHEN 'error' THEN 0 WHEN 'warning' THEN 1 ELSE 2 END, finance_reconciliations.candidate_id").
		Scan(&rows).Error; err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return 0, err
	}

	for i, h := range exportHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return 0, err
		}
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return 0, err
		}
	}

	for r, row := range rows {
		values := []interface{}{
			row.CandidateId, row.CandidateName, row.Cycle, string(row.Status), row.ExternalBalanced,
			money(row.LocalItemized), money(row.LocalItemizedNet), money(row.LocalTransfers), money(row.LocalEarmarked),
			money(row.LocalIndividualItemized), money(row.LocalPacContributions), money(row.LocalPartyContributions),
			money(row.ExternalItemized), money(row.ExternalUnitemized), money(row.ExternalTotalReceipts), money(row.OtherReceipts),
			money(row.ExternalPacContributions), money(row.ExternalPartyContributions),
			money(row.IndividualDelta), money(row.IndividualDeltaPct), money(row.PacDelta), money(row.PacDeltaPct),
			row.CommitteeCount, row.MissingExternalCount, row.CheckedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		for c, v := range values {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return 0, err
			}
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return 0, fmt.Errorf("write %s: %w", cell, err)
			}
		}
	}

	if err := f.Write(w); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
