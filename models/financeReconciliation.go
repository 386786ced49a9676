package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FinanceReconciliation is the per candidate/cycle trust signal, aggregated across the
// candidate's active committees. OtherReceipts = ExternalTotalReceipts - ExternalItemized -
// ExternalUnitemized. DeltaAmount/DeltaPct mirror the individual category.
type FinanceReconciliation struct {
	ID          uint   `gorm:"primary_key" json:"id"`
	CandidateId string `gorm:"size:64;not null;uniqueIndex:uniq_reconciliation_candidate_cycle,priority:1" json:"candidate_id"`
	Cycle       int    `gorm:"not null;uniqueIndex:uniq_reconciliation_candidate_cycle,priority:2" json:"cycle"`

	LocalItemized           decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"local_itemized"`
	LocalItemizedNet        decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"local_itemized_net"`
	LocalTransfers          decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"local_transfers"`
	LocalEarmarked          decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"local_earmarked"`
	LocalIndividualItemized decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"local_individual_itemized"`
	LocalPacContributions   decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"local_pac_contributions"`
	LocalPartyContributions decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"local_party_contributions"`

	ExternalItemized           decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"external_itemized"`
	ExternalUnitemized         decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"external_unitemized"`
	ExternalTotalReceipts      decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"external_total_receipts"`
	ExternalPacContributions   decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"external_pac_contributions"`
	ExternalPartyContributions decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"external_party_contributions"`
	OtherReceipts              decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"other_receipts"`
	ExternalBalanced           bool            `gorm:"not null" json:"external_balanced"`

	IndividualDelta    decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"individual_delta"`
	IndividualDeltaPct decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"individual_delta_pct"`
	PacDelta           decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"pac_delta"`
	PacDeltaPct        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"pac_delta_pct"`
	DeltaAmount        decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"delta_amount"`
	DeltaPct           decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"delta_pct"`

	Status ReconciliationStatus `gorm:"size:10;not null;index" json:"status"`
	// CommitteeCount is the number of active committees aggregated; MissingExternalCount
	// counts those whose totals could not be fetched and were taken as zero.
	CommitteeCount       int       `gorm:"not null" json:"committee_count"`
	MissingExternalCount int       `gorm:"not null" json:"missing_external_count"`
	CheckedAt            time.Time `gorm:"not null;index" json:"checked_at"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetFinanceReconciliation(ctx context.Context, db *gorm.DB, candidateId string, cycle int) (*FinanceReconciliation, error) {
	var row FinanceReconciliation
	if err := db.WithContext(ctx).
		Where("candidate_id = ? AND cycle = ?", candidateId, cycle).
		Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}
