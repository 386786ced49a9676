package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommitteeFinanceRollup is recomputed per committee/cycle; never hand-edited.
type CommitteeFinanceRollup struct {
	ID          uint   `gorm:"primary_key" json:"id"`
	CommitteeId uint   `gorm:"not null;uniqueIndex:uniq_rollup_committee_cycle,priority:1" json:"committee_id"`
	Cycle       int    `gorm:"not null;uniqueIndex:uniq_rollup_committee_cycle,priority:2" json:"cycle"`
	CandidateId string `gorm:"size:64;not null;index" json:"candidate_id"`

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
	// ExternalAvailable is false when the authority had no totals for the committee/cycle.
	ExternalAvailable bool       `gorm:"not null" json:"external_available"`
	ExternalFetchedAt *time.Time `json:"external_fetched_at"`

	ComputedAt time.Time `gorm:"not null" json:"computed_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
