package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Committee is a fundraising committee linked to a candidate.
//
// SyncCursor is the authority's continuation token and is stored verbatim; it belongs to the
// SyncCycle feed only. A committee with HasMore set has an incomplete sync and is not
// authoritative until resumed.
type Committee struct {
	ID                    uint                 `gorm:"primary_key" json:"id"`
	CandidateId           string               `gorm:"size:64;not null;uniqueIndex:uniq_committee_candidate,priority:1" json:"candidate_id"`
	ExternalCommitteeId   string               `gorm:"size:32;not null;uniqueIndex:uniq_committee_candidate,priority:2;index" json:"external_committee_id"`
	Name                  string               `gorm:"size:255" json:"name"`
	Designation           CommitteeDesignation `gorm:"size:1;not null" json:"designation"`
	CommitteeType         string               `gorm:"size:10" json:"committee_type"`
	Active                bool                 `gorm:"not null;index" json:"active"`
	SyncCursor            string               `gorm:"type:text" json:"sync_cursor"`
	SyncCycle             int                  `gorm:"not null;default:0" json:"sync_cycle"`
	HasMore               bool                 `gorm:"not null" json:"has_more"`
	SyncStartedAt         *time.Time           `json:"sync_started_at"`
	SyncCompletedAt       *time.Time           `json:"sync_completed_at"`
	LocalItemizedTotal    decimal.Decimal      `gorm:"type:decimal(16,2);not null;default:0" json:"local_itemized_total"`
	ExternalItemizedTotal decimal.Decimal      `gorm:"type:decimal(16,2);not null;default:0" json:"external_itemized_total"`
	CreatedAt             time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c Committee) SyncState() CommitteeSyncState {
	if c.HasMore {
		return CommitteeSyncStatePartial
	}
	if c.SyncStartedAt == nil && c.SyncCompletedAt == nil {
		return CommitteeSyncStateNever
	}
	return CommitteeSyncStateComplete
}

func ActiveCommittees(ctx context.Context, db *gorm.DB, candidateId string) ([]Committee, error) {
	var rows []Committee
	err := db.WithContext(ctx).
		Where("candidate_id = ? AND active = ?", candidateId, true).
		Order("id").
		Find(&rows).Error
	return rows, err
}
