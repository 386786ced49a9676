package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Candidate is the slice of the surrounding system's candidate record this core reads and
// stamps. Profile fields are owned elsewhere.
type Candidate struct {
	ID                 string     `gorm:"primary_key;size:64" json:"id"`
	Name               string     `gorm:"size:255;not null" json:"name"`
	Office             string     `gorm:"size:20" json:"office"`
	State              string     `gorm:"size:2" json:"state"`
	PrimaryCommitteeId *string    `gorm:"size:32" json:"primary_committee_id"`
	LastFinanceSyncAt  *time.Time `gorm:"index" json:"last_finance_sync_at"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CandidateExternalId links a candidate to one authority candidate id.
// Exactly one row per candidate carries IsPrimary.
type CandidateExternalId struct {
	ID                  uint        `gorm:"primary_key" json:"id"`
	CandidateId         string      `gorm:"size:64;not null;uniqueIndex:uniq_candidate_external_id,priority:1" json:"candidate_id"`
	ExternalCandidateId string      `gorm:"size:32;not null;uniqueIndex:uniq_candidate_external_id,priority:2" json:"external_candidate_id"`
	Office              string      `gorm:"size:20" json:"office"`
	Cycle               int         `json:"cycle"`
	IsPrimary           bool        `gorm:"not null;index" json:"is_primary"`
	MatchSource         MatchSource `gorm:"size:20;not null" json:"match_source"`
	MatchConfidence     *float64    `json:"match_confidence"`
	CreatedAt           time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetCandidate(ctx context.Context, db *gorm.DB, candidateId string) (*Candidate, error) {
	var c Candidate
	if err := db.WithContext(ctx).Where("id = ?", candidateId).Take(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}
