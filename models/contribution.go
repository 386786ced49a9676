package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContributionRecord is one itemized receipt from the authority's feed.
// Rows with IsConduitOrg keep Amount = 0 once deduplication has run.
type ContributionRecord struct {
	ID               uint            `gorm:"primary_key" json:"id"`
	ExternalRecordId string          `gorm:"size:128;not null;uniqueIndex" json:"external_record_id"`
	CandidateId      string          `gorm:"size:64;not null;index:idx_contribution_candidate_cycle,priority:1" json:"candidate_id"`
	CommitteeId      uint            `gorm:"not null;index" json:"committee_id"`
	Cycle            int             `gorm:"not null;index:idx_contribution_candidate_cycle,priority:2" json:"cycle"`
	Amount           decimal.Decimal `gorm:"type:decimal(16,2);not null;default:0" json:"amount"`
	DonorName        string          `gorm:"size:255" json:"donor_name"`
	DonorType        DonorType       `gorm:"size:20;not null" json:"donor_type"`
	ReceiptType      string          `gorm:"size:10" json:"receipt_type"`
	ReceivedAt       *time.Time      `json:"received_at"`
	IsContribution   bool            `gorm:"not null" json:"is_contribution"`
	IsTransfer       bool            `gorm:"not null" json:"is_transfer"`
	IsConduitOrg     bool            `gorm:"not null;index" json:"is_conduit_org"`
	IsEarmarked      bool            `gorm:"not null" json:"is_earmarked"`
	MemoCode         string          `gorm:"size:5" json:"memo_code"`
	MemoText         string          `gorm:"type:text" json:"memo_text"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
