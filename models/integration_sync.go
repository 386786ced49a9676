package models

import "time"

// FinanceSyncRun records one contribution sync over a candidate's active committees.
type FinanceSyncRun struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	CandidateId     string     `gorm:"size:64;index;not null" json:"candidate_id"`
	Cycle           int        `gorm:"not null" json:"cycle"`
	Status          string     `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy     string     `gorm:"size:20" json:"triggered_by"`
	CorrelationId   string     `gorm:"size:64;index" json:"correlation_id"`
	PageBudget      int        `json:"page_budget"`
	StatsJSON       []byte     `gorm:"type:json" json:"stats"`
	RecordsImported int        `json:"records_imported"`
	ErrorCount      int        `json:"error_count"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	DurationMs      int64      `json:"duration_ms"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// FinanceSyncError is one rejected record or failed committee inside a sync run.
type FinanceSyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	CandidateId string    `gorm:"size:64;index;not null" json:"candidate_id"`
	CommitteeId uint      `gorm:"index" json:"committee_id"`
	ExternalId  string    `gorm:"size:128" json:"external_id"`
	ErrorCode   string    `gorm:"size:50" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
