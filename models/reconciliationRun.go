package models

import (
	"encoding/json"
	"time"
)

// ReconciliationRun is a durable batch job. Attempt counts executions; ProcessedJSON lists
// candidate ids already handled so a retried job resumes after them.
type ReconciliationRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Status        string     `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	Actor         string     `gorm:"size:128" json:"actor"`
	CorrelationId string     `gorm:"size:64;index" json:"correlation_id"`
	OptionsJSON   []byte     `gorm:"type:json" json:"options"`
	Attempt       int        `gorm:"not null;default:0" json:"attempt"`
	ProcessedJSON []byte     `gorm:"type:json" json:"processed"`
	Checked       int        `json:"checked"`
	OkCount       int        `json:"ok_count"`
	WarningCount  int        `json:"warning_count"`
	ErrorCount    int        `json:"error_count"`
	SkippedCount  int        `json:"skipped_count"`
	DetailsJSON   []byte     `gorm:"type:json" json:"details"`
	Message       string     `gorm:"type:text" json:"message"`
	LastError     *string    `gorm:"type:text" json:"last_error"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r ReconciliationRun) ProcessedIds() []string {
	if len(r.ProcessedJSON) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(r.ProcessedJSON, &ids); err != nil {
		return nil
	}
	return ids
}

func EncodeProcessedIds(ids []string) []byte {
	if ids == nil {
		ids = []string{}
	}
	b, _ := json.Marshal(ids)
	return b
}
