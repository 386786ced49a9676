package financesync

import (
	"errors"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNoCommitteesFound = errors.New("no principal or authorized committees found")
	ErrSyncInProgress    = errors.New("committee sync already in progress")
	ErrNoExternalId      = errors.New("candidate has no external candidate id")
)

type LinkResult struct {
	CandidateId        string             `json:"candidateId"`
	PrimaryCommitteeId string             `json:"primaryCommitteeId"`
	Committees         []models.Committee `json:"committees"`
}

type ExternalIdInput struct {
	CandidateId         string             `json:"candidateId" validate:"required,max=64"`
	ExternalCandidateId string             `json:"externalCandidateId" validate:"required,max=32"`
	Office              string             `json:"office" validate:"omitempty,max=20"`
	Cycle               int                `json:"cycle" validate:"omitempty,gte=1980,lte=2100"`
	IsPrimary           bool               `json:"isPrimary"`
	MatchSource         models.MatchSource `json:"matchSource" validate:"required,oneof=manual automatic"`
	MatchConfidence     *float64           `json:"matchConfidence" validate:"omitempty,gte=0,lte=1"`
}

type CommitteeView struct {
	ID                    uint                        `json:"id"`
	ExternalCommitteeId   string                      `json:"externalCommitteeId"`
	Name                  string                      `json:"name"`
	Designation           models.CommitteeDesignation `json:"designation"`
	Active                bool                        `json:"active"`
	SyncState             models.CommitteeSyncState   `json:"syncState"`
	SyncStartedAt         *string                     `json:"syncStartedAt"`
	SyncCompletedAt       *string                     `json:"syncCompletedAt"`
	LocalItemizedTotal    decimal.Decimal             `json:"localItemizedTotal"`
	ExternalItemizedTotal decimal.Decimal             `json:"externalItemizedTotal"`
}

type SyncResult struct {
	CommitteeId uint   `json:"committeeId"`
	Imported    int    `json:"imported"`
	Rejected    int    `json:"rejected"`
	Pages       int    `json:"pages"`
	HasMore     bool   `json:"hasMore"`
	NextCursor  string `json:"nextCursor"`
	// Unavailable is set when the authority returned no usable page.
	Unavailable bool `json:"unavailable"`
}

type SyncRunResponse struct {
	ID              uint    `json:"id"`
	CandidateId     string  `json:"candidateId"`
	Cycle           int     `json:"cycle"`
	Status          string  `json:"status"`
	TriggeredBy     string  `json:"triggeredBy"`
	StartedAt       *string `json:"startedAt"`
	FinishedAt      *string `json:"finishedAt"`
	DurationMs      int64   `json:"durationMs"`
	RecordsImported int     `json:"recordsImported"`
	ErrorCount      int     `json:"errorCount"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID          uint   `json:"id"`
	CommitteeId uint   `json:"committeeId"`
	ExternalId  string `json:"externalId"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Retryable   bool   `json:"retryable"`
}

type LinkRequest struct {
	ExternalCandidateId string `json:"externalCandidateId"`
}

type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type TriggerSyncRequest struct {
	Cycle      int `json:"cycle" validate:"omitempty,gte=1980,lte=2100"`
	PageBudget int `json:"pageBudget" validate:"omitempty,gte=0,lte=10000"`
}

type SyncPubSubPayload struct {
	RunId         uint   `json:"run_id"`
	CandidateId   string `json:"candidate_id"`
	CorrelationId string `json:"correlation_id"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toSyncRunResponse(run models.FinanceSyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:              run.ID,
		CandidateId:     run.CandidateId,
		Cycle:           run.Cycle,
		Status:          run.Status,
		TriggeredBy:     run.TriggeredBy,
		StartedAt:       formatTime(run.StartedAt),
		FinishedAt:      formatTime(run.FinishedAt),
		DurationMs:      run.DurationMs,
		RecordsImported: run.RecordsImported,
		ErrorCount:      run.ErrorCount,
	}
}
