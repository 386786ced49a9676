package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/metrics"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrBatchInProgress = errors.New("batch reconciliation already in progress")
	ErrRunNotRetryable = errors.New("only failed or cancelled runs can be retried")
)

const batchLockTTL = 30 * time.Minute

type BatchRunResponse struct {
	ID           uint          `json:"id"`
	Status       string        `json:"status"`
	TriggeredBy  string        `json:"triggeredBy"`
	Actor        string        `json:"actor"`
	Attempt      int           `json:"attempt"`
	Options      BatchOptions  `json:"options"`
	Checked      int           `json:"checked"`
	OkCount      int           `json:"okCount"`
	WarningCount int           `json:"warningCount"`
	ErrorCount   int           `json:"errorCount"`
	SkippedCount int           `json:"skippedCount"`
	Details      []BatchDetail `json:"details"`
	Message      string        `json:"message"`
	LastError    *string       `json:"lastError"`
	StartedAt    *string       `json:"startedAt"`
	FinishedAt   *string       `json:"finishedAt"`
}

// CreateBatchRun queues a batch job with normalized options.
func CreateBatchRun(ctx context.Context, db *gorm.DB, settings config.FinanceSettings, opts BatchOptions, triggeredBy string) (*models.ReconciliationRun, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	opts = opts.Normalize(settings)
	optionsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, err
	}
	actor, _ := utils.GetActorFromContext(ctx)
	run := models.ReconciliationRun{
		Status:        models.RunStatusQueued,
		TriggeredBy:   triggeredBy,
		Actor:         actor,
		CorrelationId: utils.CorrelationIdOrNew(ctx),
		OptionsJSON:   optionsJSON,
		ProcessedJSON: models.EncodeProcessedIds(nil),
		DetailsJSON:   []byte("[]"),
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// RunBatchJob executes a queued or interrupted batch job. Each execution increments Attempt;
// candidates recorded in the checkpoint by an earlier attempt are not reconciled again.
// The checkpoint and counts are saved after every candidate.
func RunBatchJob(ctx context.Context, deps Deps, runId uint) (*models.ReconciliationRun, error) {
	logger := deps.logger()

	lock, err := config.ObtainLock(ctx, "finance:batch", batchLockTTL)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrBatchInProgress
		}
		logger.WithField("field", "reconciliation").Warnf("batch lock unavailable, continuing unlocked: %v", err)
	}
	if lock != nil {
		defer func() { _ = lock.Release(context.Background()) }()
	}

	db := deps.DB.WithContext(ctx)
	var run models.ReconciliationRun
	if err := db.Where("id = ?", runId).Take(&run).Error; err != nil {
		return nil, err
	}
	if models.IsTerminalRunStatus(run.Status) {
		return &run, nil
	}

	var opts BatchOptions
	if len(run.OptionsJSON) > 0 {
		if err := json.Unmarshal(run.OptionsJSON, &opts); err != nil {
			return nil, err
		}
	}
	ctx = utils.SetRunIdInContext(ctx, run.ID)
	if run.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, run.CorrelationId)
	}

	now := time.Now().UTC()
	startedAt := run.StartedAt
	if startedAt == nil {
		startedAt = &now
	}
	run.Attempt++
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.RunStatusRunning,
		"attempt":    run.Attempt,
		"started_at": startedAt,
	}).Error; err != nil {
		return nil, err
	}

	processed := run.ProcessedIds()
	var details []BatchDetail
	if len(run.DetailsJSON) > 0 {
		_ = json.Unmarshal(run.DetailsJSON, &details)
	}
	if details == nil {
		details = []BatchDetail{}
	}
	remaining := opts.Limit - len(processed)
	if opts.CandidateId == "" {
		opts.Limit = remaining
	}

	final := deps.DB.WithContext(context.WithoutCancel(ctx))
	checkpoint := func(d BatchDetail) error {
		processed = append(processed, d.CandidateId)
		details = append(details, d)
		switch d.Status {
		case models.ReconciliationStatusOk:
			run.OkCount++
		case models.ReconciliationStatusWarning:
			run.WarningCount++
		case models.ReconciliationStatusError:
			run.ErrorCount++
		default:
			run.SkippedCount++
		}
		run.Checked++
		detailsJSON, _ := json.Marshal(details)
		return final.Model(&run).Updates(map[string]interface{}{
			"processed_json": models.EncodeProcessedIds(processed),
			"details_json":   detailsJSON,
			"checked":        run.Checked,
			"ok_count":       run.OkCount,
			"warning_count":  run.WarningCount,
			"error_count":    run.ErrorCount,
			"skipped_count":  run.SkippedCount,
		}).Error
	}

	var batchErr error
	if opts.CandidateId != "" || remaining > 0 {
		_, batchErr = runBatch(ctx, deps, opts, processed, checkpoint)
	}

	status := models.RunStatusSuccess
	var lastError *string
	switch {
	case ctx.Err() != nil:
		status = models.RunStatusCancelled
	case batchErr != nil:
		status = models.RunStatusFailed
		msg := batchErr.Error()
		lastError = &msg
	case hasFailures(details):
		status = models.RunStatusPartial
	}

	report := BatchReport{
		Checked:      run.Checked,
		OkCount:      run.OkCount,
		WarningCount: run.WarningCount,
		ErrorCount:   run.ErrorCount,
		SkippedCount: run.SkippedCount,
	}
	report.summarize()

	finishedAt := time.Now().UTC()
	if err := final.Model(&run).Updates(map[string]interface{}{
		"status":      status,
		"message":     report.Message,
		"last_error":  lastError,
		"finished_at": finishedAt,
	}).Error; err != nil {
		return nil, err
	}
	metrics.IncBatchRun(status)

	logger.WithFields(logrus.Fields{
		"field":          "reconciliation",
		"run_id":         run.ID,
		"correlation_id": run.CorrelationId,
		"attempt":        run.Attempt,
		"status":         status,
	}).Info(report.Message)

	if err := final.Where("id = ?", run.ID).Take(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func hasFailures(details []BatchDetail) bool {
	for _, d := range details {
		if d.Error != "" {
			return true
		}
	}
	return false
}

// ResetBatchRun puts a failed or cancelled job back in the queue so it resumes from its
// checkpoint on the next execution.
func ResetBatchRun(ctx context.Context, db *gorm.DB, runId uint) (*models.ReconciliationRun, error) {
	var run models.ReconciliationRun
	if err := db.WithContext(ctx).Where("id = ?", runId).Take(&run).Error; err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusFailed && run.Status != models.RunStatusCancelled {
		return &run, ErrRunNotRetryable
	}
	if err := db.WithContext(ctx).Model(&run).Updates(map[string]interface{}{
		"status":       models.RunStatusQueued,
		"triggered_by": models.RunTriggeredRetry,
		"finished_at":  nil,
	}).Error; err != nil {
		return nil, err
	}
	run.Status = models.RunStatusQueued
	run.TriggeredBy = models.RunTriggeredRetry
	run.FinishedAt = nil
	return &run, nil
}

// CancelBatchRun closes a job that never started, recording reason as its last error.
// Jobs that already ran keep their status; use ResetBatchRun to requeue those.
func CancelBatchRun(ctx context.Context, db *gorm.DB, runId uint, reason string) (*models.ReconciliationRun, error) {
	db = db.WithContext(context.WithoutCancel(ctx))
	var run models.ReconciliationRun
	if err := db.Where("id = ?", runId).Take(&run).Error; err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusQueued {
		return &run, nil
	}
	now := time.Now().UTC()
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":      models.RunStatusCancelled,
		"last_error":  &reason,
		"finished_at": now,
	}).Error; err != nil {
		return nil, err
	}
	run.Status = models.RunStatusCancelled
	run.LastError = &reason
	run.FinishedAt = &now
	metrics.IncBatchRun(models.RunStatusCancelled)
	return &run, nil
}

func GetBatchRun(ctx context.Context, db *gorm.DB, runId uint) (*BatchRunResponse, error) {
	var run models.ReconciliationRun
	if err := db.WithContext(ctx).Where("id = ?", runId).Take(&run).Error; err != nil {
		return nil, err
	}
	return toBatchRunResponse(run), nil
}

func ListBatchRuns(ctx context.Context, db *gorm.DB, limit int) ([]BatchRunResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []models.ReconciliationRun
	if err := db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	out := make([]BatchRunResponse, 0, len(runs))
	for _, r := range runs {
		resp := toBatchRunResponse(r)
		resp.Details = nil
		out = append(out, *resp)
	}
	return out, nil
}

func toBatchRunResponse(run models.ReconciliationRun) *BatchRunResponse {
	resp := &BatchRunResponse{
		ID:           run.ID,
		Status:       run.Status,
		TriggeredBy:  run.TriggeredBy,
		Actor:        run.Actor,
		Attempt:      run.Attempt,
		Checked:      run.Checked,
		OkCount:      run.OkCount,
		WarningCount: run.WarningCount,
		ErrorCount:   run.ErrorCount,
		SkippedCount: run.SkippedCount,
		Message:      run.Message,
		LastError:    run.LastError,
		StartedAt:    formatTime(run.StartedAt),
		FinishedAt:   formatTime(run.FinishedAt),
	}
	_ = json.Unmarshal(run.OptionsJSON, &resp.Options)
	_ = json.Unmarshal(run.DetailsJSON, &resp.Details)
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
