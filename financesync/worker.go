package financesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/conduit"
	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Deps bundles what sync runs need. DB and API are required.
type Deps struct {
	DB       *gorm.DB
	API      financeapi.API
	Logger   *logrus.Logger
	Matcher  *conduit.Matcher
	Settings config.FinanceSettings
}

func (d Deps) logger() *logrus.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return config.GetLogger()
}

func (d Deps) matcher() *conduit.Matcher {
	if d.Matcher != nil {
		return d.Matcher
	}
	return conduit.NewMatcher(d.Settings.ConduitOrgs)
}

type committeeStats struct {
	ExternalCommitteeId string `json:"external_committee_id"`
	Imported            int    `json:"imported"`
	Pages               int    `json:"pages"`
	HasMore             bool   `json:"has_more"`
	Error               string `json:"error,omitempty"`
}

// CreateSyncRun queues a sync run for a candidate.
func CreateSyncRun(ctx context.Context, db *gorm.DB, candidateId string, cycle int, pageBudget int, triggeredBy string) (*models.FinanceSyncRun, error) {
	if strings.TrimSpace(candidateId) == "" {
		return nil, errors.New("candidateId is required")
	}
	run := models.FinanceSyncRun{
		CandidateId:   candidateId,
		Cycle:         cycle,
		Status:        models.RunStatusQueued,
		TriggeredBy:   triggeredBy,
		CorrelationId: utils.CorrelationIdOrNew(ctx),
		PageBudget:    pageBudget,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ProcessSyncRun syncs every active committee of the run's candidate. One committee failing
// is recorded on the run and does not stop the others. Terminal runs are left untouched.
func ProcessSyncRun(ctx context.Context, deps Deps, runId uint) (*models.FinanceSyncRun, error) {
	if deps.DB == nil || deps.API == nil {
		return nil, errors.New("sync deps incomplete")
	}
	logger := deps.logger()
	db := deps.DB.WithContext(ctx)

	var run models.FinanceSyncRun
	if err := db.Where("id = ?", runId).Take(&run).Error; err != nil {
		return nil, err
	}
	if models.IsTerminalRunStatus(run.Status) {
		return &run, nil
	}

	ctx, span := otel.Tracer("financesync").Start(ctx, "ProcessSyncRun", trace.WithAttributes(
		attribute.String("candidate_id", run.CandidateId),
		attribute.Int("cycle", run.Cycle),
	))
	defer span.End()
	ctx = utils.SetRunIdInContext(ctx, run.ID)
	ctx = utils.SetCandidateIdInContext(ctx, run.CandidateId)
	if run.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, run.CorrelationId)
	}
	db = deps.DB.WithContext(ctx)

	now := time.Now().UTC()
	startedAt := run.StartedAt
	if startedAt == nil {
		startedAt = &now
	}
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.RunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return nil, err
	}

	// A cancelled ctx would fail the bookkeeping writes; record the outcome detached from it.
	final := deps.DB.WithContext(context.WithoutCancel(ctx))

	committees, err := models.ActiveCommittees(ctx, db, run.CandidateId)
	if err != nil {
		finishedAt := time.Now().UTC()
		_ = createSyncError(context.WithoutCancel(ctx), final, run.ID, run.CandidateId, 0, "", "committees_unavailable", err.Error(), true)
		if uerr := final.Model(&run).Updates(map[string]interface{}{
			"status":      models.RunStatusFailed,
			"finished_at": finishedAt,
			"duration_ms": finishedAt.Sub(*startedAt).Milliseconds(),
			"error_count": 1,
		}).Error; uerr != nil {
			config.LogError(logger, "financesync", "ProcessSyncRun", "mark run failed", run.ID, uerr)
		}
		return nil, fmt.Errorf("active committees: %w", err)
	}

	matcher := deps.matcher()
	stats := make([]committeeStats, 0, len(committees))
	totalImported, errorCount, pagesLanded := 0, 0, 0
	for _, committee := range committees {
		if ctx.Err() != nil {
			break
		}
		res, serr := SyncCommittee(ctx, db, deps.API, logger, committee.ID, SyncOptions{
			Cycle:      run.Cycle,
			PageBudget: run.PageBudget,
			RunId:      run.ID,
			Matcher:    matcher,
		})
		st := committeeStats{ExternalCommitteeId: committee.ExternalCommitteeId}
		if res != nil {
			st.Imported = res.Imported
			st.Pages = res.Pages
			st.HasMore = res.HasMore
			totalImported += res.Imported
			pagesLanded += res.Pages
		}
		if serr != nil {
			errorCount++
			st.Error = serr.Error()
			code := "sync_failed"
			if errors.Is(serr, ErrSyncInProgress) {
				code = "locked"
			}
			_ = createSyncError(ctx, db, run.ID, run.CandidateId, committee.ID, committee.ExternalCommitteeId, code, serr.Error(), true)
			config.LogError(logger, "financesync", "ProcessSyncRun", "sync committee", committee.ExternalCommitteeId, serr)
		}
		stats = append(stats, st)
	}

	var rejected int64
	if err := final.Model(&models.FinanceSyncError{}).
		Where("sync_run_id = ? AND error_code = ?", run.ID, "invalid_record").
		Count(&rejected).Error; err != nil {
		return nil, err
	}

	finishedAt := time.Now().UTC()
	status := models.RunStatusSuccess
	switch {
	case ctx.Err() != nil:
		status = models.RunStatusCancelled
	case errorCount > 0 && pagesLanded == 0:
		status = models.RunStatusFailed
	case errorCount > 0:
		status = models.RunStatusPartial
	}

	statsJSON, _ := json.Marshal(stats)
	if err := final.Model(&run).Updates(map[string]interface{}{
		"status":           status,
		"finished_at":      finishedAt,
		"duration_ms":      finishedAt.Sub(*startedAt).Milliseconds(),
		"records_imported": totalImported,
		"error_count":      errorCount + int(rejected),
		"stats_json":       statsJSON,
	}).Error; err != nil {
		return nil, err
	}
	if pagesLanded > 0 {
		if err := final.Model(&models.Candidate{}).
			Where("id = ?", run.CandidateId).
			Update("last_finance_sync_at", finishedAt).Error; err != nil {
			return nil, err
		}
	}
	config.InvalidateFinanceStatus(ctx, run.CandidateId)

	logger.WithFields(utils.LogFieldsFromContext(ctx)).WithFields(logrus.Fields{
		"field":      "financesync",
		"status":     status,
		"imported":   totalImported,
		"committees": len(committees),
	}).Info("sync run finished")

	if err := final.Where("id = ?", run.ID).Take(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// SyncCandidate creates and processes a sync run inline.
func SyncCandidate(ctx context.Context, deps Deps, candidateId string, cycle int, pageBudget int, triggeredBy string) (*models.FinanceSyncRun, error) {
	run, err := CreateSyncRun(ctx, deps.DB, candidateId, cycle, pageBudget, triggeredBy)
	if err != nil {
		return nil, err
	}
	return ProcessSyncRun(ctx, deps, run.ID)
}

func GetSyncRun(ctx context.Context, db *gorm.DB, runId uint) (*SyncRunDetailResponse, error) {
	var run models.FinanceSyncRun
	if err := db.WithContext(ctx).Where("id = ?", runId).Take(&run).Error; err != nil {
		return nil, err
	}
	var errs []models.FinanceSyncError
	if err := db.WithContext(ctx).Where("sync_run_id = ?", runId).Order("id").Limit(200).Find(&errs).Error; err != nil {
		return nil, err
	}
	resp := &SyncRunDetailResponse{SyncRunResponse: toSyncRunResponse(run)}
	for _, e := range errs {
		resp.Errors = append(resp.Errors, SyncErrorResponse{
			ID:          e.ID,
			CommitteeId: e.CommitteeId,
			ExternalId:  e.ExternalId,
			Code:        e.ErrorCode,
			Message:     e.Message,
			Retryable:   e.Retryable,
		})
	}
	return resp, nil
}

func ListSyncRuns(ctx context.Context, db *gorm.DB, candidateId string, limit int) ([]SyncRunResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []models.FinanceSyncRun
	if err := db.WithContext(ctx).
		Where("candidate_id = ?", candidateId).
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	out := make([]SyncRunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, toSyncRunResponse(r))
	}
	return out, nil
}

func createSyncError(ctx context.Context, db *gorm.DB, runId uint, candidateId string, committeeId uint, externalId string, code string, message string, retryable bool) error {
	errRec := models.FinanceSyncError{
		SyncRunId:   runId,
		CandidateId: candidateId,
		CommitteeId: committeeId,
		ExternalId:  externalId,
		ErrorCode:   code,
		Message:     message,
		Retryable:   retryable,
	}
	return db.WithContext(ctx).Create(&errRec).Error
}
