package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var validate = validator.New()

// BatchOptions is the batch trigger contract. Nil booleans default to true; zero numbers take
// the configured defaults.
type BatchOptions struct {
	CandidateId       string   `json:"candidateId" validate:"omitempty,max=64"`
	Cycle             int      `json:"cycle" validate:"omitempty,gte=1980,lte=2100"`
	Limit             int      `json:"limit" validate:"omitempty,gte=1,lte=1000"`
	OnlyStale         *bool    `json:"onlyStale"`
	OnlyWithData      *bool    `json:"onlyWithData"`
	VarianceThreshold *float64 `json:"varianceThreshold" validate:"omitempty,gt=0,lte=100"`
}

// Normalize fills defaults from settings.
func (o BatchOptions) Normalize(s config.FinanceSettings) BatchOptions {
	o.CandidateId = strings.TrimSpace(o.CandidateId)
	if o.Cycle == 0 {
		o.Cycle = s.DefaultCycle
	}
	if o.Limit == 0 {
		o.Limit = s.BatchLimit
	}
	if o.OnlyStale == nil {
		o.OnlyStale = utils.NewTrue()
	}
	if o.OnlyWithData == nil {
		o.OnlyWithData = utils.NewTrue()
	}
	return o
}

// Thresholds applies varianceThreshold as the warning bound; the error bound and balance
// tolerance stay as configured.
func (o BatchOptions) Thresholds(s config.FinanceSettings) Thresholds {
	th := ThresholdsFromSettings(s)
	if o.VarianceThreshold != nil {
		th.WarningPct = decimal.NewFromFloat(*o.VarianceThreshold)
	}
	return th
}

type BatchDetail struct {
	CandidateId        string                      `json:"candidateId"`
	Name               string                      `json:"name"`
	Status             models.ReconciliationStatus `json:"status"`
	DeltaPct           *decimal.Decimal            `json:"deltaPct"`
	IndividualDeltaPct *decimal.Decimal            `json:"individualDeltaPct"`
	PacDeltaPct        *decimal.Decimal            `json:"pacDeltaPct"`
	Error              string                      `json:"error,omitempty"`
}

type BatchReport struct {
	Success      bool          `json:"success"`
	Checked      int           `json:"checked"`
	OkCount      int           `json:"okCount"`
	WarningCount int           `json:"warningCount"`
	ErrorCount   int           `json:"errorCount"`
	SkippedCount int           `json:"skippedCount"`
	Details      []BatchDetail `json:"details"`
	Message      string        `json:"message"`
}

func (r *BatchReport) add(d BatchDetail) {
	r.Checked++
	switch d.Status {
	case models.ReconciliationStatusOk:
		r.OkCount++
	case models.ReconciliationStatusWarning:
		r.WarningCount++
	case models.ReconciliationStatusError:
		r.ErrorCount++
	default:
		r.SkippedCount++
	}
	r.Details = append(r.Details, d)
}

func (r *BatchReport) summarize() {
	r.Message = fmt.Sprintf("Checked %d candidates: %d ok, %d warnings, %d errors, %d skipped",
		r.Checked, r.OkCount, r.WarningCount, r.ErrorCount, r.SkippedCount)
}

// SelectCandidates picks the candidates a batch should reconcile, oldest local sync first.
// exclude lists candidates already handled by an earlier attempt of the same job.
func SelectCandidates(ctx context.Context, db *gorm.DB, opts BatchOptions, staleAfter time.Duration, now time.Time, exclude []string) ([]models.Candidate, error) {
	var out []models.Candidate
	if opts.CandidateId != "" {
		for _, id := range exclude {
			if id == opts.CandidateId {
				return out, nil
			}
		}
		cand, err := models.GetCandidate(ctx, db, opts.CandidateId)
		if err != nil {
			return nil, err
		}
		return append(out, *cand), nil
	}

	q := db.WithContext(ctx).Model(&models.Candidate{})
	if opts.OnlyWithData == nil || *opts.OnlyWithData {
		q = q.Where("last_finance_sync_at IS NOT NULL")
	}
	if opts.OnlyStale == nil || *opts.OnlyStale {
		cutoff := now.Add(-staleAfter)
		q = q.Where("id NOT IN (?)", db.Model(&models.FinanceReconciliation{}).
			Select("candidate_id").
			Where("cycle = ? AND checked_at >= ?", opts.Cycle, cutoff))
	}
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	err := q.Order("last_finance_sync_at IS NULL DESC, last_finance_sync_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// batchHook runs after each candidate; an error stops the batch.
type batchHook func(detail BatchDetail) error

// RunBatch reconciles the selected candidates one at a time. A failing candidate is recorded
// as skipped and the batch continues; only a lost store connection or cancellation stops it.
// Cancellation takes effect between candidates.
func RunBatch(ctx context.Context, deps Deps, opts BatchOptions) (*BatchReport, error) {
	return runBatch(ctx, deps, opts, nil, nil)
}

func runBatch(ctx context.Context, deps Deps, opts BatchOptions, exclude []string, after batchHook) (*BatchReport, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	opts = opts.Normalize(deps.Settings)
	logger := deps.logger()
	th := opts.Thresholds(deps.Settings)
	deps.Thresholds = &th

	report := &BatchReport{Details: []BatchDetail{}}
	candidates, err := SelectCandidates(ctx, deps.DB, opts, deps.Settings.StaleAfter, time.Now().UTC(), exclude)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			d := BatchDetail{CandidateId: opts.CandidateId, Status: models.ReconciliationStatusSkipped, Error: "candidate not found"}
			report.add(d)
			if after != nil {
				if err := after(d); err != nil {
					return report, err
				}
			}
			report.Success = true
			report.summarize()
			return report, nil
		}
		return nil, err
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			report.summarize()
			return report, err
		}

		detail := BatchDetail{CandidateId: cand.ID, Name: cand.Name}
		res, rerr := Reconcile(ctx, deps, cand.ID, opts.Cycle)
		switch {
		case rerr != nil && ctx.Err() != nil:
			report.summarize()
			return report, ctx.Err()
		case rerr != nil:
			if pingErr := pingStore(ctx, deps.DB); pingErr != nil {
				report.summarize()
				return report, fmt.Errorf("ledger store unavailable: %w", pingErr)
			}
			logger.WithFields(logrus.Fields{
				"field":        "reconciliation",
				"candidate_id": cand.ID,
				"cycle":        opts.Cycle,
			}).Warnf("candidate reconciliation failed, skipping: %v", rerr)
			detail.Status = models.ReconciliationStatusSkipped
			detail.Error = rerr.Error()
		case res.Skipped():
			detail.Status = models.ReconciliationStatusSkipped
		default:
			detail.Status = res.Status
			detail.DeltaPct = &res.Reconciliation.DeltaPct
			detail.IndividualDeltaPct = &res.Reconciliation.IndividualDeltaPct
			detail.PacDeltaPct = &res.Reconciliation.PacDeltaPct
		}
		report.add(detail)
		if after != nil {
			if err := after(detail); err != nil {
				report.summarize()
				return report, err
			}
		}
	}

	report.Success = true
	report.summarize()
	logger.WithFields(logrus.Fields{
		"field":   "reconciliation",
		"cycle":   opts.Cycle,
		"checked": report.Checked,
		"ok":      report.OkCount,
		"warning": report.WarningCount,
		"error":   report.ErrorCount,
		"skipped": report.SkippedCount,
	}).Info("batch reconciliation finished")
	return report, nil
}

func pingStore(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(context.WithoutCancel(ctx))
}
