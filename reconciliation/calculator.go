// Package reconciliation compares the local contribution ledger with the authority's
// committee totals and classifies each candidate's finance data.
package reconciliation

import (
	"context"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/metrics"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Deps bundles what the calculator and batch runs need. DB and API are required.
type Deps struct {
	DB       *gorm.DB
	API      financeapi.API
	Logger   *logrus.Logger
	Settings config.FinanceSettings
	// Thresholds replaces the settings-derived thresholds when set.
	Thresholds *Thresholds
}

func (d Deps) logger() *logrus.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return config.GetLogger()
}

func (d Deps) thresholds() Thresholds {
	if d.Thresholds != nil {
		return *d.Thresholds
	}
	return ThresholdsFromSettings(d.Settings)
}

type Result struct {
	CandidateId    string                          `json:"candidateId"`
	Cycle          int                             `json:"cycle"`
	Status         models.ReconciliationStatus     `json:"status"`
	Reason         string                          `json:"reason,omitempty"`
	Reconciliation *models.FinanceReconciliation   `json:"reconciliation,omitempty"`
	Rollups        []models.CommitteeFinanceRollup `json:"rollups,omitempty"`
}

func (r *Result) Skipped() bool {
	return r.Status == models.ReconciliationStatusSkipped
}

type externalTotals struct {
	available  bool
	fetchedAt  *time.Time
	itemized   decimal.Decimal
	unitemized decimal.Decimal
	total      decimal.Decimal
	pac        decimal.Decimal
	party      decimal.Decimal
}

// Reconcile fetches fresh totals for every active committee of the candidate, recomputes
// local sums from the ledger and upserts the committee rollups and the candidate's
// reconciliation row.
//
// A committee whose totals cannot be fetched counts as zero for this run. With no active
// committees, or no committee totals at all, the result is skipped and nothing is written.
// If ctx is cancelled before the write the whole candidate is abandoned.
func Reconcile(ctx context.Context, deps Deps, candidateId string, cycle int) (*Result, error) {
	start := time.Now()
	logger := deps.logger()
	ctx, span := otel.Tracer("reconciliation").Start(ctx, "Reconcile", trace.WithAttributes(
		attribute.String("candidate_id", candidateId),
		attribute.Int("cycle", cycle),
	))
	defer span.End()

	log := logger.WithFields(utils.LogFieldsFromContext(ctx)).WithFields(logrus.Fields{
		"field":        "reconciliation",
		"candidate_id": candidateId,
		"cycle":        cycle,
	})

	committees, err := models.ActiveCommittees(ctx, deps.DB, candidateId)
	if err != nil {
		return nil, err
	}
	if len(committees) == 0 {
		metrics.IncReconciliation(string(models.ReconciliationStatusSkipped))
		log.Info("no active committees, skipping")
		return skipped(candidateId, cycle, "no active committees"), nil
	}

	externals := make(map[uint]externalTotals, len(committees))
	for _, c := range committees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		totals, err := deps.API.FetchCommitteeTotals(ctx, c.ExternalCommitteeId, cycle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithField("committee_id", c.ID).Warnf("committee totals fetch failed, counting as zero: %v", err)
			continue
		}
		if totals == nil {
			log.WithField("committee_id", c.ID).Warn("committee totals unavailable, counting as zero")
			continue
		}
		fetchedAt := time.Now().UTC()
		externals[c.ID] = externalTotals{
			available:  true,
			fetchedAt:  &fetchedAt,
			itemized:   totals.Itemized,
			unitemized: totals.Unitemized,
			total:      totals.TotalReceipts,
			pac:        totals.PacContributions,
			party:      totals.PartyContributions,
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := store(ctx, deps.DB, deps.thresholds(), candidateId, cycle, committees, externals)
	if err != nil {
		return nil, err
	}
	metrics.IncReconciliation(string(res.Status))
	metrics.ObserveReconcileDuration(time.Since(start))
	span.SetAttributes(attribute.String("status", string(res.Status)))

	if !res.Skipped() {
		log.WithFields(logrus.Fields{
			"status":            res.Status,
			"delta_pct":         res.Reconciliation.DeltaPct.String(),
			"external_balanced": res.Reconciliation.ExternalBalanced,
			"missing_external":  res.Reconciliation.MissingExternalCount,
		}).Info("candidate reconciled")
	} else {
		log.Info(res.Reason)
	}
	return res, nil
}

func skipped(candidateId string, cycle int, reason string) *Result {
	return &Result{
		CandidateId: candidateId,
		Cycle:       cycle,
		Status:      models.ReconciliationStatusSkipped,
		Reason:      reason,
	}
}
