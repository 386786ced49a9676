package reconciliation

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StatusView is the badge plus the numbers behind it.
type StatusView struct {
	CandidateId        string               `json:"candidateId"`
	Cycle              int                  `json:"cycle"`
	Status             models.DisplayStatus `json:"status"`
	PartialCommittees  int                  `json:"partialCommittees"`
	CheckedAt          *string              `json:"checkedAt"`
	ExternalBalanced   *bool                `json:"externalBalanced"`
	DeltaPct           *decimal.Decimal     `json:"deltaPct"`
	IndividualDeltaPct *decimal.Decimal     `json:"individualDeltaPct"`
	PacDeltaPct        *decimal.Decimal     `json:"pacDeltaPct"`
	LocalItemized      *decimal.Decimal     `json:"localItemized"`
	ExternalItemized   *decimal.Decimal     `json:"externalItemized"`
	TotalReceipts      *decimal.Decimal     `json:"totalReceipts"`
	OtherReceipts      *decimal.Decimal     `json:"otherReceipts"`
}

// DisplayStatus resolves the badge for a candidate/cycle: no_data before any sync, partial
// while an active committee has an unfinished sync of this cycle, otherwise the stored reconciliation
// status. Views are cached in redis for ttl when it is connected.
func DisplayStatus(ctx context.Context, db *gorm.DB, candidateId string, cycle int, ttl time.Duration) (*StatusView, error) {
	key := config.FinanceStatusKey(candidateId, cycle)
	var cached StatusView
	if ok, err := config.GetRedisObject(ctx, key, &cached); err == nil && ok {
		return &cached, nil
	}

	cand, err := models.GetCandidate(ctx, db, candidateId)
	if err != nil {
		return nil, err
	}
	view := &StatusView{CandidateId: candidateId, Cycle: cycle, Status: models.DisplayStatusNoData}

	var partial int64
	if err := db.WithContext(ctx).Model(&models.Committee{}).
		Where("candidate_id = ? AND active = ? AND has_more = ? AND sync_cycle = ?", candidateId, true, true, cycle).
		Count(&partial).Error; err != nil {
		return nil, err
	}
	view.PartialCommittees = int(partial)

	rec, err := models.GetFinanceReconciliation(ctx, db, candidateId, cycle)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if rec != nil {
		checkedAt := rec.CheckedAt.UTC().Format(time.RFC3339)
		view.CheckedAt = &checkedAt
		view.ExternalBalanced = &rec.ExternalBalanced
		view.DeltaPct = &rec.DeltaPct
		view.IndividualDeltaPct = &rec.IndividualDeltaPct
		view.PacDeltaPct = &rec.PacDeltaPct
		view.LocalItemized = &rec.LocalItemized
		view.ExternalItemized = &rec.ExternalItemized
		view.TotalReceipts = &rec.ExternalTotalReceipts
		view.OtherReceipts = &rec.OtherReceipts
	}

	switch {
	case cand.LastFinanceSyncAt == nil:
		view.Status = models.DisplayStatusNoData
	case partial > 0:
		view.Status = models.DisplayStatusPartial
	case rec == nil:
		view.Status = models.DisplayStatusNoData
	default:
		view.Status = displayFor(rec.Status)
	}

	if ttl > 0 {
		if err := config.SetRedisObject(ctx, key, view, ttl); err != nil {
			config.LogError(config.GetLogger(), "reconciliation", "DisplayStatus", "cache status", key, err)
		}
	}
	return view, nil
}

func displayFor(s models.ReconciliationStatus) models.DisplayStatus {
	switch s {
	case models.ReconciliationStatusOk:
		return models.DisplayStatusOk
	case models.ReconciliationStatusWarning:
		return models.DisplayStatusWarning
	case models.ReconciliationStatusError:
		return models.DisplayStatusError
	}
	return models.DisplayStatusNoData
}
