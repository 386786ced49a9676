package financesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/civicfinance_backend/conduit"
	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/metrics"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const committeeLockTTL = 10 * time.Minute

type SyncOptions struct {
	Cycle int
	// PageBudget caps pages fetched in this call; 0 means until the feed is exhausted.
	PageBudget int
	// RunId attributes rejected records to a FinanceSyncRun; 0 when called ad hoc.
	RunId   uint
	Matcher *conduit.Matcher
}

// SyncCommittee imports itemized contributions for one committee, resuming from its stored
// cursor.
//
// Each page's rows and the advanced cursor/hasMore are committed in one transaction, so an
// interruption leaves the cursor at the last imported page. Records are deduplicated by
// external record id. A page the authority cannot serve stops the call without moving the
// cursor; a transport failure is returned after the pages already committed.
func SyncCommittee(ctx context.Context, db *gorm.DB, api financeapi.API, logger *logrus.Logger, committeeId uint, opts SyncOptions) (*SyncResult, error) {
	if logger == nil {
		logger = config.GetLogger()
	}
	if opts.Matcher == nil {
		opts.Matcher = conduit.NewMatcher(config.DefaultConduitOrgs)
	}

	lock, err := config.ObtainLock(ctx, fmt.Sprintf("finance:sync:committee:%d", committeeId), committeeLockTTL)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrSyncInProgress
		}
		logger.WithFields(logrus.Fields{"field": "financesync", "committee_id": committeeId}).
			Warnf("committee lock unavailable, continuing unlocked: %v", err)
	}
	if lock != nil {
		defer func() { _ = lock.Release(context.Background()) }()
	}

	db = db.WithContext(ctx)
	var committee models.Committee
	if err := db.Where("id = ?", committeeId).Take(&committee).Error; err != nil {
		return nil, err
	}

	log := logger.WithFields(logrus.Fields{
		"field":        "financesync",
		"candidate_id": committee.CandidateId,
		"committee_id": committee.ID,
		"cycle":        opts.Cycle,
	})

	result := &SyncResult{
		CommitteeId: committee.ID,
		HasMore:     committee.HasMore,
		NextCursor:  committee.SyncCursor,
	}

	cursor := financeapi.Cursor(committee.SyncCursor)
	if !committee.HasMore || committee.SyncCycle != opts.Cycle {
		// Previous pass finished, never ran, or belongs to another cycle: start from the
		// first page of this cycle's feed.
		if committee.HasMore {
			log.WithField("previous_cycle", committee.SyncCycle).Warn("discarding unfinished cursor of another cycle")
		}
		cursor = ""
		result.HasMore = false
		result.NextCursor = ""
		now := time.Now().UTC()
		if err := db.Model(&committee).Updates(map[string]interface{}{
			"sync_started_at": now,
			"sync_cursor":     "",
			"sync_cycle":      opts.Cycle,
			"has_more":        false,
		}).Error; err != nil {
			return nil, err
		}
	}

	// Cursor and hasMore move even when a later page fails.
	defer config.InvalidateFinanceStatus(ctx, committee.CandidateId)

	for opts.PageBudget <= 0 || result.Pages < opts.PageBudget {
		page, err := api.FetchItemizedContributionsPage(ctx, committee.ExternalCommitteeId, opts.Cycle, cursor)
		if err != nil {
			return result, fmt.Errorf("fetch contributions page: %w", err)
		}
		if page == nil {
			result.Unavailable = true
			log.Warn("contributions page unavailable, stopping sync")
			break
		}

		records := toLedgerRecords(committee, opts, page.Records)
		nextHasMore := page.HasMore
		if nextHasMore && page.NextCursor == cursor {
			log.Warn("authority returned the same cursor, treating feed as exhausted")
			nextHasMore = false
		}

		var inserted int64
		err = db.Transaction(func(tx *gorm.DB) error {
			if len(records) > 0 {
				res := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "external_record_id"}},
					DoNothing: true,
				}).CreateInBatches(&records, 100)
				if res.Error != nil {
					return res.Error
				}
				inserted = res.RowsAffected
			}
			for _, rej := range page.Rejected {
				if err := tx.Create(&models.FinanceSyncError{
					SyncRunId:   opts.RunId,
					CandidateId: committee.CandidateId,
					CommitteeId: committee.ID,
					ExternalId:  rej.ExternalRecordId,
					ErrorCode:   "invalid_record",
					Message:     rej.Reason,
					PayloadJSON: validJSONOrNil(rej.Raw),
					Retryable:   false,
				}).Error; err != nil {
					return err
				}
			}
			updates := map[string]interface{}{
				"sync_cursor": string(page.NextCursor),
				"has_more":    nextHasMore,
			}
			if !nextHasMore {
				updates["sync_completed_at"] = time.Now().UTC()
				updates["sync_cursor"] = ""
			}
			return tx.Model(&models.Committee{}).Where("id = ?", committee.ID).Updates(updates).Error
		})
		if err != nil {
			return result, err
		}

		result.Pages++
		result.Imported += int(inserted)
		result.Rejected += len(page.Rejected)
		result.HasMore = nextHasMore
		result.NextCursor = string(page.NextCursor)
		if !nextHasMore {
			result.NextCursor = ""
			break
		}
		cursor = page.NextCursor
	}
	metrics.AddContributionsImported(result.Imported)

	if err := RefreshLocalItemizedTotal(ctx, db, committee.ID, opts.Cycle); err != nil {
		config.LogError(logger, "financesync", "SyncCommittee", "refresh local total", committee.ID, err)
	}

	log.WithFields(logrus.Fields{
		"imported": result.Imported,
		"pages":    result.Pages,
		"has_more": result.HasMore,
	}).Info("committee sync finished")
	return result, nil
}

// RefreshLocalItemizedTotal caches the committee's ledger total for the cycle.
func RefreshLocalItemizedTotal(ctx context.Context, db *gorm.DB, committeeId uint, cycle int) error {
	var total decimal.Decimal
	row := db.WithContext(ctx).Model(&models.ContributionRecord{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("committee_id = ? AND cycle = ? AND is_contribution = ?", committeeId, cycle, true).
		Row()
	if err := row.Scan(&total); err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&models.Committee{}).
		Where("id = ?", committeeId).
		Update("local_itemized_total", total.Round(2)).Error
}

func toLedgerRecords(committee models.Committee, opts SyncOptions, in []financeapi.Contribution) []models.ContributionRecord {
	out := make([]models.ContributionRecord, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, c := range in {
		if _, dup := seen[c.ExternalRecordId]; dup {
			continue
		}
		seen[c.ExternalRecordId] = struct{}{}
		out = append(out, models.ContributionRecord{
			ExternalRecordId: c.ExternalRecordId,
			CandidateId:      committee.CandidateId,
			CommitteeId:      committee.ID,
			Cycle:            opts.Cycle,
			Amount:           c.Amount.Round(2),
			DonorName:        c.DonorName,
			DonorType:        models.DonorTypeFromEntityCode(c.EntityType),
			ReceiptType:      c.ReceiptType,
			ReceivedAt:       c.ReceivedAt,
			IsContribution:   c.IsContribution(),
			IsTransfer:       c.IsTransfer(),
			IsConduitOrg:     opts.Matcher.IsConduitDonor(c.DonorName),
			IsEarmarked:      conduit.IsEarmarked(c.MemoText),
			MemoCode:         c.MemoCode,
			MemoText:         c.MemoText,
		})
	}
	return out
}

func validJSONOrNil(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
