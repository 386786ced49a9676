package conduit

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/metrics"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MaxRowsPerUpdate bounds the id list of one UPDATE statement.
const MaxRowsPerUpdate = 500

// RecomputeFunc rebuilds a candidate's local aggregates and reconciliation status from the
// ledger and the external totals already on record.
type RecomputeFunc func(ctx context.Context, db *gorm.DB, candidateId string, cycle int) error

type Options struct {
	CandidateId string
	DryRun      bool
}

type CandidateBreakdown struct {
	CandidateId       string          `json:"candidateId"`
	ConduitDonorCount int             `json:"conduitDonorCount"`
	TotalAmountZeroed decimal.Decimal `json:"totalAmountZeroed"`
}

type Report struct {
	DryRun             bool                 `json:"dryRun"`
	Found              int                  `json:"conduitDonorsFound"`
	Updated            int64                `json:"conduitDonorsUpdated"`
	AffectedCandidates []string             `json:"affectedCandidates"`
	Breakdown          []CandidateBreakdown `json:"breakdown"`
	RecomputeFailures  int                  `json:"recomputeFailures"`
}

type matchedRow struct {
	ID          uint
	CandidateId string
	Cycle       int
	Amount      decimal.Decimal
}

type candidateCycle struct {
	candidateId string
	cycle       int
}

// DeduplicateConduits zeroes nonzero ledger rows attributed to conduit organizations and
// recomputes every affected candidate/cycle. In dry-run mode nothing is written and the same
// report is returned. recompute may be nil.
func DeduplicateConduits(ctx context.Context, db *gorm.DB, logger *logrus.Logger, matcher *Matcher, opts Options, recompute RecomputeFunc) (*Report, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if matcher == nil {
		return nil, errors.New("conduit matcher is nil")
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	db = db.WithContext(ctx)

	report := &Report{DryRun: opts.DryRun}
	perCandidate := map[string]*CandidateBreakdown{}
	affected := map[candidateCycle]struct{}{}

	var lastId uint
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var rows []matchedRow
		if err := matchQuery(db, matcher, opts.CandidateId).
			Where("id > ?", lastId).
			Order("id").
			Limit(MaxRowsPerUpdate).
			Find(&rows).Error; err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		lastId = rows[len(rows)-1].ID

		ids := make([]uint, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
			b := perCandidate[r.CandidateId]
			if b == nil {
				b = &CandidateBreakdown{CandidateId: r.CandidateId, TotalAmountZeroed: decimal.Zero}
				perCandidate[r.CandidateId] = b
			}
			b.ConduitDonorCount++
			b.TotalAmountZeroed = b.TotalAmountZeroed.Add(r.Amount)
			affected[candidateCycle{r.CandidateId, r.Cycle}] = struct{}{}
		}
		report.Found += len(rows)

		if opts.DryRun {
			continue
		}
		res := db.Model(&models.ContributionRecord{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"amount":         decimal.Zero,
				"is_conduit_org": true,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		report.Updated += res.RowsAffected
	}

	for id, b := range perCandidate {
		report.AffectedCandidates = append(report.AffectedCandidates, id)
		report.Breakdown = append(report.Breakdown, *b)
	}
	sort.Strings(report.AffectedCandidates)
	sort.Slice(report.Breakdown, func(i, j int) bool {
		return report.Breakdown[i].CandidateId < report.Breakdown[j].CandidateId
	})

	if opts.DryRun {
		logger.WithFields(logrus.Fields{
			"field":        "conduit",
			"found":        report.Found,
			"candidate_id": opts.CandidateId,
		}).Info("conduit dedupe dry run")
		return report, nil
	}
	metrics.AddConduitRowsZeroed(report.Updated)

	if recompute != nil {
		pairs := make([]candidateCycle, 0, len(affected))
		for k := range affected {
			pairs = append(pairs, k)
		}
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].candidateId != pairs[j].candidateId {
				return pairs[i].candidateId < pairs[j].candidateId
			}
			return pairs[i].cycle < pairs[j].cycle
		})
		for _, p := range pairs {
			if err := recompute(ctx, db, p.candidateId, p.cycle); err != nil {
				report.RecomputeFailures++
				config.LogError(logger, "conduit", "DeduplicateConduits", "recompute", map[string]interface{}{
					"candidate_id": p.candidateId,
					"cycle":        p.cycle,
				}, err)
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"field":      "conduit",
		"found":      report.Found,
		"updated":    report.Updated,
		"candidates": len(report.AffectedCandidates),
	}).Info("conduit dedupe completed")
	return report, nil
}

func matchQuery(db *gorm.DB, matcher *Matcher, candidateId string) *gorm.DB {
	q := db.Model(&models.ContributionRecord{}).
		Select("id", "candidate_id", "cycle", "amount").
		Where("amount <> ?", 0)
	if strings.TrimSpace(candidateId) != "" {
		q = q.Where("candidate_id = ?", candidateId)
	}

	conds := []string{"is_conduit_org = ?"}
	args := []interface{}{true}
	for _, p := range matcher.likePatterns() {
		conds = append(conds, "UPPER(donor_name) LIKE ? ESCAPE '!'")
		args = append(args, p)
	}
	return q.Where("("+strings.Join(conds, " OR ")+")", args...)
}
