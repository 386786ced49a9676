package reconciliation

import (
	"context"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/conduit"
	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var rollupUpsertColumns = []string{
	"candidate_id",
	"local_itemized", "local_itemized_net", "local_transfers", "local_earmarked",
	"local_individual_itemized", "local_pac_contributions", "local_party_contributions",
	"external_itemized", "external_unitemized", "external_total_receipts",
	"external_pac_contributions", "external_party_contributions",
	"external_available", "external_fetched_at", "computed_at", "updated_at",
}

var reconciliationUpsertColumns = []string{
	"local_itemized", "local_itemized_net", "local_transfers", "local_earmarked",
	"local_individual_itemized", "local_pac_contributions", "local_party_contributions",
	"external_itemized", "external_unitemized", "external_total_receipts",
	"external_pac_contributions", "external_party_contributions",
	"other_receipts", "external_balanced",
	"individual_delta", "individual_delta_pct", "pac_delta", "pac_delta_pct",
	"delta_amount", "delta_pct", "status",
	"committee_count", "missing_external_count", "checked_at", "updated_at",
}

// localTotals are one committee's ledger sums. Conduit rows are never counted, even before
// the cleanup pass zeroes them. Earmarked receipts are excluded from the net and
// per-donor-type figures.
type localTotals struct {
	CommitteeId uint
	Itemized    decimal.Decimal
	ItemizedNet decimal.Decimal
	Transfers   decimal.Decimal
	Earmarked   decimal.Decimal
	Individual  decimal.Decimal
	Pac         decimal.Decimal
	Party       decimal.Decimal
}

func localSums(ctx context.Context, db *gorm.DB, candidateId string, cycle int) (map[uint]localTotals, error) {
	var rows []localTotals
	if err := db.WithContext(ctx).Raw(`
		SELECT
			committee_id,
			COALESCE(SUM(CASE WHEN is_contribution AND NOT is_conduit_org THEN amount ELSE 0 END), 0) AS itemized,
			COALESCE(SUM(CASE WHEN is_contribution AND NOT is_conduit_org AND NOT is_earmarked THEN amount ELSE 0 END), 0) AS itemized_net,
			COALESCE(SUM(CASE WHEN is_transfer AND NOT is_conduit_org THEN amount ELSE 0 END), 0) AS transfers,
			COALESCE(SUM(CASE WHEN is_contribution AND NOT is_conduit_org AND is_earmarked THEN amount ELSE 0 END), 0) AS earmarked,
			COALESCE(SUM(CASE WHEN is_contribution AND NOT is_conduit_org AND NOT is_earmarked AND donor_type = ? THEN amount ELSE 0 END), 0) AS individual,
			COALESCE(SUM(CASE WHEN is_contribution AND NOT is_conduit_org AND NOT is_earmarked AND donor_type = ? THEN amount ELSE 0 END), 0) AS pac,
			COALESCE(SUM(CASE WHEN is_contribution AND NOT is_conduit_org AND NOT is_earmarked AND donor_type = ? THEN amount ELSE 0 END), 0) AS party
		FROM contribution_records
		WHERE candidate_id = ? AND cycle = ?
		GROUP BY committee_id
	`, models.DonorTypeIndividual, models.DonorTypePac, models.DonorTypeParty, candidateId, cycle).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uint]localTotals, len(rows))
	for _, r := range rows {
		out[r.CommitteeId] = r
	}
	return out, nil
}

// store recomputes local sums and writes rollups plus the reconciliation row in one
// transaction. externals holds only committees whose totals are known.
func store(ctx context.Context, db *gorm.DB, th Thresholds, candidateId string, cycle int, committees []models.Committee, externals map[uint]externalTotals) (*Result, error) {
	if len(externals) == 0 {
		return skipped(candidateId, cycle, "no external totals available"), nil
	}

	locals, err := localSums(ctx, db, candidateId, cycle)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := models.FinanceReconciliation{
		CandidateId:    candidateId,
		Cycle:          cycle,
		CommitteeCount: len(committees),
		CheckedAt:      now,
	}
	rollups := make([]models.CommitteeFinanceRollup, 0, len(committees))
	for _, c := range committees {
		l := locals[c.ID]
		e := externals[c.ID]
		if !e.available {
			rec.MissingExternalCount++
		}
		rollups = append(rollups, models.CommitteeFinanceRollup{
			CommitteeId:                c.ID,
			Cycle:                      cycle,
			CandidateId:                candidateId,
			LocalItemized:              l.Itemized.Round(2),
			LocalItemizedNet:           l.ItemizedNet.Round(2),
			LocalTransfers:             l.Transfers.Round(2),
			LocalEarmarked:             l.Earmarked.Round(2),
			LocalIndividualItemized:    l.Individual.Round(2),
			LocalPacContributions:      l.Pac.Round(2),
			LocalPartyContributions:    l.Party.Round(2),
			ExternalItemized:           e.itemized.Round(2),
			ExternalUnitemized:         e.unitemized.Round(2),
			ExternalTotalReceipts:      e.total.Round(2),
			ExternalPacContributions:   e.pac.Round(2),
			ExternalPartyContributions: e.party.Round(2),
			ExternalAvailable:          e.available,
			ExternalFetchedAt:          e.fetchedAt,
			ComputedAt:                 now,
		})

		rec.LocalItemized = rec.LocalItemized.Add(l.Itemized)
		rec.LocalItemizedNet = rec.LocalItemizedNet.Add(l.ItemizedNet)
		rec.LocalTransfers = rec.LocalTransfers.Add(l.Transfers)
		rec.LocalEarmarked = rec.LocalEarmarked.Add(l.Earmarked)
		rec.LocalIndividualItemized = rec.LocalIndividualItemized.Add(l.Individual)
		rec.LocalPacContributions = rec.LocalPacContributions.Add(l.Pac)
		rec.LocalPartyContributions = rec.LocalPartyContributions.Add(l.Party)
		rec.ExternalItemized = rec.ExternalItemized.Add(e.itemized)
		rec.ExternalUnitemized = rec.ExternalUnitemized.Add(e.unitemized)
		rec.ExternalTotalReceipts = rec.ExternalTotalReceipts.Add(e.total)
		rec.ExternalPacContributions = rec.ExternalPacContributions.Add(e.pac)
		rec.ExternalPartyContributions = rec.ExternalPartyContributions.Add(e.party)
	}
	roundReconciliation(&rec)

	rec.OtherReceipts = OtherReceipts(rec.ExternalItemized, rec.ExternalUnitemized, rec.ExternalTotalReceipts)
	rec.ExternalBalanced = IsBalanced(rec.ExternalItemized, rec.ExternalUnitemized, rec.OtherReceipts, rec.ExternalTotalReceipts, th.BalanceTolerance)
	rec.IndividualDelta = rec.LocalIndividualItemized.Sub(rec.ExternalItemized)
	rec.IndividualDeltaPct = DeltaPct(rec.IndividualDelta, rec.ExternalItemized)
	rec.PacDelta = rec.LocalPacContributions.Sub(rec.ExternalPacContributions)
	rec.PacDeltaPct = DeltaPct(rec.PacDelta, rec.ExternalPacContributions)
	rec.DeltaAmount = rec.IndividualDelta
	rec.DeltaPct = rec.IndividualDeltaPct
	rec.Status = Classify(rec.ExternalBalanced, rec.DeltaPct, th)

	err = db.WithContext(config.WithDerivedWrite(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "committee_id"}, {Name: "cycle"}},
			DoUpdates: clause.AssignmentColumns(rollupUpsertColumns),
		}).Create(&rollups).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "cycle"}},
			DoUpdates: clause.AssignmentColumns(reconciliationUpsertColumns),
		}).Create(&rec).Error; err != nil {
			return err
		}
		for _, r := range rollups {
			if !r.ExternalAvailable {
				continue
			}
			if err := tx.Model(&models.Committee{}).
				Where("id = ?", r.CommitteeId).
				Updates(map[string]interface{}{
					"local_itemized_total":    r.LocalItemized,
					"external_itemized_total": r.ExternalItemized,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	config.InvalidateFinanceStatus(ctx, candidateId)

	stored, err := models.GetFinanceReconciliation(ctx, db, candidateId, cycle)
	if err != nil {
		return nil, err
	}
	return &Result{
		CandidateId:    candidateId,
		Cycle:          cycle,
		Status:         stored.Status,
		Reconciliation: stored,
		Rollups:        rollups,
	}, nil
}

func roundReconciliation(rec *models.FinanceReconciliation) {
	for _, d := range []*decimal.Decimal{
		&rec.LocalItemized, &rec.LocalItemizedNet, &rec.LocalTransfers, &rec.LocalEarmarked,
		&rec.LocalIndividualItemized, &rec.LocalPacContributions, &rec.LocalPartyContributions,
		&rec.ExternalItemized, &rec.ExternalUnitemized, &rec.ExternalTotalReceipts,
		&rec.ExternalPacContributions, &rec.ExternalPartyContributions,
	} {
		*d = d.Round(2)
	}
}

// RecomputeFromLedger rebuilds the candidate's rollups and reconciliation from the current
// ledger and the external totals already stored on its rollups. Nothing is fetched.
func RecomputeFromLedger(ctx context.Context, db *gorm.DB, th Thresholds, candidateId string, cycle int) (*Result, error) {
	committees, err := models.ActiveCommittees(ctx, db, candidateId)
	if err != nil {
		return nil, err
	}
	if len(committees) == 0 {
		return skipped(candidateId, cycle, "no active committees"), nil
	}
	ids := make([]uint, 0, len(committees))
	for _, c := range committees {
		ids = append(ids, c.ID)
	}

	var stored []models.CommitteeFinanceRollup
	if err := db.WithContext(ctx).
		Where("committee_id IN ? AND cycle = ?", ids, cycle).
		Find(&stored).Error; err != nil {
		return nil, err
	}
	externals := make(map[uint]externalTotals, len(stored))
	for _, r := range stored {
		if !r.ExternalAvailable {
			continue
		}
		externals[r.CommitteeId] = externalTotals{
			available:  true,
			fetchedAt:  r.ExternalFetchedAt,
			itemized:   r.ExternalItemized,
			unitemized: r.ExternalUnitemized,
			total:      r.ExternalTotalReceipts,
			pac:        r.ExternalPacContributions,
			party:      r.ExternalPartyContributions,
		}
	}
	return store(ctx, db, th, candidateId, cycle, committees, externals)
}

// LedgerRecompute adapts RecomputeFromLedger for the conduit cleanup pass.
func LedgerRecompute(th Thresholds) conduit.RecomputeFunc {
	return func(ctx context.Context, db *gorm.DB, candidateId string, cycle int) error {
		_, err := RecomputeFromLedger(ctx, db, th, candidateId, cycle)
		return err
	}
}
