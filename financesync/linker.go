package financesync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LinkCommittees discovers the principal and authorized committees of externalCandidateId
// and stores them under candidateId.
//
// Re-running is idempotent: existing rows only get name/designation/type refreshed, so an
// operator's active flag and the sync cursor are never touched. New committees start active.
func LinkCommittees(ctx context.Context, db *gorm.DB, api financeapi.API, logger *logrus.Logger, candidateId string, externalCandidateId string) (*LinkResult, error) {
	candidateId = strings.TrimSpace(candidateId)
	externalCandidateId = strings.TrimSpace(externalCandidateId)
	if candidateId == "" || externalCandidateId == "" {
		return nil, errors.New("candidateId and externalCandidateId are required")
	}
	if logger == nil {
		logger = config.GetLogger()
	}

	fetched, err := api.FetchCommitteesForCandidate(ctx, externalCandidateId)
	if err != nil {
		return nil, fmt.Errorf("fetch committees: %w", err)
	}

	var linked []models.Committee
	seen := map[string]struct{}{}
	for _, c := range fetched {
		if _, dup := seen[c.ExternalCommitteeId]; dup {
			continue
		}
		designation, derr := models.ParseCommitteeDesignation(c.Designation)
		if derr != nil {
			continue
		}
		if designation != models.CommitteeDesignationPrincipal && designation != models.CommitteeDesignationAuthorized {
			continue
		}
		seen[c.ExternalCommitteeId] = struct{}{}
		linked = append(linked, models.Committee{
			CandidateId:         candidateId,
			ExternalCommitteeId: c.ExternalCommitteeId,
			Name:                c.Name,
			Designation:         designation,
			CommitteeType:       c.CommitteeType,
			Active:              true,
		})
	}
	if len(linked) == 0 {
		logger.WithFields(logrus.Fields{
			"field":                 "financesync",
			"candidate_id":          candidateId,
			"external_candidate_id": externalCandidateId,
		}).Warn("no committees to link")
		return nil, ErrNoCommitteesFound
	}

	primary := linked[0].ExternalCommitteeId
	for _, c := range linked {
		if c.Designation == models.CommitteeDesignationPrincipal {
			primary = c.ExternalCommitteeId
			break
		}
	}

	externalIds := make([]string, 0, len(linked))
	for _, c := range linked {
		externalIds = append(externalIds, c.ExternalCommitteeId)
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "external_committee_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "designation", "committee_type", "updated_at"}),
		}).Create(&linked).Error; err != nil {
			return err
		}
		return tx.Model(&models.Candidate{}).
			Where("id = ?", candidateId).
			Update("primary_committee_id", primary).Error
	})
	if err != nil {
		return nil, err
	}

	var stored []models.Committee
	if err := db.WithContext(ctx).
		Where("candidate_id = ? AND external_committee_id IN ?", candidateId, externalIds).
		Order("id").
		Find(&stored).Error; err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"field":        "financesync",
		"candidate_id": candidateId,
		"committees":   len(stored),
		"primary":      primary,
	}).Info("committees linked")

	return &LinkResult{
		CandidateId:        candidateId,
		PrimaryCommitteeId: primary,
		Committees:         stored,
	}, nil
}

// LinkCandidate links committees using the candidate's primary external id.
func LinkCandidate(ctx context.Context, db *gorm.DB, api financeapi.API, logger *logrus.Logger, candidateId string) (*LinkResult, error) {
	ext, err := PrimaryExternalId(ctx, db, candidateId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoExternalId
		}
		return nil, err
	}
	return LinkCommittees(ctx, db, api, logger, candidateId, ext.ExternalCandidateId)
}
