package financesync

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var validate = validator.New()

// UpsertExternalId creates or updates a candidate's external id. The candidate keeps exactly
// one primary: setting IsPrimary demotes the others, and the first id of a candidate is
// always primary.
func UpsertExternalId(ctx context.Context, db *gorm.DB, input ExternalIdInput) (*models.CandidateExternalId, error) {
	input.CandidateId = strings.TrimSpace(input.CandidateId)
	input.ExternalCandidateId = strings.ToUpper(strings.TrimSpace(input.ExternalCandidateId))
	if input.MatchSource == "" {
		input.MatchSource = models.MatchSourceManual
	}
	if err := validate.Struct(input); err != nil {
		return nil, err
	}

	var out models.CandidateExternalId
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.IsPrimary {
			if err := tx.Model(&models.CandidateExternalId{}).
				Where("candidate_id = ? AND external_candidate_id <> ?", input.CandidateId, input.ExternalCandidateId).
				Update("is_primary", false).Error; err != nil {
				return err
			}
		}

		row := models.CandidateExternalId{
			CandidateId:         input.CandidateId,
			ExternalCandidateId: input.ExternalCandidateId,
			Office:              input.Office,
			Cycle:               input.Cycle,
			IsPrimary:           input.IsPrimary,
			MatchSource:         input.MatchSource,
			MatchConfidence:     input.MatchConfidence,
		}
		updateCols := []string{"office", "cycle", "match_source", "match_confidence", "updated_at"}
		if input.IsPrimary {
			updateCols = append(updateCols, "is_primary")
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "candidate_id"}, {Name: "external_candidate_id"}},
			DoUpdates: clause.AssignmentColumns(updateCols),
		}).Create(&row).Error; err != nil {
			return err
		}

		if err := ensurePrimary(tx, input.CandidateId, input.ExternalCandidateId); err != nil {
			return err
		}
		return tx.Where("candidate_id = ? AND external_candidate_id = ?", input.CandidateId, input.ExternalCandidateId).
			Take(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func SetPrimaryExternalId(ctx context.Context, db *gorm.DB, candidateId string, externalCandidateId string) error {
	externalCandidateId = strings.ToUpper(strings.TrimSpace(externalCandidateId))
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.CandidateExternalId
		if err := tx.Where("candidate_id = ? AND external_candidate_id = ?", candidateId, externalCandidateId).
			Take(&row).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.CandidateExternalId{}).
			Where("candidate_id = ? AND id <> ?", candidateId, row.ID).
			Update("is_primary", false).Error; err != nil {
			return err
		}
		return tx.Model(&row).Update("is_primary", true).Error
	})
}

// DeleteExternalId removes one external id. Committees are left in place. If the primary was
// removed, the most recently added remaining id is promoted.
func DeleteExternalId(ctx context.Context, db *gorm.DB, candidateId string, externalCandidateId string) error {
	externalCandidateId = strings.ToUpper(strings.TrimSpace(externalCandidateId))
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("candidate_id = ? AND external_candidate_id = ?", candidateId, externalCandidateId).
			Delete(&models.CandidateExternalId{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return ensurePrimary(tx, candidateId, "")
	})
}

func PrimaryExternalId(ctx context.Context, db *gorm.DB, candidateId string) (*models.CandidateExternalId, error) {
	var row models.CandidateExternalId
	if err := db.WithContext(ctx).
		Where("candidate_id = ? AND is_primary = ?", candidateId, true).
		Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func ListExternalIds(ctx context.Context, db *gorm.DB, candidateId string) ([]models.CandidateExternalId, error) {
	var rows []models.CandidateExternalId
	err := db.WithContext(ctx).
		Where("candidate_id = ?", candidateId).
		Order("is_primary DESC, id").
		Find(&rows).Error
	return rows, err
}

// ensurePrimary promotes a row when the candidate has none. prefer wins if present.
func ensurePrimary(tx *gorm.DB, candidateId string, prefer string) error {
	var count int64
	if err := tx.Model(&models.CandidateExternalId{}).
		Where("candidate_id = ? AND is_primary = ?", candidateId, true).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	var pick models.CandidateExternalId
	q := tx.Where("candidate_id = ?", candidateId)
	if prefer != "" {
		q = q.Where("external_candidate_id = ?", prefer)
	} else {
		q = q.Order("id DESC")
	}
	if err := q.Take(&pick).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	return tx.Model(&pick).Update("is_primary", true).Error
}
