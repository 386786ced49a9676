package financesync

import (
	"context"

	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"gorm.io/gorm"
)

// SetCommitteeActive toggles whether a committee is aggregated. Operators deactivate an
// authorized committee whose receipts are transfers already counted by the principal.
func SetCommitteeActive(ctx context.Context, db *gorm.DB, committeeId uint, active bool) (*models.Committee, error) {
	var c models.Committee
	if err := db.WithContext(ctx).Where("id = ?", committeeId).Take(&c).Error; err != nil {
		return nil, err
	}
	if c.Active == active {
		return &c, nil
	}
	if err := db.WithContext(ctx).Model(&c).Update("active", active).Error; err != nil {
		return nil, err
	}
	c.Active = active
	config.InvalidateFinanceStatus(ctx, c.CandidateId)
	return &c, nil
}

func ListCommittees(ctx context.Context, db *gorm.DB, candidateId string) ([]CommitteeView, error) {
	var rows []models.Committee
	if err := db.WithContext(ctx).
		Where("candidate_id = ?", candidateId).
		Order("designation, id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]CommitteeView, 0, len(rows))
	for _, c := range rows {
		out = append(out, CommitteeView{
			ID:                    c.ID,
			ExternalCommitteeId:   c.ExternalCommitteeId,
			Name:                  c.Name,
			Designation:           c.Designation,
			Active:                c.Active,
			SyncState:             c.SyncState(),
			SyncStartedAt:         formatTime(c.SyncStartedAt),
			SyncCompletedAt:       formatTime(c.SyncCompletedAt),
			LocalItemizedTotal:    c.LocalItemizedTotal,
			ExternalItemizedTotal: c.ExternalItemizedTotal,
		})
	}
	return out, nil
}
