// Package testutil opens throwaway Ledger Store databases for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDB returns a migrated in-memory SQLite handle with the same gorm config and plugins
// the service uses. A single connection keeps the in-memory database alive for the test.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenDB(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=private", sanitize(t.Name()))))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func SeedCandidate(t *testing.T, db *gorm.DB, id string, name string) models.Candidate {
	t.Helper()
	c := models.Candidate{ID: id, Name: name, Office: "H", State: "CA"}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("seed candidate: %v", err)
	}
	return c
}

func SeedCommittee(t *testing.T, db *gorm.DB, candidateId string, externalId string, designation models.CommitteeDesignation, active bool) models.Committee {
	t.Helper()
	c := models.Committee{
		CandidateId:         candidateId,
		ExternalCommitteeId: externalId,
		Name:                "Committee " + externalId,
		Designation:         designation,
		Active:              active,
	}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("seed committee: %v", err)
	}
	return c
}

// SeedContribution inserts one ledger row; amount is a decimal string.
func SeedContribution(t *testing.T, db *gorm.DB, committee models.Committee, cycle int, externalId string, amount string, donor string, donorType models.DonorType) models.ContributionRecord {
	t.Helper()
	rec := models.ContributionRecord{
		ExternalRecordId: externalId,
		CandidateId:      committee.CandidateId,
		CommitteeId:      committee.ID,
		Cycle:            cycle,
		Amount:           Dec(amount),
		DonorName:        donor,
		DonorType:        donorType,
		IsContribution:   true,
	}
	if err := db.Create(&rec).Error; err != nil {
		t.Fatalf("seed contribution: %v", err)
	}
	return rec
}

func MarkSynced(t *testing.T, db *gorm.DB, candidateId string, at time.Time) {
	t.Helper()
	if err := db.WithContext(context.Background()).Model(&models.Candidate{}).
		Where("id = ?", candidateId).
		Update("last_finance_sync_at", at).Error; err != nil {
		t.Fatalf("mark synced: %v", err)
	}
}
