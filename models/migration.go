package models

import (
	"gorm.io/gorm"
)

func AllLedgerModels() []interface{} {
	return []interface{}{
		&Candidate{}, &CandidateExternalId{},
		&Committee{}, &ContributionRecord{},
		&CommitteeFinanceRollup{}, &FinanceReconciliation{},
		&FinanceSyncRun{}, &FinanceSyncError{},
		&ReconciliationRun{},
	}
}

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(AllLedgerModels()...)
}
