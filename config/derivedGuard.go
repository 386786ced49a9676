package config

import (
	"context"
	"errors"

	"github.com/mmdatafocus/civicfinance_backend/appctx"
	"gorm.io/gorm"
)

var ErrDerivedTableWrite = errors.New("derived finance tables are recomputed, not edited")

// derivedTables are recomputed idempotently from the ledger plus external fetches.
var derivedTables = map[string]struct{}{
	"committee_finance_rollups": {},
	"finance_reconciliations":   {},
}

// DerivedGuardPlugin rejects UPDATE/DELETE statements against derived tables unless the
// context is marked as a recompute. Upserts (INSERT ... ON CONFLICT) go through the create
// callback and are not affected.
//
// NOTE:
// - Raw SQL is not inspected.
// - Cascading deletes issued by the database itself are not affected.
type DerivedGuardPlugin struct{}

func NewDerivedGuardPlugin() *DerivedGuardPlugin { return &DerivedGuardPlugin{} }

func (p *DerivedGuardPlugin) Name() string { return "derived_guard" }

func (p *DerivedGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Update().Before("gorm:update").Register("derived_guard:update", derivedGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("derived_guard:delete", derivedGuardCallback); err != nil {
		return err
	}
	return nil
}

// WithDerivedWrite marks ctx as a recompute.
func WithDerivedWrite(ctx context.Context) context.Context {
	return appctx.Set(ctx, appctx.ContextKeyDerivedWrite, true)
}

func derivedGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	table := db.Statement.Table
	if table == "" && db.Statement.Schema != nil {
		table = db.Statement.Schema.Table
	}
	if _, ok := derivedTables[table]; !ok {
		return
	}
	ctx := db.Statement.Context
	if ctx != nil {
		if v, ok := appctx.GetBool(ctx, appctx.ContextKeyDerivedWrite); ok && v {
			return
		}
	}
	_ = db.AddError(ErrDerivedTableWrite)
}
