package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> utils).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyActor         = ContextKey("Actor")
	ContextKeyActorRole     = ContextKey("ActorRole")
	ContextKeyCandidateId   = ContextKey("CandidateId")
	ContextKeyCorrelationId = ContextKey("CorrelationId")

	// ContextKeyRunId carries the batch/sync run id so log lines of one run can be grouped.
	ContextKeyRunId = ContextKey("RunId")

	// ContextKeyDerivedWrite marks a statement as part of a recompute, which is the only
	// path allowed to update or delete rollup/reconciliation rows.
	ContextKeyDerivedWrite = ContextKey("DerivedWrite")
)

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetUint(ctx context.Context, key ContextKey) (uint, bool) {
	v, ok := ctx.Value(key).(uint)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
