package utils

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogFieldsFromContext collects the request and run identifiers carried by ctx.
func LogFieldsFromContext(ctx context.Context) logrus.Fields {
	fields := logrus.Fields{}
	if ctx == nil {
		return fields
	}
	if v, ok := GetCorrelationIdFromContext(ctx); ok && v != "" {
		fields["correlation_id"] = v
	}
	if v, ok := GetRunIdFromContext(ctx); ok && v > 0 {
		fields["run_id"] = v
	}
	if v, ok := GetCandidateIdFromContext(ctx); ok && v != "" {
		fields["candidate_id"] = v
	}
	if v, ok := GetActorFromContext(ctx); ok && v != "" {
		fields["actor"] = v
	}
	if v, ok := GetActorRoleFromContext(ctx); ok && v != "" {
		fields["actor_role"] = v
	}
	return fields
}
