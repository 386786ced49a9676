package utils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogFieldsFromContext(t *testing.T) {
	assert.Empty(t, LogFieldsFromContext(context.Background()))

	ctx := SetCorrelationIdInContext(context.Background(), "corr-1")
	ctx = SetRunIdInContext(ctx, 7)
	ctx = SetCandidateIdInContext(ctx, "cand-1")
	ctx = SetActorInContext(ctx, "ops@example.org")
	ctx = SetActorRoleInContext(ctx, OperatorRoleAdmin)

	fields := LogFieldsFromContext(ctx)
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.Equal(t, uint(7), fields["run_id"])
	assert.Equal(t, "cand-1", fields["candidate_id"])
	assert.Equal(t, "ops@example.org", fields["actor"])
	assert.Equal(t, OperatorRoleAdmin, fields["actor_role"])
}
