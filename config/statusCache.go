package config

import (
	"context"
	"fmt"
	"strings"
)

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// FinanceStatusKey is the redis key of a candidate's cached display status for one cycle.
func FinanceStatusKey(candidateId string, cycle int) string {
	return fmt.Sprintf("finance:status:%s:%d", candidateId, cycle)
}

func financeStatusPattern(candidateId string) string {
	return "finance:status:" + globEscaper.Replace(candidateId) + ":*"
}

// InvalidateFinanceStatus drops every cached display status of the candidate. Sync progress
// and committee toggles change the badge for all cycles, so no cycle is singled out.
func InvalidateFinanceStatus(ctx context.Context, candidateId string) {
	if rdb == nil || candidateId == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var keys []string
	iter := rdb.Scan(ctx, 0, financeStatusPattern(candidateId), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	err := iter.Err()
	if err == nil {
		err = RemoveRedisKey(ctx, keys...)
	}
	if err != nil {
		LogError(GetLogger(), "config", "InvalidateFinanceStatus", "remove status cache", candidateId, err)
	}
}
