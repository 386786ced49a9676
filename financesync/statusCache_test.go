package financesync

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useTestRedis(t *testing.T) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 and REDIS_TEST_ADDRESS to run integration tests")
	}
	addr := strings.TrimSpace(os.Getenv("REDIS_TEST_ADDRESS"))
	if addr == "" {
		t.Skip("REDIS_TEST_ADDRESS is not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	prev := config.GetRedisDB()
	config.SetRedisClient(client)
	t.Cleanup(func() {
		config.SetRedisClient(prev)
		_ = client.Close()
	})
}

func cachedStatus(t *testing.T, key string) bool {
	t.Helper()
	var dest map[string]string
	found, err := config.GetRedisObject(context.Background(), key, &dest)
	require.NoError(t, err)
	return found
}

func TestStatusCacheClearedBySyncAndToggle(t *testing.T) {
	useTestRedis(t)
	db := testutil.NewDB(t)
	candidateId := "it-" + strings.ToLower(t.Name())
	testutil.SeedCandidate(t, db, candidateId, "Jane Smith")
	committee := testutil.SeedCommittee(t, db, candidateId, "C00000001", models.CommitteeDesignationPrincipal, true)
	api := financeapi.NewFake()
	threePages(api, "C00000001")
	ctx := context.Background()
	key := config.FinanceStatusKey(candidateId, testCycle)
	t.Cleanup(func() { _ = config.RemoveRedisKey(context.Background(), key) })

	require.NoError(t, config.SetRedisObject(ctx, key, map[string]string{"status": "ok"}, time.Minute))
	_, err := SyncCommittee(ctx, db, api, nil, committee.ID, SyncOptions{Cycle: testCycle, PageBudget: 1})
	require.NoError(t, err)
	assert.False(t, cachedStatus(t, key), "page import must drop the cached badge")

	require.NoError(t, config.SetRedisObject(ctx, key, map[string]string{"status": "partial"}, time.Minute))
	_, err = SetCommitteeActive(ctx, db, committee.ID, false)
	require.NoError(t, err)
	assert.False(t, cachedStatus(t, key), "deactivation must drop the cached badge")

	require.NoError(t, config.SetRedisObject(ctx, key, map[string]string{"status": "ok"}, time.Minute))
	_, err = SetCommitteeActive(ctx, db, committee.ID, false)
	require.NoError(t, err)
	assert.True(t, cachedStatus(t, key), "a no-op toggle keeps the cache")
}
