package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// seedBatch builds four candidates:
//   - cand-a: synced two hours ago, reconciles ok
//   - cand-b: synced one hour ago, no active committees
//   - cand-c: never synced
//   - cand-d: synced, already reconciled within the stale window
func seedBatch(t *testing.T, db *gorm.DB, api *financeapi.Fake) Deps {
	t.Helper()
	now := time.Now().UTC()
	seedReconcilable(t, db, api, "cand-a", "C0000000A", "1000", totals("1000", "0", "1000"))
	testutil.MarkSynced(t, db, "cand-a", now.Add(-2*time.Hour))

	testutil.SeedCandidate(t, db, "cand-b", "Candidate cand-b")
	testutil.SeedCommittee(t, db, "cand-b", "C0000000B", models.CommitteeDesignationPrincipal, false)
	testutil.MarkSynced(t, db, "cand-b", now.Add(-time.Hour))

	seedReconcilable(t, db, api, "cand-c", "C0000000C", "1000", totals("1000", "0", "1000"))

	seedReconcilable(t, db, api, "cand-d", "C0000000D", "1000", totals("1000", "0", "1000"))
	testutil.MarkSynced(t, db, "cand-d", now.Add(-3*time.Hour))

	deps := newDeps(db, api)
	_, err := Reconcile(context.Background(), deps, "cand-d", testCycle)
	require.NoError(t, err)
	return deps
}

func TestSelectCandidates_Filters(t *testing.T) {
	db := testutil.NewDB(t)
	deps := seedBatch(t, db, financeapi.NewFake())
	s := deps.Settings
	now := time.Now().UTC()
	ids := func(cands []models.Candidate) []string {
		out := make([]string, 0, len(cands))
		for _, c := range cands {
			out = append(out, c.ID)
		}
		return out
	}

	got, err := SelectCandidates(context.Background(), db, BatchOptions{}.Normalize(s), s.StaleAfter, now, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cand-a", "cand-b"}, ids(got))

	all := BatchOptions{OnlyStale: boolPtr(false), OnlyWithData: boolPtr(false)}.Normalize(s)
	got, err = SelectCandidates(context.Background(), db, all, s.StaleAfter, now, nil)
	require.NoError(t, err)
	// Never-synced first, then oldest sync.
	assert.Equal(t, []string{"cand-c", "cand-d", "cand-a", "cand-b"}, ids(got))

	all.Limit = 2
	got, err = SelectCandidates(context.Background(), db, all, s.StaleAfter, now, []string{"cand-c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cand-d", "cand-a"}, ids(got))

	one := BatchOptions{CandidateId: "cand-d"}.Normalize(s)
	got, err = SelectCandidates(context.Background(), db, one, s.StaleAfter, now, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cand-d"}, ids(got))

	got, err = SelectCandidates(context.Background(), db, one, s.StaleAfter, now, []string{"cand-d"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunBatch_Report(t *testing.T) {
	db := testutil.NewDB(t)
	api := financeapi.NewFake()
	deps := seedBatch(t, db, api)

	report, err := RunBatch(context.Background(), deps, BatchOptions{})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.OkCount)
	assert.Equal(t, 1, report.SkippedCount)
	assert.Equal(t, "Checked 2 candidates: 1 ok, 0 warnings, 0 errors, 1 skipped", report.Message)

	require.Len(t, report.Details, 2)
	assert.Equal(t, "cand-a", report.Details[0].CandidateId)
	assert.Equal(t, models.ReconciliationStatusOk, report.Details[0].Status)
	require.NotNil(t, report.Details[0].DeltaPct)
	assert.Equal(t, "cand-b", report.Details[1].CandidateId)
	assert.Equal(t, models.ReconciliationStatusSkipped, report.Details[1].Status)
	assert.Nil(t, report.Details[1].DeltaPct)
}

func TestRunBatch_VarianceThresholdOverridesWarning(t *testing.T) {
	db := testutil.NewDB(t)
	api := financeapi.NewFake()
	seedReconcilable(t, db, api, "cand-1", "C00000001", "94000", totals("100000", "20000", "125000"))
	testutil.MarkSynced(t, db, "cand-1", time.Now().UTC())
	deps := newDeps(db, api)

	report, err := RunBatch(context.Background(), deps, BatchOptions{CandidateId: "cand-1"})
	require.NoError(t, err)
	require.Len(t, report.Details, 1)
	assert.Equal(t, models.ReconciliationStatusWarning, report.Details[0].Status)

	v := 7.0
	report, err = RunBatch(context.Background(), deps, BatchOptions{CandidateId: "cand-1", VarianceThreshold: &v})
	require.NoError(t, err)
	assert.Equal(t, models.ReconciliationStatusOk, report.Details[0].Status)
	assert.Equal(t, 1, report.OkCount)
}

func TestRunBatch_UnknownCandidateIsSkipped(t *testing.T) {
	db := testutil.NewDB(t)
	report, err := RunBatch(context.Background(), newDeps(db, financeapi.NewFake()), BatchOptions{CandidateId: "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedCount)
	require.Len(t, report.Details, 1)
	assert.Equal(t, "candidate not found", report.Details[0].Error)
}

func TestRunBatch_InvalidOptions(t *testing.T) {
	db := testutil.NewDB(t)
	_, err := RunBatch(context.Background(), newDeps(db, financeapi.NewFake()), BatchOptions{Limit: 5000})
	assert.Error(t, err)
}

// cancellingAPI cancels the batch context once the first totals fetch returns.
type cancellingAPI struct {
	*financeapi.Fake
	cancel context.CancelFunc
}

func (a cancellingAPI) FetchCommitteeTotals(ctx context.Context, committeeId string, cycle int) (*financeapi.CommitteeTotals, error) {
	t, err := a.Fake.FetchCommitteeTotals(ctx, committeeId, cycle)
	a.cancel()
	return t, err
}

func TestRunBatch_CancellationAbandonsInFlightCandidate(t *testing.T) {
	db := testutil.NewDB(t)
	fake := financeapi.NewFake()
	deps := seedBatch(t, db, fake)
	ctx, cancel := context.WithCancel(context.Background())
	deps.API = cancellingAPI{Fake: fake, cancel: cancel}

	report, err := RunBatch(ctx, deps, BatchOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Zero(t, report.Checked)

	_, err = models.GetFinanceReconciliation(context.Background(), db, "cand-a", testCycle)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func boolPtr(b bool) *bool { return &b }
