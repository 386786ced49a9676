package financesync

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testCycle = 2024

func contrib(id string, amount string, donor string) financeapi.Contribution {
	return financeapi.Contribution{
		ExternalRecordId: id,
		Amount:           testutil.Dec(amount),
		DonorName:        donor,
		EntityType:       "IND",
		LineNumber:       "11AI",
	}
}

// threePages serves "" -> "c2" -> "c3" -> done for committee extId.
func threePages(api *financeapi.Fake, extId string) {
	api.AddPage(extId, "", &financeapi.ContributionPage{
		Records:    []financeapi.Contribution{contrib("r1", "100", "ALICE"), contrib("r2", "200", "BOB")},
		NextCursor: "c2",
		HasMore:    true,
	})
	api.AddPage(extId, "c2", &financeapi.ContributionPage{
		Records:    []financeapi.Contribution{contrib("r3", "300", "CAROL")},
		NextCursor: "c3",
		HasMore:    true,
	})
	api.AddPage(extId, "c3", &financeapi.ContributionPage{
		Records: []financeapi.Contribution{contrib("r4", "400", "DAVE"), contrib("r2", "200", "BOB")},
	})
}

func ledgerCount(t *testing.T, db *gorm.DB, committeeId uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.ContributionRecord{}).Where("committee_id = ?", committeeId).Count(&n).Error)
	return n
}

func reloadCommittee(t *testing.T, db *gorm.DB, id uint) models.Committee {
	t.Helper()
	var c models.Committee
	require.NoError(t, db.Where("id = ?", id).Take(&c).Error)
	return c
}

func TestSyncCommittee_FullPass(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	committee := testutil.SeedCommittee(t, db, "cand-1", "C00000001", models.CommitteeDesignationPrincipal, true)
	api := financeapi.NewFake()
	threePages(api, "C00000001")

	res, err := SyncCommittee(context.Background(), db, api, nil, committee.ID, SyncOptions{Cycle: testCycle})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 4, res.Imported)
	assert.False(t, res.HasMore)
	assert.EqualValues(t, 4, ledgerCount(t, db, committee.ID))

	stored := reloadCommittee(t, db, committee.ID)
	assert.False(t, stored.HasMore)
	assert.Empty(t, stored.SyncCursor)
	assert.NotNil(t, stored.SyncCompletedAt)
	assert.Equal(t, models.CommitteeSyncStateComplete, stored.SyncState())
	assert.True(t, stored.LocalItemizedTotal.Equal(testutil.Dec("1000")))
}

func TestSyncCommittee_ResumesFromStoredCursor(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	committee := testutil.SeedCommittee(t, db, "cand-1", "C00000001", models.CommitteeDesignationPrincipal, true)
	api := financeapi.NewFake()
	threePages(api, "C00000001")
	ctx := context.Background()

	res, err := SyncCommittee(ctx, db, api, nil, committee.ID, SyncOptions{Cycle: testCycle, PageBudget: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.True(t, res.HasMore)
	assert.Equal(t, "c2", res.NextCursor)

	stored := reloadCommittee(t, db, committee.ID)
	assert.True(t, stored.HasMore)
	assert.Equal(t, "c2", stored.SyncCursor)
	assert.Equal(t, models.CommitteeSyncStatePartial, stored.SyncState())
	assert.EqualValues(t, 2, ledgerCount(t, db, committee.ID))

	res, err = SyncCommittee(ctx, db, api, nil, committee.ID, SyncOptions{Cycle: testCycle})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2, res.Imported)
	assert.False(t, res.HasMore)
	assert.EqualValues(t, 4, ledgerCount(t, db, committee.ID))
	assert.Equal(t, 1, api.CallCount("page:C00000001:c2"))
	assert.Equal(t, 1, api.CallCount("page:C00000001:c3"))
	// The first page was fetched once only: resume did not restart.
	assert.Equal(t, 1, countExact(api, "page:C00000001:"))
}

func countExact(api *financeapi.Fake, call string) int {
	n := 0
	for _, c := range api.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func TestSyncCommittee_CompletedSyncRestartsFromFirstPage(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	committee := testutil.SeedCommittee(t, db, "cand-1", "C00000001", models.CommitteeDesignationPrincipal, true)
	api := financeapi.NewFake()
	threePages(api, "C00000001")
	ctx := context.Background()

	_, err := SyncCommittee(ctx, db, api, nil, committee.ID, SyncOptions{Cycle: testCycle})
	require.NoError(t, err)
	res, err := SyncCommittee(ctx, db, api, nil, committee.ID, SyncOptions{Cycle: testCycle})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	assert.Zero(t, res.Imported)
	assert.EqualValues(t, 4, ledgerCount(t, db, committee.ID))
	assert.Equal(t, 2, countExact(api, "page:C00000001:"))
}

func TestSyncCommittee_OtherCycleRestartsFromFirstPage(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	committee := testutil.SeedCommittee(t, db, "cand-1", "C00000001", models.CommitteeDesignationPrincipal, true)
	api := financeapi.NewFake()
	threePages(api, "C00000001")
	ctx := context.Background()

	_, err := SyncCommittee(ctx, db, api, nil, committee.ID, SyncOptions{Cycle: testCycle, PageBudget: 1})
	require.NoError(t, err)
	stored := reloadCommittee(t, db, committee.ID)
	assert.Equal(t, "c2", stored.SyncCursor)
	assert.Equal(t, testCycle, stored.SyncCycle)

	res, err := SyncCommittee(ctx, db, api, nil, committee.ID, SyncOptions{Cycle: testCycle - 2, PageBudget: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	// The earlier cycle's cursor is not replayed against the new feed.
	assert.Equal(t, 2, countExact(api, "page:C00000001:"))
	assert.Zero(t, api.CallCount("page:C00000001:c2"))

	stored = reloadCommittee(t, db, committee.ID)
	assert.Equal(t, testCycle-2, stored.SyncCycle)
	assert.Equal(t, "c2", stored.SyncCursor)
	assert.True(t, stored.HasMore)
}

func TestSyncCommittee_UnavailablePageKeepsCursor(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	committee := testutil.SeedCommittee(t, db, "cand-1", "C00000001", models.CommitteeDesignationPrincipal, true)
	api := financeapi.NewFake()
	api.AddPage("C00000001", "", &financeapi.ContributionPage{
		Records:    []financeapi.Contribution{contrib("r1", "100", "ALICE")},
		NextCursor: "c2",
		HasMore:    true,
	})

	res, err := SyncCommittee(context.Background(), db, api, nil, committee.ID, SyncOptions{Cycle: testCycle})
	require.NoError(t, err)
	assert.True(t, res.Unavailable)
	assert.Equal(t, 1, res.Pages)
	assert.True(t, res.HasMore)

	stored := reloadCommittee(t, db, committee.ID)
	assert.True(t, stored.HasMore)
	assert.Equal(t, "c2", stored.SyncCursor)
}

func TestSyncCommittee_TransportErrorKeepsCommittedPages(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	committee := testutil.SeedCommittee(t, db, "cand-1", "C00000001", models.CommitteeDesignationPrincipal, true)
	api := financeapi.NewFake()
	threePages(api, "C00000001")
	api.PageErr["c3"] = errors.New("connection reset")

	res, err := SyncCommittee(context.Background(), db, api, nil, committee.ID, SyncOptions{Cycle: testCycle})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Pages)

	stored := reloadCommittee(t, db, committee.ID)
	assert.True(t, stored.HasMore)
	assert.Equal(t, "c3", stored.SyncCursor)
	assert.EqualValues(t, 3, ledgerCount(t, db, committee.ID))

	delete(api.PageErr, "c3")
	res, err = SyncCommittee(context.Background(), db, api, nil, committee.ID, SyncOptions{Cycle: testCycle})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.EqualValues(t, 4, ledgerCount(t, db, committee.ID))
}

func TestSyncCommittee_RepeatedCursorEndsFeed(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	committee := testutil.SeedCommittee(t, db, "cand-1", "C00000001", models.CommitteeDesignationPrincipal, true)
	api := financeapi.NewFake()
	api.AddPage("C00000001", "", &financeapi.ContributionPage{
		Records: []financeapi.Contribution{contrib("r1", "100", "ALICE")},
		HasMore: true,
	})

	res, err := SyncCommittee(context.Background(), db, api, nil, committee.ID, SyncOptions{Cycle: testCycle})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.False(t, res.HasMore)
	assert.False(t, reloadCommittee(t, db, committee.ID).HasMore)
}

func TestSyncCommittee_ClassifiesRecordsAndRecordsRejects(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	committee := testutil.SeedCommittee(t, db, "cand-1", "C00000001", models.CommitteeDesignationPrincipal, true)
	api := financeapi.NewFake()

	earmarked := contrib("r2", "50", "JOHN DOE")
	earmarked.MemoText = "EARMARKED FOR JANE SMITH FOR CONGRESS"
	transfer := contrib("r3", "5000", "SMITH VICTORY FUND")
	transfer.EntityType = "CCM"
	transfer.LineNumber = "12"
	pac := contrib("r4", "2500", "BUILDERS PAC")
	pac.EntityType = "PAC"
	pac.LineNumber = "11C"

	api.AddPage("C00000001", "", &financeapi.ContributionPage{
		Records: []financeapi.Contribution{contrib("r1", "75", "ActBlue"), earmarked, transfer, pac},
		Rejected: []financeapi.RejectedRecord{
			{ExternalRecordId: "r9", Reason: "missing amount", Raw: []byte(`{"sub_id":"r9"}`)},
		},
	})

	res, err := SyncCommittee(context.Background(), db, api, nil, committee.ID, SyncOptions{Cycle: testCycle, RunId: 7})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Imported)
	assert.Equal(t, 1, res.Rejected)

	var rows []models.ContributionRecord
	require.NoError(t, db.Order("external_record_id").Find(&rows).Error)
	require.Len(t, rows, 4)
	byId := map[string]models.ContributionRecord{}
	for _, r := range rows {
		byId[r.ExternalRecordId] = r
	}
	assert.True(t, byId["r1"].IsConduitOrg)
	assert.True(t, byId["r2"].IsEarmarked)
	assert.False(t, byId["r2"].IsConduitOrg)
	assert.True(t, byId["r3"].IsTransfer)
	assert.False(t, byId["r3"].IsContribution)
	assert.Equal(t, models.DonorTypePac, byId["r4"].DonorType)
	assert.Equal(t, models.DonorTypeIndividual, byId["r1"].DonorType)

	var rejects []models.FinanceSyncError
	require.NoError(t, db.Find(&rejects).Error)
	require.Len(t, rejects, 1)
	assert.Equal(t, "invalid_record", rejects[0].ErrorCode)
	assert.EqualValues(t, 7, rejects[0].SyncRunId)
	assert.Equal(t, "r9", rejects[0].ExternalId)

	// Local total counts contributions only, transfers excluded.
	assert.True(t, reloadCommittee(t, db, committee.ID).LocalItemizedTotal.Equal(testutil.Dec("2625")))
}
