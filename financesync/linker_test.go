package financesync

import (
	"context"
	"testing"

	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linkFake() *financeapi.Fake {
	api := financeapi.NewFake()
	api.Committees["H0CA01001"] = []financeapi.Committee{
		{ExternalCommitteeId: "C00000002", Name: "Friends Auth", Designation: "A"},
		{ExternalCommitteeId: "C00000001", Name: "Smith For Congress", Designation: "P", CommitteeType: "H"},
		{ExternalCommitteeId: "C00000003", Name: "Joint Victory", Designation: "J"},
		{ExternalCommitteeId: "C00000004", Name: "Leadership PAC", Designation: "D"},
	}
	return api
}

func TestLinkCommittees_StoresPrincipalAndAuthorizedOnly(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	ctx := context.Background()

	res, err := LinkCommittees(ctx, db, linkFake(), nil, "cand-1", "H0CA01001")
	require.NoError(t, err)
	assert.Equal(t, "C00000001", res.PrimaryCommitteeId)
	require.Len(t, res.Committees, 2)

	cand, err := models.GetCandidate(ctx, db, "cand-1")
	require.NoError(t, err)
	require.NotNil(t, cand.PrimaryCommitteeId)
	assert.Equal(t, "C00000001", *cand.PrimaryCommitteeId)

	for _, c := range res.Committees {
		assert.True(t, c.Active)
		assert.Contains(t, []models.CommitteeDesignation{models.CommitteeDesignationPrincipal, models.CommitteeDesignationAuthorized}, c.Designation)
	}
}

func TestLinkCommittees_IdempotentAndKeepsOperatorFlags(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	ctx := context.Background()
	api := linkFake()

	first, err := LinkCommittees(ctx, db, api, nil, "cand-1", "H0CA01001")
	require.NoError(t, err)

	var auth models.Committee
	for _, c := range first.Committees {
		if c.Designation == models.CommitteeDesignationAuthorized {
			auth = c
		}
	}
	require.NotZero(t, auth.ID)
	_, err = SetCommitteeActive(ctx, db, auth.ID, false)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Committee{}).Where("id = ?", auth.ID).
		Updates(map[string]interface{}{"sync_cursor": "abc", "has_more": true}).Error)

	api.Committees["H0CA01001"][0].Name = "Friends Auth Renamed"
	second, err := LinkCommittees(ctx, db, api, nil, "cand-1", "H0CA01001")
	require.NoError(t, err)
	require.Len(t, second.Committees, 2)

	var count int64
	require.NoError(t, db.Model(&models.Committee{}).Where("candidate_id = ?", "cand-1").Count(&count).Error)
	assert.EqualValues(t, 2, count)

	var reloaded models.Committee
	require.NoError(t, db.Where("id = ?", auth.ID).Take(&reloaded).Error)
	assert.False(t, reloaded.Active)
	assert.True(t, reloaded.HasMore)
	assert.Equal(t, "abc", reloaded.SyncCursor)
	assert.Equal(t, "Friends Auth Renamed", reloaded.Name)
}

func TestLinkCommittees_PrimaryFallsBackToFirstAuthorized(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	api := financeapi.NewFake()
	api.Committees["S0NY00001"] = []financeapi.Committee{
		{ExternalCommitteeId: "C00000010", Designation: "A"},
		{ExternalCommitteeId: "C00000011", Designation: "A"},
	}

	res, err := LinkCommittees(context.Background(), db, api, nil, "cand-1", "S0NY00001")
	require.NoError(t, err)
	assert.Equal(t, "C00000010", res.PrimaryCommitteeId)
}

func TestLinkCommittees_NoCommittees(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	api := financeapi.NewFake()
	api.Committees["H0CA01001"] = []financeapi.Committee{{ExternalCommitteeId: "C00000003", Designation: "J"}}

	_, err := LinkCommittees(context.Background(), db, api, nil, "cand-1", "H0CA01001")
	assert.ErrorIs(t, err, ErrNoCommitteesFound)

	var count int64
	require.NoError(t, db.Model(&models.Committee{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestLinkCandidate_RequiresExternalId(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")

	_, err := LinkCandidate(context.Background(), db, linkFake(), nil, "cand-1")
	assert.ErrorIs(t, err, ErrNoExternalId)
}

func TestLinkCandidate_UsesPrimaryExternalId(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	ctx := context.Background()
	api := linkFake()

	_, err := UpsertExternalId(ctx, db, ExternalIdInput{CandidateId: "cand-1", ExternalCandidateId: "h0ca01001"})
	require.NoError(t, err)

	res, err := LinkCandidate(ctx, db, api, nil, "cand-1")
	require.NoError(t, err)
	assert.Len(t, res.Committees, 2)
	assert.Equal(t, 1, api.CallCount("committees:H0CA01001"))
}

func TestExternalIds_SinglePrimary(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	ctx := context.Background()

	first, err := UpsertExternalId(ctx, db, ExternalIdInput{CandidateId: "cand-1", ExternalCandidateId: "H0CA01001"})
	require.NoError(t, err)
	assert.True(t, first.IsPrimary)

	second, err := UpsertExternalId(ctx, db, ExternalIdInput{CandidateId: "cand-1", ExternalCandidateId: "S0CA00001"})
	require.NoError(t, err)
	assert.False(t, second.IsPrimary)

	_, err = UpsertExternalId(ctx, db, ExternalIdInput{CandidateId: "cand-1", ExternalCandidateId: "S0CA00001", IsPrimary: true})
	require.NoError(t, err)
	primary, err := PrimaryExternalId(ctx, db, "cand-1")
	require.NoError(t, err)
	assert.Equal(t, "S0CA00001", primary.ExternalCandidateId)

	require.NoError(t, SetPrimaryExternalId(ctx, db, "cand-1", "H0CA01001"))
	rows, err := ListExternalIds(ctx, db, "cand-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "H0CA01001", rows[0].ExternalCandidateId)
	assert.True(t, rows[0].IsPrimary)
	assert.False(t, rows[1].IsPrimary)

	require.NoError(t, DeleteExternalId(ctx, db, "cand-1", "H0CA01001"))
	primary, err = PrimaryExternalId(ctx, db, "cand-1")
	require.NoError(t, err)
	assert.Equal(t, "S0CA00001", primary.ExternalCandidateId)

	assert.ErrorIs(t, DeleteExternalId(ctx, db, "cand-1", "H0CA01001"), models.ErrRecordNotFound)
}

func TestUpsertExternalId_Validation(t *testing.T) {
	db := testutil.NewDB(t)
	bad := 1.5
	_, err := UpsertExternalId(context.Background(), db, ExternalIdInput{CandidateId: "cand-1", ExternalCandidateId: "H0CA01001", MatchConfidence: &bad})
	assert.Error(t, err)

	_, err = UpsertExternalId(context.Background(), db, ExternalIdInput{CandidateId: "cand-1"})
	assert.Error(t, err)
}
