package reconciliation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/testutil"
	"github.com/mmdatafocus/civicfinance_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newRouter(deps Deps) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/finance")
	RegisterRoutes(api, api, deps)
	r.POST("/pubsub/finance-reconcile", PubSubPushHandler(deps))
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReconcileCandidateHandler(t *testing.T) {
	db := testutil.NewDB(t)
	api := financeapi.NewFake()
	seedReconcilable(t, db, api, "cand-1", "C00000001", "94000", totals("100000", "20000", "125000"))
	r := newRouter(newDeps(db, api))

	w := doJSON(t, r, http.MethodPost, "/api/finance/candidates/cand-1/reconcile?cycle=2024", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, models.ReconciliationStatusWarning, res.Status)

	w = doJSON(t, r, http.MethodGet, "/api/finance/candidates/cand-1/reconciliation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Reconciliation models.FinanceReconciliation    `json:"reconciliation"`
		Rollups        []models.CommitteeFinanceRollup `json:"rollups"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "cand-1", body.Reconciliation.CandidateId)
	assert.Len(t, body.Rollups, 1)

	assert.Equal(t, http.StatusNotFound, doJSON(t, r, http.MethodPost, "/api/finance/candidates/nobody/reconcile", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(t, r, http.MethodPost, "/api/finance/candidates/cand-1/reconcile?cycle=abc", nil).Code)
}

func TestStatusHandler(t *testing.T) {
	db := testutil.NewDB(t)
	testutil.SeedCandidate(t, db, "cand-1", "Jane Smith")
	r := newRouter(newDeps(db, financeapi.NewFake()))

	w := doJSON(t, r, http.MethodGet, "/api/finance/candidates/cand-1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view StatusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, models.DisplayStatusNoData, view.Status)
	assert.Equal(t, testCycle, view.Cycle)
}

func TestRunBatchHandler(t *testing.T) {
	db := testutil.NewDB(t)
	api := financeapi.NewFake()
	deps := seedBatch(t, db, api)
	r := newRouter(deps)

	w := doJSON(t, r, http.MethodPost, "/api/finance/reconcile", map[string]interface{}{"limit": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report BatchReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.Success)
	assert.Equal(t, 2, report.Checked)

	w = doJSON(t, r, http.MethodPost, "/api/finance/reconcile", map[string]interface{}{"varianceThreshold": 500})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCleanupConduitsHandler(t *testing.T) {
	db := testutil.NewDB(t)
	api := financeapi.NewFake()
	c := seedReconcilable(t, db, api, "cand-1", "C00000001", "100000", totals("100000", "0", "100000"))
	conduitRow := testutil.SeedContribution(t, db, c, testCycle, "C00000001-2", "250", "WinRed", models.DonorTypeIndividual)
	r := newRouter(newDeps(db, api))

	w := doJSON(t, r, http.MethodPost, "/api/finance/cleanup/conduits", CleanupRequest{DryRun: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp CleanupResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.DryRun)
	assert.Equal(t, 1, resp.ConduitDonorsFound)
	assert.Zero(t, resp.ConduitDonorsUpdated)
	assert.Equal(t, 1, resp.CandidatesAffected)

	var row models.ContributionRecord
	require.NoError(t, db.Where("id = ?", conduitRow.ID).Take(&row).Error)
	assert.True(t, row.Amount.Equal(testutil.Dec("250")))

	w = doJSON(t, r, http.MethodPost, "/api/finance/cleanup/conduits", CleanupRequest{CandidateId: "cand-1"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.ConduitDonorsUpdated)
	require.NoError(t, db.Where("id = ?", conduitRow.ID).Take(&row).Error)
	assert.True(t, row.Amount.IsZero())
	assert.True(t, row.IsConduitOrg)
}

func TestExportHandler(t *testing.T) {
	db := testutil.NewDB(t)
	r := newRouter(newDeps(db, financeapi.NewFake()))

	w := doJSON(t, r, http.MethodGet, "/api/finance/export.xlsx?cycle=2024", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, utils.XLSXContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "reconciliation-2024.xlsx")
	assert.NotZero(t, w.Body.Len())
}

func TestBatchRunHandlers(t *testing.T) {
	db := testutil.NewDB(t)
	api := financeapi.NewFake()
	deps := seedBatch(t, db, api)
	r := newRouter(deps)

	run, err := CreateBatchRun(context.Background(), db, deps.Settings, BatchOptions{}, models.RunTriggeredManual)
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodGet, "/api/finance/reconcile/runs/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Retrying a queued run is a conflict.
	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/finance/reconcile/runs/%d/retry", run.ID), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/finance/reconcile/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []BatchRunResponse `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, models.RunStatusQueued, list.Items[0].Status)
}

func TestPubSubPushHandler(t *testing.T) {
	db := testutil.NewDB(t)
	api := financeapi.NewFake()
	deps := seedBatch(t, db, api)
	r := newRouter(deps)

	run, err := CreateBatchRun(context.Background(), db, deps.Settings, BatchOptions{}, models.RunTriggeredSchedule)
	require.NoError(t, err)

	data, _ := json.Marshal(BatchPubSubPayload{RunId: run.ID, CorrelationId: "corr-1"})
	envelope := config.PubSubPushEnvelope{}
	envelope.Message.Data = data
	envelope.Message.ID = "msg-1"

	w := doJSON(t, r, http.MethodPost, "/pubsub/finance-reconcile", envelope)
	assert.Equal(t, http.StatusNoContent, w.Code)

	var stored models.ReconciliationRun
	require.NoError(t, db.Where("id = ?", run.ID).Take(&stored).Error)
	assert.Equal(t, models.RunStatusSuccess, stored.Status)
	assert.Equal(t, 2, stored.Checked)

	// Malformed messages are acked.
	req := httptest.NewRequest(http.MethodPost, "/pubsub/finance-reconcile", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRespondError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[error]int{
		gorm.ErrRecordNotFound: http.StatusNotFound,
		ErrBatchInProgress:     http.StatusConflict,
	}
	for err, want := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondError(c, err)
		assert.Equal(t, want, w.Code, err.Error())
	}
}
