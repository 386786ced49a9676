package reconciliation

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/civicfinance_backend/financeapi"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestDisplayStatus(t *testing.T) {
	db := testutil.NewDB(t)
	api := financeapi.NewFake()
	c := seedReconcilable(t, db, api, "cand-1", "C00000001", "94000", totals("100000", "20000", "125000"))
	ctx := context.Background()

	view, err := DisplayStatus(ctx, db, "cand-1", testCycle, 0)
	require.NoError(t, err)
	assert.Equal(t, models.DisplayStatusNoData, view.Status)
	assert.Nil(t, view.DeltaPct)

	testutil.MarkSynced(t, db, "cand-1", time.Now().UTC())
	view, err = DisplayStatus(ctx, db, "cand-1", testCycle, 0)
	require.NoError(t, err)
	assert.Equal(t, models.DisplayStatusNoData, view.Status, "synced but never reconciled")

	_, err = Reconcile(ctx, newDeps(db, api), "cand-1", testCycle)
	require.NoError(t, err)
	view, err = DisplayStatus(ctx, db, "cand-1", testCycle, 0)
	require.NoError(t, err)
	assert.Equal(t, models.DisplayStatusWarning, view.Status)
	require.NotNil(t, view.DeltaPct)
	assert.True(t, view.DeltaPct.Equal(testutil.Dec("-6")))
	require.NotNil(t, view.OtherReceipts)
	assert.True(t, view.OtherReceipts.Equal(testutil.Dec("5000")))
	assert.NotNil(t, view.CheckedAt)

	// An unfinished sync of another cycle does not make this cycle partial.
	require.NoError(t, db.Model(&models.Committee{}).Where("id = ?", c.ID).
		Updates(map[string]interface{}{"has_more": true, "sync_cycle": testCycle - 2}).Error)
	view, err = DisplayStatus(ctx, db, "cand-1", testCycle, 0)
	require.NoError(t, err)
	assert.Equal(t, models.DisplayStatusWarning, view.Status)
	assert.Zero(t, view.PartialCommittees)

	require.NoError(t, db.Model(&models.Committee{}).Where("id = ?", c.ID).Update("sync_cycle", testCycle).Error)
	view, err = DisplayStatus(ctx, db, "cand-1", testCycle, 0)
	require.NoError(t, err)
	assert.Equal(t, models.DisplayStatusPartial, view.Status)
	assert.Equal(t, 1, view.PartialCommittees)

	_, err = DisplayStatus(ctx, db, "nobody", testCycle, 0)
	assert.Error(t, err)
}

func TestExportXLSX(t *testing.T) {
	db := testutil.NewDB(t)
	api := financeapi.NewFake()
	seedReconcilable(t, db, api, "cand-1", "C00000001", "100000", totals("100000", "0", "100000"))
	seedReconcilable(t, db, api, "cand-2", "C00000002", "94000", totals("100000", "20000", "125000"))
	deps := newDeps(db, api)
	for _, id := range []string{"cand-1", "cand-2"} {
		_, err := Reconcile(context.Background(), deps, id, testCycle)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	n, err := ExportXLSX(context.Background(), db, testCycle, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeadings, rows[0])
	// Warnings sort ahead of ok rows.
	assert.Equal(t, "cand-2", rows[1][0])
	assert.Equal(t, "Candidate cand-2", rows[1][1])
	assert.Equal(t, "warning", rows[1][3])
	assert.Equal(t, "cand-1", rows[2][0])
	assert.Equal(t, "ok", rows[2][3])

	buf.Reset()
	n, err = ExportXLSX(context.Background(), db, 2022, &buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}
