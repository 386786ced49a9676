package reconciliation

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/civicfinance_backend/conduit"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/mmdatafocus/civicfinance_backend/utils"
	"gorm.io/gorm"
)

type CleanupRequest struct {
	CandidateId string `json:"candidateId" validate:"omitempty,max=64"`
	DryRun      bool   `json:"dryRun"`
}

type CleanupResponse struct {
	Success              bool                         `json:"success"`
	DryRun               bool                         `json:"dryRun"`
	CandidatesAffected   int                          `json:"candidatesAffected"`
	ConduitDonorsFound   int                          `json:"conduitDonorsFound"`
	ConduitDonorsUpdated int64                        `json:"conduitDonorsUpdated"`
	Breakdown            []conduit.CandidateBreakdown `json:"breakdown"`
	RecomputeFailures    int                          `json:"recomputeFailures,omitempty"`
}

// RegisterRoutes mounts the read surface on public and the write surface on operator.
func RegisterRoutes(public gin.IRoutes, operator gin.IRoutes, deps Deps) {
	public.GET("/candidates/:id/status", StatusHandler(deps))
	public.GET("/candidates/:id/reconciliation", ReconciliationHandler(deps))
	public.GET("/reconcile/runs", ListBatchRunsHandler(deps))
	public.GET("/reconcile/runs/:runId", BatchRunDetailHandler(deps))

	operator.POST("/candidates/:id/reconcile", ReconcileCandidateHandler(deps))
	operator.POST("/reconcile", RunBatchHandler(deps))
	operator.POST("/reconcile/async", RunBatchAsyncHandler(deps))
	operator.POST("/reconcile/runs/:runId/retry", RetryBatchRunHandler(deps))
	operator.POST("/cleanup/conduits", CleanupConduitsHandler(deps))
	operator.GET("/export.xlsx", ExportHandler(deps))
}

func cycleParam(c *gin.Context, deps Deps) (int, bool) {
	raw := c.Query("cycle")
	if raw == "" {
		return deps.Settings.DefaultCycle, true
	}
	cycle, err := strconv.Atoi(raw)
	if err != nil || cycle < 1980 || cycle > 2100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cycle"})
		return 0, false
	}
	return cycle, true
}

func runIdParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("runId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return 0, false
	}
	return uint(id), true
}

func StatusHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cycle, ok := cycleParam(c, deps)
		if !ok {
			return
		}
		view, err := DisplayStatus(c.Request.Context(), deps.DB, c.Param("id"), cycle, deps.Settings.StatusCacheTTL)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func ReconciliationHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cycle, ok := cycleParam(c, deps)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		rec, err := models.GetFinanceReconciliation(ctx, deps.DB, c.Param("id"), cycle)
		if err != nil {
			respondError(c, err)
			return
		}
		var rollups []models.CommitteeFinanceRollup
		if err := deps.DB.WithContext(ctx).
			Where("candidate_id = ? AND cycle = ?", rec.CandidateId, cycle).
			Order("committee_id").
			Find(&rollups).Error; err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reconciliation": rec, "rollups": rollups})
	}
}

func ReconcileCandidateHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cycle, ok := cycleParam(c, deps)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		if _, err := models.GetCandidate(ctx, deps.DB, c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		res, err := Reconcile(ctx, deps, c.Param("id"), cycle)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func RunBatchHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, ok := bindBatchOptions(c)
		if !ok {
			return
		}
		report, err := RunBatch(c.Request.Context(), deps, opts)
		if err != nil {
			if report != nil {
				c.JSON(http.StatusServiceUnavailable, report)
				return
			}
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func RunBatchAsyncHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts, ok := bindBatchOptions(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		run, err := CreateBatchRun(ctx, deps.DB, deps.Settings, opts, models.RunTriggeredManual)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := PublishBatchRun(ctx, deps.Settings.BatchTopic, run.ID); err != nil {
			msg := err.Error()
			_ = deps.DB.WithContext(ctx).Model(run).Updates(map[string]interface{}{
				"status":     models.RunStatusFailed,
				"last_error": &msg,
			}).Error
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue batch", "runId": run.ID})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"runId": run.ID, "status": run.Status})
	}
}

func RetryBatchRunHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := runIdParam(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		run, err := ResetBatchRun(ctx, deps.DB, id)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := PublishBatchRun(ctx, deps.Settings.BatchTopic, run.ID); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue batch", "runId": run.ID})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"runId": run.ID, "status": run.Status, "attempt": run.Attempt})
	}
}

func ListBatchRunsHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		runs, err := ListBatchRuns(c.Request.Context(), deps.DB, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": runs})
	}
}

func BatchRunDetailHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := runIdParam(c)
		if !ok {
			return
		}
		resp, err := GetBatchRun(c.Request.Context(), deps.DB, id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func CleanupConduitsHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CleanupRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		if err := validate.Struct(req); err != nil {
			respondError(c, err)
			return
		}
		report, err := conduit.DeduplicateConduits(
			c.Request.Context(),
			deps.DB,
			deps.logger(),
			conduit.NewMatcher(deps.Settings.ConduitOrgs),
			conduit.Options{CandidateId: req.CandidateId, DryRun: req.DryRun},
			LedgerRecompute(deps.thresholds()),
		)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, ToCleanupResponse(report))
	}
}

func ToCleanupResponse(report *conduit.Report) CleanupResponse {
	breakdown := report.Breakdown
	if breakdown == nil {
		breakdown = []conduit.CandidateBreakdown{}
	}
	return CleanupResponse{
		Success:              true,
		DryRun:               report.DryRun,
		CandidatesAffected:   len(report.AffectedCandidates),
		ConduitDonorsFound:   report.Found,
		ConduitDonorsUpdated: report.Updated,
		Breakdown:            breakdown,
		RecomputeFailures:    report.RecomputeFailures,
	}
}

func ExportHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cycle, ok := cycleParam(c, deps)
		if !ok {
			return
		}
		var buf bytes.Buffer
		if _, err := ExportXLSX(c.Request.Context(), deps.DB, cycle, &buf); err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=reconciliation-%d.xlsx", cycle))
		c.Data(http.StatusOK, utils.XLSXContentType, buf.Bytes())
	}
}

func bindBatchOptions(c *gin.Context) (BatchOptions, bool) {
	var opts BatchOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return opts, false
		}
	}
	if err := validate.Struct(opts); err != nil {
		respondError(c, err)
		return opts, false
	}
	return opts, true
}

func respondError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": verrs.Error()})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ErrBatchInProgress), errors.Is(err, ErrRunNotRetryable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
