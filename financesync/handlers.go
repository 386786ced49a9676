package financesync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"gorm.io/gorm"
)

// RegisterRoutes mounts the read surface on public and the write surface on operator.
func RegisterRoutes(public gin.IRoutes, operator gin.IRoutes, deps Deps) {
	public.GET("/candidates/:id/external-ids", ListExternalIdsHandler(deps))
	public.GET("/candidates/:id/committees", ListCommitteesHandler(deps))
	public.GET("/candidates/:id/sync/runs", ListSyncRunsHandler(deps))
	public.GET("/sync/runs/:runId", SyncRunDetailHandler(deps))

	operator.POST("/candidates/:id/external-ids", UpsertExternalIdHandler(deps))
	operator.PUT("/candidates/:id/external-ids/:extId/primary", SetPrimaryExternalIdHandler(deps))
	operator.DELETE("/candidates/:id/external-ids/:extId", DeleteExternalIdHandler(deps))
	operator.POST("/candidates/:id/link", LinkHandler(deps))
	operator.PUT("/committees/:committeeId/active", SetCommitteeActiveHandler(deps))
	operator.POST("/candidates/:id/sync", TriggerSyncHandler(deps))
	operator.POST("/candidates/:id/sync/async", TriggerSyncAsyncHandler(deps))
}

func ListExternalIdsHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := ListExternalIds(c.Request.Context(), deps.DB, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": rows})
	}
}

func UpsertExternalIdHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ExternalIdInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		req.CandidateId = c.Param("id")
		row, err := UpsertExternalId(c.Request.Context(), deps.DB, req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, row)
	}
}

func SetPrimaryExternalIdHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := SetPrimaryExternalId(c.Request.Context(), deps.DB, c.Param("id"), c.Param("extId")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func DeleteExternalIdHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := DeleteExternalId(c.Request.Context(), deps.DB, c.Param("id"), c.Param("extId")); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func LinkHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LinkRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		ctx := c.Request.Context()
		var (
			res *LinkResult
			err error
		)
		if strings.TrimSpace(req.ExternalCandidateId) != "" {
			res, err = LinkCommittees(ctx, deps.DB, deps.API, deps.logger(), c.Param("id"), req.ExternalCandidateId)
		} else {
			res, err = LinkCandidate(ctx, deps.DB, deps.API, deps.logger(), c.Param("id"))
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func ListCommitteesHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := ListCommittees(c.Request.Context(), deps.DB, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": rows})
	}
}

func SetCommitteeActiveHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("committeeId"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid committee id"})
			return
		}
		var req SetActiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			respondError(c, err)
			return
		}
		committee, err := SetCommitteeActive(c.Request.Context(), deps.DB, uint(id), *req.Active)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, committee)
	}
}

func TriggerSyncHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindTriggerSync(c, deps)
		if !ok {
			return
		}
		run, err := SyncCandidate(c.Request.Context(), deps, c.Param("id"), req.Cycle, req.PageBudget, models.RunTriggeredManual)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, toSyncRunResponse(*run))
	}
}

func TriggerSyncAsyncHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindTriggerSync(c, deps)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		run, err := CreateSyncRun(ctx, deps.DB, c.Param("id"), req.Cycle, req.PageBudget, models.RunTriggeredManual)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := PublishSyncRun(ctx, deps.Settings.SyncTopic, run.ID, run.CandidateId); err != nil {
			_ = deps.DB.WithContext(ctx).Model(run).Updates(map[string]interface{}{"status": models.RunStatusFailed}).Error
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue sync", "runId": run.ID})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"runId": run.ID, "status": run.Status})
	}
}

func ListSyncRunsHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		runs, err := ListSyncRuns(c.Request.Context(), deps.DB, c.Param("id"), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": runs})
	}
}

func SyncRunDetailHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("runId"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		resp, err := GetSyncRun(c.Request.Context(), deps.DB, uint(id))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func bindTriggerSync(c *gin.Context, deps Deps) (TriggerSyncRequest, bool) {
	var req TriggerSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return req, false
		}
	}
	if err := validate.Struct(req); err != nil {
		respondError(c, err)
		return req, false
	}
	if req.Cycle == 0 {
		req.Cycle = deps.Settings.DefaultCycle
	}
	return req, true
}

func respondError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": verrs.Error()})
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ErrNoCommitteesFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNoExternalId):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
