package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/utils"
)

type BatchPubSubPayload struct {
	RunId         uint   `json:"run_id"`
	CorrelationId string `json:"correlation_id"`
}

func PublishBatchRun(ctx context.Context, topicName string, runId uint) error {
	payload := BatchPubSubPayload{RunId: runId, CorrelationId: utils.CorrelationIdOrNew(ctx)}
	_, err := config.PublishJSON(ctx, topicName, payload, utils.BoolFromEnv("FINANCE_PUBSUB_CREATE_TOPIC", false))
	return err
}

// PubSubPushHandler runs batch jobs delivered by a push subscription. A job held by another
// worker or failing on the store is nacked with a 5xx so Pub/Sub redelivers it; the retry
// resumes from the job's checkpoint.
func PubSubPushHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.BoolFromEnv("ENABLE_FINANCE_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var envelope config.PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		var payload BatchPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil || payload.RunId == 0 {
			c.Status(http.StatusNoContent)
			return
		}

		ctx := c.Request.Context()
		if payload.CorrelationId != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, payload.CorrelationId)
		}
		if _, err := RunBatchJob(ctx, deps, payload.RunId); err != nil {
			if errors.Is(err, ErrBatchInProgress) {
				c.Status(http.StatusTooManyRequests)
				return
			}
			config.LogError(deps.logger(), "reconciliation", "PubSubPushHandler", "run batch job", payload, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
