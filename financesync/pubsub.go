package financesync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/utils"
)

func PublishSyncRun(ctx context.Context, topicName string, run uint, candidateId string) error {
	payload := SyncPubSubPayload{
		RunId:         run,
		CandidateId:   candidateId,
		CorrelationId: utils.CorrelationIdOrNew(ctx),
	}
	_, err := config.PublishJSON(ctx, topicName, payload, utils.BoolFromEnv("FINANCE_PUBSUB_CREATE_TOPIC", false))
	return err
}

// PubSubPushHandler processes sync runs delivered by a push subscription. Malformed messages
// are acked with 204; store failures return 500 so the message is redelivered.
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
		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(http.StatusNoContent)
			return
		}
		if payload.RunId == 0 || payload.CandidateId == "" {
			c.Status(http.StatusNoContent)
			return
		}

		ctx := c.Request.Context()
		if payload.CorrelationId != "" {
			ctx = utils.SetCorrelationIdInContext(ctx, payload.CorrelationId)
		}
		if _, err := ProcessSyncRun(ctx, deps, payload.RunId); err != nil {
			config.LogError(deps.logger(), "financesync", "PubSubPushHandler", "process sync run", payload, err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
