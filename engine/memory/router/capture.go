package memrouter

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/capsulehq/capsule/engine/core"
	"github.com/capsulehq/capsule/engine/memory/capture"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

type ingestInput struct {
	Events []*capture.Event `json:"events"`
}

func ingestEvents(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		input := &ingestInput{}
		if err := c.ShouldBindJSON(input); err != nil {
			RespondProblemWithCode(
				c,
				http.StatusBadRequest,
				core.ErrCodeInvalidArgument,
				"invalid request body: "+err.Error(),
			)
			return
		}
		if len(input.Events) == 0 {
			RespondProblemWithCode(
				c,
				http.StatusBadRequest,
				core.ErrCodeInvalidArgument,
				"events must not be empty",
			)
			return
		}
		tenancy := tenancyFrom(c)
		decisions := make([]*capture.Decision, 0, len(input.Events))
		for _, event := range input.Events {
			decision, err := deps.Capture.Ingest(c.Request.Context(), tenancy, event)
			if err != nil {
				RespondError(c, err)
				return
			}
			decisions = append(decisions, decision)
		}
		RespondAccepted(c, gin.H{"decisions": decisions})
	}
}

func listCandidates(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				RespondProblemWithCode(
					c,
					http.StatusBadRequest,
					core.ErrCodeInvalidArgument,
					"limit must be an integer",
				)
				return
			}
			limit = parsed
		}
		status := memcore.CaptureStatus(c.Query("status"))
		candidates, err := deps.Capture.List(c.Request.Context(), tenancyFrom(c), status, limit)
		if err != nil {
			RespondError(c, err)
			return
		}
		RespondOK(c, gin.H{"candidates": candidates})
	}
}

func approveCandidate(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := deps.Capture.Approve(c.Request.Context(), tenancyFrom(c), core.ID(c.Param("id")))
		if err != nil {
			RespondError(c, err)
			return
		}
		RespondCreated(c, decision)
	}
}

func rejectCandidate(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Reason string `json:"reason"`
		}
		// The reason body is optional.
		_ = c.ShouldBindJSON(&body)
		candidate, err := deps.Capture.Reject(c.Request.Context(), tenancyFrom(c), core.ID(c.Param("id")), body.Reason)
		if err != nil {
			RespondError(c, err)
			return
		}
		RespondOK(c, gin.H{"candidate": candidate})
	}
}
