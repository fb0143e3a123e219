package memrouter

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/capsulehq/capsule/engine/core"
	"github.com/capsulehq/capsule/engine/memory/service"
)

func createMemory(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		input := &service.CreateInput{}
		if err := c.ShouldBindJSON(input); err != nil {
			RespondProblemWithCode(
				c,
				http.StatusBadRequest,
				core.ErrCodeInvalidArgument,
				"invalid request body: "+err.Error(),
			)
			return
		}
		input.IdempotencyKey = c.GetHeader(HeaderIdempotencyKey)
		input.EncryptionKey = c.GetHeader(HeaderBYOK)
		out, err := deps.Service.Create(c.Request.Context(), tenancyFrom(c), input)
		if err != nil {
			RespondError(c, err)
			return
		}
		// Idempotent replays return the existing resource, not a new one.
		if out.Explanation == service.ReplayExplanation {
			RespondOK(c, out)
			return
		}
		RespondCreated(c, out)
	}
}

func listMemories(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		input := &service.ListInput{}
		if err := c.ShouldBindQuery(input); err != nil {
			RespondProblemWithCode(
				c,
				http.StatusBadRequest,
				core.ErrCodeInvalidArgument,
				"invalid query parameters: "+err.Error(),
			)
			return
		}
		out, err := deps.Service.List(c.Request.Context(), tenancyFrom(c), input)
		if err != nil {
			RespondError(c, err)
			return
		}
		RespondOK(c, out)
	}
}

func getMemory(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := deps.Service.Get(c.Request.Context(), tenancyFrom(c), core.ID(c.Param("id")))
		if err != nil {
			RespondError(c, err)
			return
		}
		RespondOK(c, m)
	}
}

func updateMemory(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		input := &service.UpdateInput{}
		if err := c.ShouldBindJSON(input); err != nil && !errors.Is(err, io.EOF) {
			RespondProblemWithCode(
				c,
				http.StatusBadRequest,
				core.ErrCodeInvalidArgument,
				"invalid request body: "+err.Error(),
			)
			return
		}
		input.EncryptionKey = c.GetHeader(HeaderBYOK)
		out, err := deps.Service.Update(c.Request.Context(), tenancyFrom(c), core.ID(c.Param("id")), input)
		if err != nil {
			RespondError(c, err)
			return
		}
		RespondOK(c, out)
	}
}

func deleteMemory(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Reason string `json:"reason"`
		}
		// The reason body is optional.
		if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
			RespondProblemWithCode(
				c,
				http.StatusBadRequest,
				core.ErrCodeInvalidArgument,
				"invalid request body: "+err.Error(),
			)
			return
		}
		id := core.ID(c.Param("id"))
		if err := deps.Service.Delete(c.Request.Context(), tenancyFrom(c), id, body.Reason); err != nil {
			RespondError(c, err)
			return
		}
		RespondOK(c, gin.H{"id": id, "explanation": "Deleted."})
	}
}
