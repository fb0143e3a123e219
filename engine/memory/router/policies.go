package memrouter

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/engine/memory/policy"
)

type policyPreviewInput struct {
	Type   string         `json:"type,omitempty"`
	Source memcore.Source `json:"source,omitempty"`
	Tags   []string       `json:"tags,omitempty"`
	Pinned bool           `json:"pinned,omitempty"`
}

func listPolicies(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		RespondOK(c, gin.H{"policies": deps.Service.Policies().Summaries()})
	}
}

func previewPolicy(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		input := &policyPreviewInput{}
		if err := c.ShouldBindJSON(input); err != nil {
			RespondProblemWithCode(
				c,
				http.StatusBadRequest,
				core.ErrCodeInvalidArgument,
				"invalid request body: "+err.Error(),
			)
			return
		}
		decision := deps.Service.Policies().Preview(c.Request.Context(), policy.Context{
			Type:   input.Type,
			Source: input.Source,
			Tags:   input.Tags,
			Pinned: input.Pinned,
		})
		RespondOK(c, decision)
	}
}
