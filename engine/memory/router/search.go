package memrouter

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/capsulehq/capsule/engine/core"
	"github.com/capsulehq/capsule/engine/memory/service"
)

func searchMemories(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		input := &service.SearchInput{}
		if err := c.ShouldBindJSON(input); err != nil {
			RespondProblemWithCode(
				c,
				http.StatusBadRequest,
				core.ErrCodeInvalidArgument,
				"invalid request body: "+err.Error(),
			)
			return
		}
		input.Rewrite = boolHeader(c, HeaderRewrite)
		input.Rerank = boolHeader(c, HeaderRerank)
		resp, err := deps.Service.Search(c.Request.Context(), tenancyFrom(c), input)
		if err != nil {
			RespondError(c, err)
			return
		}
		RespondOK(c, resp)
	}
}

func listRecipes(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		RespondOK(c, gin.H{"recipes": deps.Service.Recipes().List()})
	}
}

func previewRecipe(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		input := &service.PreviewInput{}
		if err := c.ShouldBindJSON(input); err != nil {
			RespondProblemWithCode(
				c,
				http.StatusBadRequest,
				core.ErrCodeInvalidArgument,
				"invalid request body: "+err.Error(),
			)
			return
		}
		input.Rewrite = boolHeader(c, HeaderRewrite)
		input.Rerank = boolHeader(c, HeaderRerank)
		resp, err := deps.Service.Preview(c.Request.Context(), tenancyFrom(c), input)
		if err != nil {
			RespondError(c, err)
			return
		}
		RespondOK(c, resp)
	}
}
