package memrouter

import (
	"github.com/gin-gonic/gin"

	"github.com/capsulehq/capsule/engine/memory/capture"
	"github.com/capsulehq/capsule/engine/memory/service"
)

// Deps carries the services the memory routes depend on.
type Deps struct {
	Service *service.Service
	Capture *capture.Queue
	APIKeys []string
}

// Register mounts the memory routes under apiBase. All routes require the
// tenancy headers; API keys are enforced only when Deps.APIKeys is set.
func Register(apiBase *gin.RouterGroup, deps *Deps) {
	group := apiBase.Group("/memories")
	group.Use(Auth(deps.APIKeys), Tenancy())

	group.POST("", createMemory(deps))
	group.GET("", listMemories(deps))
	group.POST("/search", searchMemories(deps))

	group.GET("/recipes", listRecipes(deps))
	group.POST("/recipes/preview", previewRecipe(deps))

	group.GET("/policies", listPolicies(deps))
	group.POST("/policies/preview", previewPolicy(deps))

	group.GET("/capture", listCandidates(deps))
	group.POST("/capture", ingestEvents(deps))
	group.POST("/capture/:id/approve", approveCandidate(deps))
	group.POST("/capture/:id/reject", rejectCandidate(deps))

	group.GET("/:id", getMemory(deps))
	group.PATCH("/:id", updateMemory(deps))
	group.DELETE("/:id", deleteMemory(deps))
}
