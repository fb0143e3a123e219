package memrouter

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

// Request headers understood by the memory routes.
const (
	HeaderOrg            = "X-Capsule-Org"
	HeaderProject        = "X-Capsule-Project"
	HeaderSubject        = "X-Capsule-Subject"
	HeaderAPIKey         = "X-Capsule-Key"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderBYOK           = "X-Capsule-BYOK"
	HeaderRewrite        = "X-Capsule-Rewrite"
	HeaderRerank         = "X-Capsule-Rerank"
)

const tenancyContextKey = "capsuleTenancy"

// Auth validates the request API key against the configured key set. An
// empty key set allows anonymous access.
func Auth(keys []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		key := c.GetHeader(HeaderAPIKey)
		if key == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if _, ok := allowed[key]; !ok {
			RespondProblemWithCode(
				c,
				http.StatusUnauthorized,
				core.ErrCodeUnauthorized,
				"missing or unknown API key",
			)
			return
		}
		c.Next()
	}
}

// Tenancy extracts the tenancy triple headers and stores them on the
// request context. Requests missing any of the three are rejected.
func Tenancy() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenancy := memcore.Tenancy{
			OrgID:     strings.TrimSpace(c.GetHeader(HeaderOrg)),
			ProjectID: strings.TrimSpace(c.GetHeader(HeaderProject)),
			SubjectID: strings.TrimSpace(c.GetHeader(HeaderSubject)),
		}
		var missing []string
		if tenancy.OrgID == "" {
			missing = append(missing, HeaderOrg)
		}
		if tenancy.ProjectID == "" {
			missing = append(missing, HeaderProject)
		}
		if tenancy.SubjectID == "" {
			missing = append(missing, HeaderSubject)
		}
		if len(missing) > 0 {
			RespondProblemWithCode(
				c,
				http.StatusBadRequest,
				core.ErrCodeInvalidArgument,
				"missing required headers: "+strings.Join(missing, ", "),
			)
			return
		}
		c.Set(tenancyContextKey, tenancy)
		c.Next()
	}
}

func tenancyFrom(c *gin.Context) memcore.Tenancy {
	value, _ := c.Get(tenancyContextKey)
	tenancy, _ := value.(memcore.Tenancy)
	return tenancy
}

// boolHeader parses an optional true/false header into a force flag.
// Absent or malformed values leave the pipeline defaults in place.
func boolHeader(c *gin.Context, name string) *bool {
	raw := c.GetHeader(name)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &value
}
