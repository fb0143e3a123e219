package memrouter

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/capsulehq/capsule/engine/core"
	"github.com/capsulehq/capsule/pkg/logger"
)

// RespondOK writes the canonical success envelope with a 200 status.
func RespondOK(c *gin.Context, data any) {
	respondData(c, http.StatusOK, data)
}

// RespondCreated writes the success envelope with a 201 status.
func RespondCreated(c *gin.Context, data any) {
	respondData(c, http.StatusCreated, data)
}

// RespondAccepted writes the success envelope with a 202 status.
func RespondAccepted(c *gin.Context, data any) {
	respondData(c, http.StatusAccepted, data)
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data, "status": status})
}

// statusOf maps canonical error codes onto HTTP statuses. Provisioning
// failures that reach the router are mutations, which surface as 500.
func statusOf(code string) int {
	switch code {
	case core.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeInvalidState, core.ErrCodeConflict:
		return http.StatusConflict
	case core.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case core.ErrCodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondError classifies err by its canonical code and writes the error
// envelope.
func RespondError(c *gin.Context, err error) {
	code := core.CodeOf(err)
	detail := err.Error()
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr.Err != nil {
		detail = coreErr.Err.Error()
	}
	RespondProblemWithCode(c, statusOf(code), code, detail)
}

// RespondProblemWithCode writes an error envelope embedding a code and detail.
func RespondProblemWithCode(c *gin.Context, status int, code string, detail string) {
	RespondProblem(c, &core.Problem{
		Status: status,
		Title:  http.StatusText(status),
		Detail: detail,
		Extras: map[string]any{"code": code},
	})
}

// RespondProblem writes a canonical error response and aborts the request.
func RespondProblem(c *gin.Context, problem *core.Problem) {
	prepared := core.NormalizeProblem(problem)
	body := core.BuildProblemBody(prepared)
	logProblem(c, prepared)
	payload, err := json.Marshal(body)
	if err != nil {
		logger.FromContext(c.Request.Context()).Error("failed to marshal problem", "err", err)
		fallback := []byte(`{"status":500,"error":"Internal Server Error"}`)
		c.Data(http.StatusInternalServerError, "application/problem+json", fallback)
		c.Abort()
		return
	}
	c.Data(prepared.Status, "application/problem+json", payload)
	c.Abort()
}

func logProblem(c *gin.Context, problem *core.Problem) {
	log := logger.FromContext(c.Request.Context())
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	fields := []any{
		"status", problem.Status,
		"title", problem.Title,
		"detail", problem.Detail,
		"route", route,
		"path", c.Request.URL.Path,
	}
	if code, ok := problem.Extras["code"]; ok {
		fields = append(fields, "code", code)
	}
	if problem.Status >= http.StatusInternalServerError {
		log.Error("request failed", fields...)
		return
	}
	log.Warn("request failed", fields...)
}
