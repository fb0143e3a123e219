package core

import "net/http"

// ProblemDocument models the canonical error envelope for API responses.
type ProblemDocument struct {
	Status  int    `json:"status"            example:"400"`
	Error   string `json:"error"             example:"Bad Request"`
	Details string `json:"details,omitempty" example:"content is required"`
	Code    string `json:"code,omitempty"    example:"INVALID_ARGUMENT"`
}

// Problem captures the information returned in an error response.
type Problem struct {
	Title  string
	Status int
	Detail string
	Extras map[string]any
}

// NormalizeProblem ensures the provided problem includes canonical defaults.
func NormalizeProblem(problem *Problem) *Problem {
	if problem == nil {
		problem = &Problem{}
	}
	if problem.Status == 0 {
		problem.Status = http.StatusInternalServerError
	}
	if problem.Title == "" {
		problem.Title = http.StatusText(problem.Status)
	}
	return problem
}

// BuildProblemBody assembles the serialized representation of the problem.
func BuildProblemBody(problem *Problem) map[string]any {
	body := map[string]any{
		"status": problem.Status,
		"error":  problem.Title,
	}
	if problem.Detail != "" {
		body["details"] = problem.Detail
	}
	for key, value := range problem.Extras {
		if !isReservedProblemKey(key) {
			body[key] = value
		} else if key == "code" {
			body["code"] = value
		}
	}
	return body
}

func isReservedProblemKey(key string) bool {
	switch key {
	case "status", "error", "details", "code":
		return true
	default:
		return false
	}
}
