package service

import (
	"context"
	"strings"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/engine/memory/recipe"
	"github.com/capsulehq/capsule/engine/memory/retrieval"
)

// SearchInput names a registered recipe; PreviewInput carries its own.
type SearchInput struct {
	Query   string `json:"query"`
	Limit   int    `json:"limit,omitempty"`
	Recipe  string `json:"recipe,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	Rewrite *bool  `json:"-"`
	Rerank  *bool  `json:"-"`
}

// PreviewInput runs a search with a caller-supplied recipe, validated
// before evaluation.
type PreviewInput struct {
	Query   string         `json:"query"`
	Limit   int            `json:"limit,omitempty"`
	Prompt  string         `json:"prompt,omitempty"`
	Recipe  *recipe.Recipe `json:"recipe"`
	Rewrite *bool          `json:"-"`
	Rerank  *bool          `json:"-"`
}

func validateSearch(query string, limit int) error {
	if strings.TrimSpace(query) == "" {
		return core.InvalidArgument("query must not be empty")
	}
	if limit < 0 || limit > recipe.MaxResultLimit {
		return core.InvalidArgument("limit must be within [1,%d]", recipe.MaxResultLimit)
	}
	return nil
}

// Search runs the adaptive pipeline with a registered recipe.
func (s *Service) Search(
	ctx context.Context,
	tenancy memcore.Tenancy,
	input *SearchInput,
) (*retrieval.Response, error) {
	if err := validateSearch(input.Query, input.Limit); err != nil {
		return nil, err
	}
	rec := s.recipes.Default()
	if input.Recipe != "" {
		named, ok := s.recipes.Get(input.Recipe)
		if !ok {
			return nil, core.InvalidArgument("unknown recipe %q", input.Recipe)
		}
		rec = named
	}
	return s.search.Search(ctx, &retrieval.Request{
		Tenancy: tenancy,
		Query:   input.Query,
		Limit:   input.Limit,
		Prompt:  input.Prompt,
		Recipe:  rec,
		Rewrite: input.Rewrite,
		Rerank:  input.Rerank,
	})
}

// Preview runs the pipeline with a validated caller-supplied recipe and
// mutates nothing.
func (s *Service) Preview(
	ctx context.Context,
	tenancy memcore.Tenancy,
	input *PreviewInput,
) (*retrieval.Response, error) {
	if err := validateSearch(input.Query, input.Limit); err != nil {
		return nil, err
	}
	if input.Recipe == nil {
		return nil, core.InvalidArgument("preview requires a recipe")
	}
	if err := recipe.Validate(input.Recipe); err != nil {
		return nil, err
	}
	return s.search.Search(ctx, &retrieval.Request{
		Tenancy: tenancy,
		Query:   input.Query,
		Limit:   input.Limit,
		Prompt:  input.Prompt,
		Recipe:  input.Recipe,
		Rewrite: input.Rewrite,
		Rerank:  input.Rerank,
	})
}
