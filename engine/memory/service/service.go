package service

import (
	"time"

	memcore "github.com/capsulehq/capsule/engine/memory/core"
	"github.com/capsulehq/capsule/engine/memory/policy"
	"github.com/capsulehq/capsule/engine/memory/privacy"
	"github.com/capsulehq/capsule/engine/memory/recipe"
	"github.com/capsulehq/capsule/engine/memory/retrieval"
	"github.com/capsulehq/capsule/engine/memory/store"
)

// DefaultApp is recorded as the source app when the caller provides none.
const DefaultApp = "capsule"

// Service implements the memory operations: write pipeline, partial
// updates, listing, deletion, and adaptive search.
type Service struct {
	store       store.Store
	embedder    retrieval.Embedder
	policies    *policy.Engine
	recipes     *recipe.Registry
	search      *retrieval.Engine
	cipher      *privacy.Cipher
	maxMemories int
	now         func() time.Time
}

// Options assembles a Service. Cipher may be nil when no process encryption
// key is configured; PII flags are then stored in plaintext unless the
// request carries its own key.
type Options struct {
	Store       store.Store
	Embedder    retrieval.Embedder
	Policies    *policy.Engine
	Recipes     *recipe.Registry
	Search      *retrieval.Engine
	Cipher      *privacy.Cipher
	MaxMemories int
}

func New(opts Options) *Service {
	if opts.Policies == nil {
		opts.Policies = policy.NewEngine()
	}
	if opts.Recipes == nil {
		opts.Recipes = recipe.NewRegistry()
	}
	if opts.MaxMemories <= 0 {
		opts.MaxMemories = memcore.DefaultMaxMemories
	}
	return &Service{
		store:       opts.Store,
		embedder:    opts.Embedder,
		policies:    opts.Policies,
		recipes:     opts.Recipes,
		search:      opts.Search,
		cipher:      opts.Cipher,
		maxMemories: opts.MaxMemories,
		now:         time.Now,
	}
}

// WithClock fixes the service clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Recipes exposes the recipe registry for the router surface.
func (s *Service) Recipes() *recipe.Registry {
	return s.recipes
}

// Policies exposes the storage-policy engine for the router surface.
func (s *Service) Policies() *policy.Engine {
	return s.policies
}

// Store exposes the backing store for the graph worker and capture queue.
func (s *Service) Store() store.Store {
	return s.store
}

// requestCipher picks the per-request BYOK cipher when a key is supplied,
// falling back to the process cipher.
func (s *Service) requestCipher(byokKey string) (*privacy.Cipher, error) {
	if byokKey == "" {
		return s.cipher, nil
	}
	return privacy.NewCipher(byokKey)
}
