package store

import (
	"fmt"
	"sort"
	"strings"

	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

// Filter narrows memory queries. OrgID and ProjectID are mandatory; the
// rest are optional refinements.
type Filter struct {
	OrgID       string
	ProjectID   string
	SubjectID   string
	Pinned      *bool
	Tag         string
	Type        string
	Types       []string
	Visibility  memcore.Visibility
	Store       memcore.StoreKind
	GraphEnrich *bool
	Retention   memcore.Retention
}

// Matches applies the filter to a single memory.
func (f Filter) Matches(m *memcore.Memory) bool {
	if m.Tenancy.OrgID != f.OrgID || m.Tenancy.ProjectID != f.ProjectID {
		return false
	}
	if f.SubjectID != "" && m.Tenancy.SubjectID != f.SubjectID {
		return false
	}
	if f.Pinned != nil && m.Pinned != *f.Pinned {
		return false
	}
	if f.Tag != "" && !containsString(m.Tags, f.Tag) {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if len(f.Types) > 0 && !containsString(f.Types, m.Type) {
		return false
	}
	if f.Visibility != "" && m.ACL.Visibility != f.Visibility {
		return false
	}
	if f.Store != "" && m.Storage.Store != f.Store {
		return false
	}
	if f.GraphEnrich != nil && m.Storage.GraphEnrichEnabled() != *f.GraphEnrich {
		return false
	}
	if f.Retention != "" && m.Retention != f.Retention {
		return false
	}
	return true
}

// Signature produces a stable string identifying the filter shape, used as
// part of hot-set cache keys.
func (f Filter) Signature() string {
	parts := []string{
		"subject=" + f.SubjectID,
		"tag=" + f.Tag,
		"type=" + f.Type,
		"visibility=" + string(f.Visibility),
		"store=" + string(f.Store),
		"retention=" + string(f.Retention),
	}
	if f.Pinned != nil {
		parts = append(parts, fmt.Sprintf("pinned=%t", *f.Pinned))
	}
	if f.GraphEnrich != nil {
		parts = append(parts, fmt.Sprintf("graph=%t", *f.GraphEnrich))
	}
	if len(f.Types) > 0 {
		types := append([]string(nil), f.Types...)
		sort.Strings(types)
		parts = append(parts, "types="+strings.Join(types, ","))
	}
	return strings.Join(parts, "|")
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
