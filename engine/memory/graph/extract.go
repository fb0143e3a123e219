package graph

import (
	"regexp"
	"strings"

	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

// MaxEntitiesPerMemory caps extraction per memory.
const MaxEntitiesPerMemory = 25

var capitalizedRun = regexp.MustCompile(`\b[A-Z][a-zA-Z]*(?:\s+[A-Z][a-zA-Z]*)*\b`)

func isAcronym(s string) bool {
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return false
		}
	}
	return true
}

// ExtractEntities pulls entity names out of a memory: runs of capitalized
// tokens (length >= 3, all-caps acronyms dropped) plus one #tag entity per
// memory tag. The result is deduplicated and capped.
func ExtractEntities(m *memcore.Memory) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(entity string) {
		if len(out) >= MaxEntitiesPerMemory || seen[entity] {
			return
		}
		seen[entity] = true
		out = append(out, entity)
	}
	for _, match := range capitalizedRun.FindAllString(m.Content, -1) {
		candidate := strings.TrimSpace(match)
		if len(candidate) < 3 || isAcronym(candidate) {
			continue
		}
		add(candidate)
	}
	for _, tag := range m.Tags {
		add("#" + tag)
	}
	return out
}
