package metadata

import (
	"sort"
	"strings"
	"unicode"

	"github.com/capsulehq/capsule/engine/core"
	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

// asciiLangThreshold is the ASCII ratio above which content is assumed English.
const asciiLangThreshold = 0.75

const (
	defaultImportance = 1.0
	pinnedImportance  = 1.5
	defaultRecency    = 1.0
)

// NormalizeTags trims, drops empties, deduplicates, and sorts tags.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// ResolveLanguage lowercases an explicit override, otherwise applies the
// ASCII-ratio heuristic: mostly-ASCII content maps to "en", the rest to "und".
func ResolveLanguage(explicit, content string) string {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		return strings.ToLower(trimmed)
	}
	runes := []rune(content)
	if len(runes) == 0 {
		return "und"
	}
	ascii := 0
	for _, r := range runes {
		if r <= unicode.MaxASCII {
			ascii++
		}
	}
	if float64(ascii)/float64(len(runes)) >= asciiLangThreshold {
		return "en"
	}
	return "und"
}

// ResolveACL defaults to private and enforces that shared visibility names
// at least one subject.
func ResolveACL(acl *memcore.ACL) (memcore.ACL, error) {
	if acl == nil {
		return memcore.ACL{Visibility: memcore.VisibilityPrivate}, nil
	}
	resolved := memcore.ACL{Visibility: acl.Visibility}
	for _, s := range acl.Subjects {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			resolved.Subjects = append(resolved.Subjects, trimmed)
		}
	}
	switch resolved.Visibility {
	case "":
		resolved.Visibility = memcore.VisibilityPrivate
	case memcore.VisibilityPrivate, memcore.VisibilityPublic:
	case memcore.VisibilityShared:
		if len(resolved.Subjects) == 0 {
			return resolved, core.InvalidArgument("shared memories require at least one subject")
		}
	default:
		return resolved, core.InvalidArgument("unknown visibility %q", resolved.Visibility)
	}
	return resolved, nil
}

// ResolveSource trims fields and falls back to the calling app when nothing
// else identifies the origin.
func ResolveSource(src *memcore.Source, defaultApp string) memcore.Source {
	resolved := memcore.Source{}
	if src != nil {
		resolved = memcore.Source{
			App:       strings.TrimSpace(src.App),
			Connector: strings.TrimSpace(src.Connector),
			URL:       strings.TrimSpace(src.URL),
			FileID:    strings.TrimSpace(src.FileID),
			SpanID:    strings.TrimSpace(src.SpanID),
		}
	}
	if resolved.Empty() {
		resolved.App = defaultApp
	}
	return resolved
}

// ResolveImportance picks the explicit score when valid, then the
// policy-provided score, then the pinned default.
func ResolveImportance(explicit *float64, policyScore *float64, pinned bool) float64 {
	if explicit != nil && *explicit >= 0 && *explicit <= 5 {
		return *explicit
	}
	if policyScore != nil && *policyScore >= 0 && *policyScore <= 5 {
		return *policyScore
	}
	if pinned {
		return pinnedImportance
	}
	return defaultImportance
}

// ResolveRecency defaults to 1.0 and clamps into [0,5].
func ResolveRecency(explicit *float64) float64 {
	if explicit != nil && *explicit >= 0 && *explicit <= 5 {
		return *explicit
	}
	return defaultRecency
}
