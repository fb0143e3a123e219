package capture

import (
	"regexp"
	"strings"

	memcore "github.com/capsulehq/capsule/engine/memory/core"
)

// DefaultThreshold is the recommendation cutoff θ.
const DefaultThreshold = 0.5

// Event is one conversation turn offered to the capture scorer.
type Event struct {
	SourceEventID string              `json:"sourceEventId,omitempty"`
	Role          memcore.CaptureRole `json:"role"`
	Content       string              `json:"content"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
	AutoAccept    bool                `json:"autoAccept,omitempty"`
}

// Evaluation is the scoring outcome for one event.
type Evaluation struct {
	Score       float64                 `json:"score"`
	Threshold   float64                 `json:"threshold"`
	Recommended bool                    `json:"recommended"`
	Category    memcore.CaptureCategory `json:"category"`
	Reasons     []string                `json:"reasons"`
}

var (
	preferencePattern = regexp.MustCompile(`(?i)\b(prefers?|preference|favorite|favourite|rather have|likes? to|loves? to|hates?)\b`)
	factPattern       = regexp.MustCompile(`(?i)\b(my|our|their) \w+ is\b|\b(works? at|lives? in|born (in|on)|birthday|anniversary)\b`)
	taskPattern       = regexp.MustCompile(`(?i)\b(todo|to-do|task|deadline|due (on|by)|remind me|follow up|finish|complete)\b`)
	contextPattern    = regexp.MustCompile(`(?i)\b(project|meeting|sprint|roadmap|working on|discussed|decision)\b`)
	memoryVerbPattern = regexp.MustCompile(`(?i)\b(remember|note|log|save|keep track of|memorize)\b|don't forget`)
	persistentPattern = regexp.MustCompile(`(?i)\b(always|never|every time)\b`)
	emailPattern      = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern      = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
	addressPattern    = regexp.MustCompile(`(?i)\b\d+\s+\w+(\s\w+)?\s+(street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|way|court|ct)\b`)
	schedulePattern   = regexp.MustCompile(`(?i)\b(daily|weekly|monthly|every (monday|tuesday|wednesday|thursday|friday|saturday|sunday)|at \d{1,2}(:\d{2})?\s?(am|pm))\b`)
	negativePattern   = regexp.MustCompile(`(?i)(just chatting|lorem ipsum|never ?mind|ignore this)`)
)

// categoryOf detects the dominant category using the same regex families
// the scorer rewards.
func categoryOf(content string) memcore.CaptureCategory {
	switch {
	case preferencePattern.MatchString(content):
		return memcore.CategoryPreference
	case factPattern.MatchString(content):
		return memcore.CategoryFact
	case taskPattern.MatchString(content):
		return memcore.CategoryTask
	case contextPattern.MatchString(content):
		return memcore.CategoryContext
	default:
		return memcore.CategoryOther
	}
}

func metadataBool(meta map[string]any, key string) bool {
	v, ok := meta[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func metadataString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func metadataTags(meta map[string]any) []string {
	v, ok := meta["tags"]
	if !ok {
		return nil
	}
	switch tags := v.(type) {
	case []string:
		return tags
	case []any:
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Score evaluates one event against the threshold. Signals are additive
// and the final score is clamped to [0,1].
func Score(event *Event, threshold float64) *Evaluation {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	content := strings.TrimSpace(event.Content)
	score := 0.0
	var reasons []string
	add := func(delta float64, reason string) {
		score += delta
		reasons = append(reasons, reason)
	}

	if metadataBool(event.Metadata, "explicitMemory") {
		add(0.5, "explicit memory request")
	}
	category := categoryOf(content)
	switch category {
	case memcore.CategoryPreference, memcore.CategoryFact, memcore.CategoryTask:
		add(0.35, "matched "+string(category)+" keywords")
	case memcore.CategoryContext:
		add(0.20, "matched context keywords")
	}
	switch event.Role {
	case memcore.RoleUser:
		add(0.25, "user statement")
	case memcore.RoleAssistant:
		add(-0.05, "assistant statement")
	}
	switch {
	case len(content) >= 160:
		add(0.12, "long content")
	case len(content) >= 100:
		add(0.08, "substantial content")
	case len(content) < 40:
		add(-0.10, "short content")
	}
	if strings.HasSuffix(content, "?") {
		add(-0.10, "question")
	}
	if memoryVerbPattern.MatchString(content) {
		add(0.25, "memory verb")
	}
	if persistentPattern.MatchString(content) {
		add(0.10, "persistent rule")
	}
	if emailPattern.MatchString(content) || phonePattern.MatchString(content) {
		add(0.20, "contact details")
	}
	if addressPattern.MatchString(content) {
		add(0.20, "postal address")
	}
	if schedulePattern.MatchString(content) {
		add(0.15, "schedule cue")
	}
	if negativePattern.MatchString(content) {
		add(-0.30, "conversational filler")
	}
	switch metadataString(event.Metadata, "priority") {
	case "high":
		add(0.10, "high priority")
	case "low":
		add(-0.05, "low priority")
	}
	for _, tag := range metadataTags(event.Metadata) {
		if tag == "memory" {
			add(0.10, "memory tag")
			break
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return &Evaluation{
		Score:       score,
		Threshold:   threshold,
		Recommended: score >= threshold,
		Category:    category,
		Reasons:     reasons,
	}
}
