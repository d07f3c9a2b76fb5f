package extraction

import (
	"context"
	"strings"

	"github.com/soundprediction/memoria/pkg/types"
)

// ExtractedEntity is a candidate entity found in captured text. Type is the
// raw string the extractor produced; unknown values degrade when the entity
// is materialized.
type ExtractedEntity struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Aliases     []string `json:"aliases,omitempty"`
	Confidence  float64  `json:"confidence"`
	StartOffset *int     `json:"start_offset,omitempty"`
	EndOffset   *int     `json:"end_offset,omitempty"`
	MatchedText string   `json:"matched_text,omitempty"`
}

// ExtractedRelationship is a candidate edge between two extracted entities,
// referenced by name. Resolution to entity ids happens at capture time.
type ExtractedRelationship struct {
	FromName   string  `json:"from"`
	ToName     string  `json:"to"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Result is everything an extractor pulled out of one piece of text.
// Degraded marks output produced by a fallback path rather than the primary
// extractor.
type Result struct {
	Entities      []ExtractedEntity       `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
	Degraded      bool                    `json:"degraded"`
}

// Extractor pulls entities and relationships out of free text.
type Extractor interface {
	Extract(ctx context.Context, memoryID, text string, domain types.Domain) (*Result, error)
}

// clampConfidence forces a confidence into [0, 1]; non-positive inputs fall
// back to def so sloppy extractor output never fails validation downstream.
func clampConfidence(c, def float64) float64 {
	if c <= 0 {
		return def
	}
	if c > 1 {
		return 1
	}
	return c
}

// sanitize trims and collapses inner whitespace in an extracted name.
func sanitize(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// dedupeEntities drops later duplicates of the same name, case-insensitively,
// keeping the order entities were first seen.
func dedupeEntities(in []ExtractedEntity) []ExtractedEntity {
	seen := make(map[string]bool, len(in))
	out := make([]ExtractedEntity, 0, len(in))
	for _, e := range in {
		key := strings.ToLower(e.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
