package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soundprediction/memoria/pkg/types"
)

// patternConfidence is the fixed confidence of heuristic matches. Pattern
// extraction is a degraded mode and its output should never outrank a
// model-confirmed entity.
const patternConfidence = 0.5

// Rule is one named regex heuristic. Confidence defaults to
// patternConfidence when zero.
type Rule struct {
	Name       string  `yaml:"name"`
	Pattern    string  `yaml:"pattern"`
	Type       string  `yaml:"type"`
	Confidence float64 `yaml:"confidence,omitempty"`

	re *regexp.Regexp
}

// DefaultRules returns the built-in heuristics: emails, URLs, file paths,
// CamelCase technology names, organization names with a legal suffix, and
// capitalized name sequences. Order matters: earlier rules win when two
// rules match the same span.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "email",
			Pattern: `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
			Type:    string(types.EntityTypePerson),
		},
		{
			Name:    "url",
			Pattern: `https?://[^\s<>"')\]]+`,
			Type:    string(types.EntityTypeConcept),
		},
		{
			Name:    "file-path",
			Pattern: `(?:/[A-Za-z0-9_.-]+){2,}|(?:[A-Za-z0-9_.-]+/)+[A-Za-z0-9_.-]+\.[A-Za-z0-9]{1,5}`,
			Type:    string(types.EntityTypeFile),
		},
		{
			Name:    "organization",
			Pattern: `\b(?:[A-Z][A-Za-z]+ )+(?:Inc|Corp|Corporation|Ltd|LLC|GmbH|Labs|Systems|Technologies)\b`,
			Type:    string(types.EntityTypeOrganization),
		},
		{
			Name:    "camelcase-technology",
			Pattern: `\b[A-Z][a-z]+(?:[A-Z][a-z0-9]*)+\b`,
			Type:    string(types.EntityTypeTechnology),
		},
		{
			Name:    "capitalized-name",
			Pattern: `\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`,
			Type:    string(types.EntityTypePerson),
		},
	}
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads extraction rules from a YAML file. Patterns are validated
// later, when the rules are handed to NewPatternExtractor.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	for i, r := range file.Rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("rule %d (%s) has no pattern", i, r.Name)
		}
	}
	return file.Rules, nil
}

// PatternExtractor finds entities with regex heuristics. It needs no network
// and no model, so it serves as the fallback when the primary extractor is
// unavailable; everything it returns is marked Degraded.
type PatternExtractor struct {
	rules  []Rule
	logger *slog.Logger
}

var _ Extractor = (*PatternExtractor)(nil)

// NewPatternExtractor compiles rules into an extractor. Nil or empty rules
// select DefaultRules; a nil logger falls back to slog.Default.
func NewPatternExtractor(rules []Rule, logger *slog.Logger) (*PatternExtractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s: invalid pattern: %w", r.Name, err)
		}
		r.re = re
		compiled[i] = r
	}
	return &PatternExtractor{rules: compiled, logger: logger}, nil
}

type patternMatch struct {
	entity ExtractedEntity
	start  int
	end    int
}

// Extract runs every rule over text and links consecutive distinct matches
// with low-confidence RelatesTo edges. Overlapping spans keep only the
// leftmost-longest match; ties go to the earlier rule. Repeated names are
// deduplicated case-insensitively, keeping the first occurrence.
func (p *PatternExtractor) Extract(ctx context.Context, memoryID, text string, domain types.Domain) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matches []patternMatch
	for _, rule := range p.rules {
		confidence := clampConfidence(rule.Confidence, patternConfidence)
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			name := sanitize(text[loc[0]:loc[1]])
			if name == "" {
				continue
			}
			start, end := loc[0], loc[1]
			matches = append(matches, patternMatch{
				entity: ExtractedEntity{
					Name:        name,
					Type:        rule.Type,
					Confidence:  confidence,
					StartOffset: &start,
					EndOffset:   &end,
					MatchedText: text[loc[0]:loc[1]],
				},
				start: start,
				end:   end,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].start != matches[j].start {
			return matches[i].start < matches[j].start
		}
		return matches[i].end > matches[j].end
	})

	result := &Result{Degraded: true}
	lastEnd := 0
	for _, m := range matches {
		if m.start < lastEnd {
			continue
		}
		result.Entities = append(result.Entities, m.entity)
		lastEnd = m.end
	}
	result.Entities = dedupeEntities(result.Entities)

	for i := 1; i < len(result.Entities); i++ {
		result.Relationships = append(result.Relationships, ExtractedRelationship{
			FromName:   result.Entities[i-1].Name,
			ToName:     result.Entities[i].Name,
			Type:       string(types.RelationRelatesTo),
			Confidence: patternConfidence,
		})
	}

	p.logger.Debug("pattern extraction finished",
		"memory_id", memoryID,
		"entities", len(result.Entities),
		"relationships", len(result.Relationships))
	return result, nil
}
