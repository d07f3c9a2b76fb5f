package memoria

import (
	"context"
	"fmt"
	"strings"

	"github.com/soundprediction/memoria/pkg/extraction"
	"github.com/soundprediction/memoria/pkg/types"
)

// CaptureResult summarizes what one capture stored. EntitiesCreated counts
// entities that did not exist before; EntitiesUpdated counts extracted
// entities that resolved to an existing one. Degraded marks output produced
// by a fallback extraction path, Skipped a memory the checkpoint store had
// already recorded as processed.
type CaptureResult struct {
	MemoryID        string `json:"memory_id"`
	EntitiesCreated int    `json:"entities_created"`
	EntitiesUpdated int    `json:"entities_updated"`
	Relationships   int    `json:"relationships"`
	Mentions        int    `json:"mentions"`
	Degraded        bool   `json:"degraded"`
	Skipped         bool   `json:"skipped"`
}

// Capture extracts entities and relationships from one memory's text and
// stores them: entities are found or created by name within the domain,
// relationships are stored between the resolved ids, and a mention links
// each entity back to the memory. With a checkpoint store configured the
// memory is recorded as processed afterwards and skipped on repeat capture.
func (c *Client) Capture(ctx context.Context, memoryID, text string, domain types.Domain) (*CaptureResult, error) {
	if memoryID == "" {
		return nil, types.ErrEmptyMemoryID
	}
	domain = c.resolveDomain(domain)

	// STEP 1: Skip memories the checkpoint store already recorded. A failed
	// checkpoint read is not fatal; capturing again is an upsert.
	if c.checkpoints != nil {
		processed, err := c.checkpoints.IsProcessed(ctx, memoryID)
		if err != nil {
			c.logger.Warn("Failed to read checkpoint, capturing anyway", "memory_id", memoryID, "error", err)
		} else if processed {
			c.logger.Debug("Skipping already processed memory", "memory_id", memoryID)
			return &CaptureResult{MemoryID: memoryID, Skipped: true}, nil
		}
	}

	// STEP 2: Extract candidate entities and relationships from the text.
	extracted, err := c.extractor.Extract(ctx, memoryID, text, domain)
	if err != nil {
		return nil, fmt.Errorf("extraction failed for memory %s: %w", memoryID, err)
	}

	result := &CaptureResult{MemoryID: memoryID, Degraded: extracted.Degraded}

	// STEP 3: Resolve extracted names to entity ids, creating entities that
	// do not exist yet.
	resolved, err := c.resolveEntities(ctx, extracted.Entities, domain, result)
	if err != nil {
		return nil, err
	}

	// STEP 4: Store relationships between the resolved ids.
	if err := c.storeRelationships(ctx, extracted.Relationships, resolved, result); err != nil {
		return nil, err
	}

	// STEP 5: Link each resolved entity back to the memory.
	if err := c.storeMentions(ctx, memoryID, extracted.Entities, resolved, result); err != nil {
		return nil, err
	}

	// STEP 6: Record completion. Losing the checkpoint only risks a repeat
	// capture, which upserts, so a write failure does not fail the capture.
	if c.checkpoints != nil {
		if err := c.checkpoints.MarkProcessed(ctx, memoryID); err != nil {
			c.logger.Warn("Failed to record checkpoint", "memory_id", memoryID, "error", err)
		}
	}

	c.logger.Info("Memory captured",
		"memory_id", memoryID,
		"entities_created", result.EntitiesCreated,
		"entities_updated", result.EntitiesUpdated,
		"relationships", result.Relationships,
		"mentions", result.Mentions,
		"degraded", result.Degraded)

	return result, nil
}

// resolveEntities maps each extracted name (lowercased) to an entity id,
// storing new entities for names with no match in the domain.
func (c *Client) resolveEntities(ctx context.Context, entities []extraction.ExtractedEntity, domain types.Domain, result *CaptureResult) (map[string]types.EntityID, error) {
	var domainFilter *types.Domain
	if !domain.IsZero() {
		domainFilter = &domain
	}

	resolved := make(map[string]types.EntityID, len(entities))
	for _, candidate := range entities {
		existing, err := c.backend.FindEntitiesByName(ctx, candidate.Name, nil, domainFilter, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve entity %q: %w", candidate.Name, err)
		}

		if len(existing) > 0 {
			entity := existing[0]
			if mergeAliases(entity, candidate.Aliases) {
				if err := c.backend.StoreEntity(ctx, entity); err != nil {
					return nil, fmt.Errorf("failed to update entity %q: %w", candidate.Name, err)
				}
			}
			resolved[strings.ToLower(candidate.Name)] = entity.ID
			result.EntitiesUpdated++
			continue
		}

		entity := types.NewEntity(candidate.Name, types.ParseEntityType(candidate.Type), domain)
		entity.Confidence = candidate.Confidence
		entity.Aliases = candidate.Aliases
		if err := c.backend.StoreEntity(ctx, entity); err != nil {
			return nil, fmt.Errorf("failed to store entity %q: %w", candidate.Name, err)
		}
		resolved[strings.ToLower(candidate.Name)] = entity.ID
		result.EntitiesCreated++
	}

	return resolved, nil
}

// mergeAliases folds newly extracted aliases into an existing entity and
// reports whether anything changed.
func mergeAliases(entity *types.Entity, aliases []string) bool {
	changed := false
	for _, alias := range aliases {
		if alias == "" || entity.HasName(alias) {
			continue
		}
		entity.Aliases = append(entity.Aliases, alias)
		changed = true
	}
	return changed
}

// storeRelationships stores an edge for every extracted relationship whose
// endpoints resolved. Unresolved endpoints and self references are skipped;
// distinct extracted names can resolve to one entity via aliases.
func (c *Client) storeRelationships(ctx context.Context, rels []extraction.ExtractedRelationship, resolved map[string]types.EntityID, result *CaptureResult) error {
	for _, candidate := range rels {
		fromID, fromOK := resolved[strings.ToLower(candidate.FromName)]
		toID, toOK := resolved[strings.ToLower(candidate.ToName)]
		if !fromOK || !toOK {
			c.logger.Debug("Skipping relationship with unresolved endpoint",
				"from", candidate.FromName, "to", candidate.ToName)
			continue
		}
		if fromID == toID {
			continue
		}

		rel := types.NewRelationship(fromID, toID, types.ParseRelationshipType(candidate.Type))
		rel.Confidence = candidate.Confidence
		if err := c.backend.StoreRelationship(ctx, rel); err != nil {
			return fmt.Errorf("failed to store relationship %s -> %s: %w", candidate.FromName, candidate.ToName, err)
		}
		result.Relationships++
	}

	return nil
}

// storeMentions links each resolved entity to the memory, carrying the
// extraction confidence and text position.
func (c *Client) storeMentions(ctx context.Context, memoryID string, entities []extraction.ExtractedEntity, resolved map[string]types.EntityID, result *CaptureResult) error {
	for _, candidate := range entities {
		id, ok := resolved[strings.ToLower(candidate.Name)]
		if !ok {
			continue
		}

		mention := types.NewEntityMention(id, memoryID)
		mention.Confidence = candidate.Confidence
		mention.StartOffset = candidate.StartOffset
		mention.EndOffset = candidate.EndOffset
		mention.MatchedText = candidate.MatchedText
		if err := c.backend.StoreMention(ctx, mention); err != nil {
			return fmt.Errorf("failed to store mention of %q in memory %s: %w", candidate.Name, memoryID, err)
		}
		result.Mentions++
	}

	return nil
}

// Forget removes a memory's mentions, decrementing the mention counts of
// the entities that lost one, and drops its checkpoint so a later capture
// of the same memory starts fresh. Entities and relationships created from
// the memory remain. It returns the number of mentions removed.
func (c *Client) Forget(ctx context.Context, memoryID string) (int, error) {
	if memoryID == "" {
		return 0, types.ErrEmptyMemoryID
	}

	removed, err := c.backend.DeleteMentionsForMemory(ctx, memoryID)
	if err != nil {
		return 0, err
	}

	if c.checkpoints != nil {
		if err := c.checkpoints.Delete(ctx, memoryID); err != nil {
			return removed, fmt.Errorf("failed to delete checkpoint for memory %s: %w", memoryID, err)
		}
	}

	c.logger.Info("Memory forgotten", "memory_id", memoryID, "mentions_removed", removed)
	return removed, nil
}
