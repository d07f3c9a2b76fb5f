package memoria

import (
	"context"
	"fmt"

	"github.com/soundprediction/memoria/pkg/types"
)

// RecallResult is the context assembled for a recall query: the entities
// whose names matched the query, plus the surrounding subgraph discovered
// by bounded traversal from those hits.
type RecallResult struct {
	Query         string                `json:"query"`
	Entities      []*types.Entity       `json:"entities"`
	Related       []*types.Entity       `json:"related,omitempty"`
	Relationships []*types.Relationship `json:"relationships,omitempty"`
}

// Recall searches entities by name substring within the domain and expands
// from each hit up to depth hops, collecting the related entities and the
// relationships that connect them. Hits are ordered by mention count, so
// frequently referenced entities surface first. A negative depth and a
// non-positive limit fall back to the configured defaults.
func (c *Client) Recall(ctx context.Context, query string, domain types.Domain, depth, limit int) (*RecallResult, error) {
	domain = c.resolveDomain(domain)
	if depth < 0 {
		depth = c.config.RecallDepth
	}
	if limit <= 0 {
		limit = c.config.RecallLimit
	}

	var domainFilter *types.Domain
	if !domain.IsZero() {
		domainFilter = &domain
	}

	hits, err := c.backend.QueryEntities(ctx, types.EntityQuery{
		NameContains: query,
		Domain:       domainFilter,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}

	result := &RecallResult{Query: query, Entities: hits}

	if depth > 0 {
		seenEntities := make(map[types.EntityID]bool, len(hits))
		for _, e := range hits {
			seenEntities[e.ID] = true
		}
		seenRels := make(map[types.RelationshipKey]bool)

		for _, hit := range hits {
			sub, err := c.backend.Traverse(ctx, types.TraversalOptions{StartID: hit.ID, MaxDepth: depth})
			if err != nil {
				return nil, err
			}
			for _, e := range sub.Entities {
				if seenEntities[e.ID] {
					continue
				}
				seenEntities[e.ID] = true
				result.Related = append(result.Related, e)
			}
			for _, r := range sub.Relationships {
				key := r.Key()
				if seenRels[key] {
					continue
				}
				seenRels[key] = true
				result.Relationships = append(result.Relationships, r)
			}
		}
	}

	c.logger.Debug("Recall completed",
		"query", query,
		"hits", len(hits),
		"related", len(result.Related),
		"relationships", len(result.Relationships))

	return result, nil
}

// Entity returns one entity by id, or ErrEntityNotFound when it does not
// exist.
func (c *Client) Entity(ctx context.Context, id types.EntityID) (*types.Entity, error) {
	entity, err := c.backend.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}
	return entity, nil
}

// EntityContext returns the bounded subgraph around one entity: the entity
// itself plus everything reachable within depth hops. A negative depth falls
// back to the configured default.
func (c *Client) EntityContext(ctx context.Context, id types.EntityID, depth int) (*types.TraversalResult, error) {
	if depth < 0 {
		depth = c.config.RecallDepth
	}

	entity, err := c.backend.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}

	return c.backend.Traverse(ctx, types.TraversalOptions{StartID: id, MaxDepth: depth})
}

// FindPath returns the shortest path between two entities within maxDepth
// hops, or ErrPathNotFound when none exists.
func (c *Client) FindPath(ctx context.Context, from, to types.EntityID, maxDepth int) (*types.Path, error) {
	path, err := c.backend.FindPath(ctx, from, to, maxDepth)
	if err != nil {
		return nil, err
	}
	if path == nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrPathNotFound, from, to)
	}
	return path, nil
}
