package types

// TraversalOptions bounds a breadth-first expansion of the graph.
type TraversalOptions struct {
	// StartID is the entity the expansion begins from.
	StartID EntityID
	// MaxDepth limits how many hops away from StartID the expansion may
	// reach. Depth 0 returns only the start entity.
	MaxDepth int
	// RelationshipTypes, when non-empty, restricts which edge types are
	// followed.
	RelationshipTypes []RelationshipType
	// MinConfidence, when set, skips edges below the threshold.
	MinConfidence *float64
}

// Validate checks the options are structurally sound.
func (o TraversalOptions) Validate() error {
	if o.StartID == "" {
		return ErrEmptyID
	}
	if o.MaxDepth < 0 {
		return ErrNegativeDepth
	}
	return nil
}

// Allows reports whether the traversal may follow r given the type and
// confidence filters.
func (o TraversalOptions) Allows(r *Relationship) bool {
	if o.MinConfidence != nil && r.Confidence < *o.MinConfidence {
		return false
	}
	if len(o.RelationshipTypes) == 0 {
		return true
	}
	for _, t := range o.RelationshipTypes {
		if r.Type == t {
			return true
		}
	}
	return false
}

// TraversalResult is the subgraph discovered by a bounded expansion:
// every entity reached within the depth bound, and exactly the
// relationships that were followed while expanding, deduplicated by their
// composite key.
type TraversalResult struct {
	Entities      []*Entity       `json:"entities"`
	Relationships []*Relationship `json:"relationships"`
	TotalCount    int             `json:"total_count"`
}

// Path is an ordered walk between two entities: Entities lists every hop
// endpoint from source to target inclusive, Relationships the edge between
// each consecutive pair, so len(Relationships) == len(Entities)-1.
type Path struct {
	Entities      []*Entity       `json:"entities"`
	Relationships []*Relationship `json:"relationships"`
}

// Hops returns the number of edges in the path.
func (p *Path) Hops() int {
	return len(p.Relationships)
}

// GraphStats summarizes the stored graph.
type GraphStats struct {
	EntityCount         int64                      `json:"entity_count"`
	RelationshipCount   int64                      `json:"relationship_count"`
	MentionCount        int64                      `json:"mention_count"`
	EntitiesByType      map[EntityType]int64       `json:"entities_by_type"`
	RelationshipsByType map[RelationshipType]int64 `json:"relationships_by_type"`
	// AvgRelationshipsPerEntity is 0 when the graph holds no entities.
	AvgRelationshipsPerEntity float64 `json:"avg_relationships_per_entity"`
}
