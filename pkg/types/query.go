package types

// DefaultQueryLimit caps query results when the caller does not set a limit.
const DefaultQueryLimit = 100

// EntityQuery describes an entity search. All filter fields are optional;
// a zero query matches everything. Queries stay backend-neutral — nothing
// in here is SQL- or structure-specific.
type EntityQuery struct {
	// Type restricts results to one entity type.
	Type *EntityType
	// NameContains matches case-insensitively against the name or any alias.
	NameContains string
	// Domain components that are non-empty must match exactly.
	Domain *Domain
	// MinConfidence drops entities below the threshold.
	MinConfidence *float64
	// At restricts results to records visible from a bitemporal point.
	At *BitemporalPoint
	// Limit and Offset paginate; Limit defaults to DefaultQueryLimit.
	Limit  int
	Offset int
}

// WithDefaults returns a copy of the query with default values applied.
func (q EntityQuery) WithDefaults() EntityQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Matches reports whether e satisfies every filter set on the query.
// Pagination is not applied here.
func (q EntityQuery) Matches(e *Entity) bool {
	if q.Type != nil && e.Type != *q.Type {
		return false
	}
	if q.NameContains != "" && !e.MatchesName(q.NameContains) {
		return false
	}
	if q.Domain != nil && !q.Domain.Matches(e.Domain) {
		return false
	}
	if q.MinConfidence != nil && e.Confidence < *q.MinConfidence {
		return false
	}
	if q.At != nil && !e.VisibleAt(*q.At) {
		return false
	}
	return true
}

// RelationshipQuery describes a relationship search and doubles as the
// filter for bulk deletion.
type RelationshipQuery struct {
	From          *EntityID
	To            *EntityID
	Type          *RelationshipType
	MinConfidence *float64
	At            *BitemporalPoint
	Limit         int
	Offset        int
}

// WithDefaults returns a copy of the query with default values applied.
func (q RelationshipQuery) WithDefaults() RelationshipQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Empty reports whether no filter condition is set. Bulk deletion refuses
// empty filters so a zero-value query can never wipe the table.
func (q RelationshipQuery) Empty() bool {
	return q.From == nil && q.To == nil && q.Type == nil && q.MinConfidence == nil
}

// Matches reports whether r satisfies every filter set on the query.
// Pagination is not applied here.
func (q RelationshipQuery) Matches(r *Relationship) bool {
	if q.From != nil && r.From != *q.From {
		return false
	}
	if q.To != nil && r.To != *q.To {
		return false
	}
	if q.Type != nil && r.Type != *q.Type {
		return false
	}
	if q.MinConfidence != nil && r.Confidence < *q.MinConfidence {
		return false
	}
	if q.At != nil && !r.VisibleAt(*q.At) {
		return false
	}
	return true
}
