package types

import (
	"strings"
	"time"
)

// Entity is a named thing stored in the graph: a person, organization,
// technology, file, or concept. Entities carry both time axes: ValidTime
// says when the fact "this entity exists" holds in the modeled world,
// TransactionTime says when the record became known to the system.
type Entity struct {
	ID              EntityID          `json:"id"`
	Type            EntityType        `json:"entity_type"`
	Name            string            `json:"name"`
	Aliases         []string          `json:"aliases,omitempty"`
	Domain          Domain            `json:"domain"`
	Confidence      float64           `json:"confidence"`
	ValidTime       ValidTimeRange    `json:"valid_time"`
	TransactionTime time.Time         `json:"transaction_time"`
	Properties      map[string]string `json:"properties,omitempty"`

	// MentionCount is derived: it tracks how many distinct memories mention
	// this entity and is maintained by the mention operations, not by
	// callers.
	MentionCount int `json:"mention_count"`
}

// NewEntity creates an entity with a fresh id, full confidence, and both
// time axes anchored at now.
func NewEntity(name string, entityType EntityType, domain Domain) *Entity {
	now := time.Now().UTC()
	return &Entity{
		ID:              NewEntityID(),
		Type:            entityType,
		Name:            name,
		Domain:          domain,
		Confidence:      1.0,
		ValidTime:       ValidFrom(now),
		TransactionTime: now,
	}
}

// Validate checks the structural invariants every stored entity must hold.
func (e *Entity) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if e.Name == "" {
		return ErrEmptyName
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return ErrInvalidConfidence
	}
	return nil
}

// Normalize enforces the alias invariants in place: aliases are deduplicated
// case-insensitively and never include the canonical name, and the type
// degrades to Concept if it is not a known value.
func (e *Entity) Normalize() {
	e.Type = ParseEntityType(string(e.Type))
	e.Aliases = normalizeAliases(e.Aliases, e.Name)
}

// MatchesName reports whether sub occurs case-insensitively in the entity's
// name or any alias.
func (e *Entity) MatchesName(sub string) bool {
	if sub == "" {
		return true
	}
	needle := strings.ToLower(sub)
	if strings.Contains(strings.ToLower(e.Name), needle) {
		return true
	}
	for _, a := range e.Aliases {
		if strings.Contains(strings.ToLower(a), needle) {
			return true
		}
	}
	return false
}

// HasName reports whether name equals the entity's name or any alias,
// case-insensitively.
func (e *Entity) HasName(name string) bool {
	if strings.EqualFold(e.Name, name) {
		return true
	}
	for _, a := range e.Aliases {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}

// VisibleAt reports whether the entity is visible from the given bitemporal
// point.
func (e *Entity) VisibleAt(p BitemporalPoint) bool {
	return p.Sees(e.ValidTime, e.TransactionTime)
}

// Clone returns a deep copy. Backends hand out clones so callers can never
// alias internal state.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	dup := *e
	if e.Aliases != nil {
		dup.Aliases = append([]string(nil), e.Aliases...)
	}
	if e.Properties != nil {
		dup.Properties = make(map[string]string, len(e.Properties))
		for k, v := range e.Properties {
			dup.Properties[k] = v
		}
	}
	if e.ValidTime.Start != nil {
		start := *e.ValidTime.Start
		dup.ValidTime.Start = &start
	}
	if e.ValidTime.End != nil {
		end := *e.ValidTime.End
		dup.ValidTime.End = &end
	}
	return &dup
}

// Relationship is a typed, directed, confidence-scored edge. The
// (From, To, Type) triple is the natural key: storing the same triple again
// updates the edge in place rather than creating a duplicate.
type Relationship struct {
	From            EntityID          `json:"from_entity_id"`
	To              EntityID          `json:"to_entity_id"`
	Type            RelationshipType  `json:"relationship_type"`
	Confidence      float64           `json:"confidence"`
	ValidTime       ValidTimeRange    `json:"valid_time"`
	TransactionTime time.Time         `json:"transaction_time"`
	Properties      map[string]string `json:"properties,omitempty"`
}

// NewRelationship creates an edge with full confidence and both time axes
// anchored at now.
func NewRelationship(from, to EntityID, relType RelationshipType) *Relationship {
	now := time.Now().UTC()
	return &Relationship{
		From:            from,
		To:              to,
		Type:            relType,
		Confidence:      1.0,
		ValidTime:       ValidFrom(now),
		TransactionTime: now,
	}
}

// RelationshipKey is the composite identity of an edge.
type RelationshipKey struct {
	From EntityID
	To   EntityID
	Type RelationshipType
}

// Key returns the edge's composite identity.
func (r *Relationship) Key() RelationshipKey {
	return RelationshipKey{From: r.From, To: r.To, Type: r.Type}
}

// Validate checks the structural invariants every stored relationship must
// hold.
func (r *Relationship) Validate() error {
	if r.From == "" || r.To == "" {
		return ErrEmptyEndpoint
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrInvalidConfidence
	}
	return nil
}

// Normalize degrades an unknown type to RelatesTo so the edge identity is
// stable across store and read.
func (r *Relationship) Normalize() {
	r.Type = ParseRelationshipType(string(r.Type))
}

// VisibleAt reports whether the relationship is visible from the given
// bitemporal point.
func (r *Relationship) VisibleAt(p BitemporalPoint) bool {
	return p.Sees(r.ValidTime, r.TransactionTime)
}

// Clone returns a deep copy.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	dup := *r
	if r.Properties != nil {
		dup.Properties = make(map[string]string, len(r.Properties))
		for k, v := range r.Properties {
			dup.Properties[k] = v
		}
	}
	if r.ValidTime.Start != nil {
		start := *r.ValidTime.Start
		dup.ValidTime.Start = &start
	}
	if r.ValidTime.End != nil {
		end := *r.ValidTime.End
		dup.ValidTime.End = &end
	}
	return &dup
}

// EntityMention records that an entity was referenced inside a specific
// captured text unit. The (EntityID, MemoryID) pair is the natural key:
// repeated extraction of the same memory upserts the mention rather than
// duplicating it.
type EntityMention struct {
	EntityID        EntityID  `json:"entity_id"`
	MemoryID        string    `json:"memory_id"`
	Confidence      float64   `json:"confidence"`
	StartOffset     *int      `json:"start_offset,omitempty"`
	EndOffset       *int      `json:"end_offset,omitempty"`
	MatchedText     string    `json:"matched_text,omitempty"`
	TransactionTime time.Time `json:"transaction_time"`
}

// NewEntityMention creates a mention with full confidence recorded now.
func NewEntityMention(entityID EntityID, memoryID string) *EntityMention {
	return &EntityMention{
		EntityID:        entityID,
		MemoryID:        memoryID,
		Confidence:      1.0,
		TransactionTime: time.Now().UTC(),
	}
}

// MentionKey is the composite identity of a mention.
type MentionKey struct {
	EntityID EntityID
	MemoryID string
}

// Key returns the mention's composite identity.
func (m *EntityMention) Key() MentionKey {
	return MentionKey{EntityID: m.EntityID, MemoryID: m.MemoryID}
}

// Validate checks the structural invariants every stored mention must hold.
func (m *EntityMention) Validate() error {
	if m.EntityID == "" {
		return ErrEmptyID
	}
	if m.MemoryID == "" {
		return ErrEmptyMemoryID
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return ErrInvalidConfidence
	}
	return nil
}

// Clone returns a deep copy.
func (m *EntityMention) Clone() *EntityMention {
	if m == nil {
		return nil
	}
	dup := *m
	if m.StartOffset != nil {
		v := *m.StartOffset
		dup.StartOffset = &v
	}
	if m.EndOffset != nil {
		v := *m.EndOffset
		dup.EndOffset = &v
	}
	return &dup
}
