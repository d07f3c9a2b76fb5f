package types

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation errors
var (
	ErrEmptyID           = errors.New("id cannot be empty")
	ErrEmptyName         = errors.New("name cannot be empty")
	ErrEmptyMemoryID     = errors.New("memory_id cannot be empty")
	ErrEmptyEntityIDs    = errors.New("entity ids cannot be empty")
	ErrEmptyEndpoint     = errors.New("relationship endpoints cannot be empty")
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")
	ErrNegativeDepth     = errors.New("max depth cannot be negative")
)

// EntityID is the opaque identifier of an entity. IDs are generated at
// creation time and remain stable for the entity's lifetime; a merge keeps
// the canonical entity's id and retires the others.
type EntityID string

// NewEntityID returns a freshly generated EntityID.
func NewEntityID() EntityID {
	return EntityID(uuid.NewString())
}

func (id EntityID) String() string {
	return string(id)
}

// EntityType classifies what kind of thing an entity is.
type EntityType string

const (
	EntityTypePerson       EntityType = "Person"
	EntityTypeOrganization EntityType = "Organization"
	EntityTypeTechnology   EntityType = "Technology"
	EntityTypeFile         EntityType = "File"
	EntityTypeConcept      EntityType = "Concept"
)

// ParseEntityType maps a stored string onto an EntityType. Unknown strings
// fall back to EntityTypeConcept so a corrupt or foreign value never fails
// a read.
func ParseEntityType(s string) EntityType {
	switch EntityType(s) {
	case EntityTypePerson, EntityTypeOrganization, EntityTypeTechnology,
		EntityTypeFile, EntityTypeConcept:
		return EntityType(s)
	}
	return EntityTypeConcept
}

// RelationshipType classifies a directed edge between two entities.
type RelationshipType string

const (
	RelationWorksAt       RelationshipType = "WorksAt"
	RelationCreated       RelationshipType = "Created"
	RelationUses          RelationshipType = "Uses"
	RelationImplements    RelationshipType = "Implements"
	RelationPartOf        RelationshipType = "PartOf"
	RelationMentionedIn   RelationshipType = "MentionedIn"
	RelationSupersedes    RelationshipType = "Supersedes"
	RelationConflictsWith RelationshipType = "ConflictsWith"
	// RelationRelatesTo is the default when nothing more specific applies.
	RelationRelatesTo RelationshipType = "RelatesTo"
)

// ParseRelationshipType maps a stored string onto a RelationshipType,
// falling back to RelationRelatesTo for unknown values.
func ParseRelationshipType(s string) RelationshipType {
	switch RelationshipType(s) {
	case RelationWorksAt, RelationCreated, RelationUses, RelationImplements,
		RelationPartOf, RelationMentionedIn, RelationSupersedes,
		RelationConflictsWith, RelationRelatesTo:
		return RelationshipType(s)
	}
	return RelationRelatesTo
}

// Domain scopes entities to an organization / project / repository tuple.
// Empty components are wildcards when a Domain is used as a query filter.
type Domain struct {
	Organization string `json:"organization,omitempty"`
	Project      string `json:"project,omitempty"`
	Repository   string `json:"repository,omitempty"`
}

// IsZero reports whether every component is empty.
func (d Domain) IsZero() bool {
	return d.Organization == "" && d.Project == "" && d.Repository == ""
}

// Matches reports whether target satisfies d when d is used as a filter:
// each non-empty component of d must equal the corresponding component of
// target.
func (d Domain) Matches(target Domain) bool {
	if d.Organization != "" && d.Organization != target.Organization {
		return false
	}
	if d.Project != "" && d.Project != target.Project {
		return false
	}
	if d.Repository != "" && d.Repository != target.Repository {
		return false
	}
	return true
}

// ValidTimeRange is the interval during which a fact holds in the modeled
// world. A nil Start means "valid since the beginning of time", a nil End
// means "still valid". Start is inclusive, End exclusive.
type ValidTimeRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// ValidFrom builds a range open on the end, starting at t.
func ValidFrom(t time.Time) ValidTimeRange {
	return ValidTimeRange{Start: &t}
}

// ValidBetween builds a closed range [start, end).
func ValidBetween(start, end time.Time) ValidTimeRange {
	return ValidTimeRange{Start: &start, End: &end}
}

// Contains reports whether t falls inside the range.
func (r ValidTimeRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && !t.Before(*r.End) {
		return false
	}
	return true
}

// Closed reports whether the range has an end.
func (r ValidTimeRange) Closed() bool {
	return r.End != nil
}

// BitemporalPoint addresses graph state on both time axes: what was true in
// the world at ValidAt, according to what the system knew at AsOf.
type BitemporalPoint struct {
	ValidAt time.Time `json:"valid_at"`
	AsOf    time.Time `json:"as_of"`
}

// Sees reports whether a record with the given valid-time range and
// transaction time is visible from this point: the range must contain
// ValidAt and the record must have been written no later than AsOf.
func (p BitemporalPoint) Sees(valid ValidTimeRange, recorded time.Time) bool {
	return valid.Contains(p.ValidAt) && !recorded.After(p.AsOf)
}

// normalizeAliases dedupes names case-insensitively, preserving first
// occurrence, and drops the canonical name.
func normalizeAliases(aliases []string, canonical string) []string {
	if len(aliases) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(aliases))
	canonicalKey := strings.ToLower(canonical)
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if a == "" {
			continue
		}
		key := strings.ToLower(a)
		if key == canonicalKey {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
