// Package types defines the core data types for the memoria knowledge graph.
//
// This package contains the fundamental types used throughout memoria:
//   - Entity: A named person, organization, technology, file, or concept
//   - Relationship: A typed, directed, confidence-scored edge between entities
//   - EntityMention: Evidence that an entity appeared in a captured memory
//   - EntityQuery / RelationshipQuery: Backend-neutral filter descriptors
//   - TraversalOptions / TraversalResult / Path: Graph exploration types
//
// # Bitemporal Model
//
// Every entity and relationship carries two independent time axes:
//   - ValidTimeRange: when the fact holds in the modeled world. A nil Start
//     means "since the beginning of time", a nil End means "still valid".
//   - TransactionTime: the instant the record became known to the system.
//
// A BitemporalPoint pairs a valid-time instant with an as-of instant so
// queries can ask "what did we believe was true at time V, as of time T".
//
// # Identity
//
// Entities are identified by an opaque generated EntityID. Relationships are
// identified by their (From, To, Type) triple and mentions by their
// (EntityID, MemoryID) pair; storing an existing key again updates the
// record in place rather than duplicating it.
//
// # Validation
//
// Types provide Validate() methods returning sentinel errors for structural
// problems:
//
//	entity := types.NewEntity("Grace Hopper", types.EntityTypePerson, domain)
//	if err := entity.Validate(); err != nil {
//	    // Handle validation error
//	}
//
// Enum-valued fields degrade rather than fail: parsing an unknown entity
// type yields Concept, an unknown relationship type yields RelatesTo.
package types
