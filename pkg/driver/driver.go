package driver

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/soundprediction/memoria/pkg/types"
)

// GraphBackend is the storage contract for the knowledge graph. Exactly two
// implementations exist, MemoryBackend and SQLiteBackend, and they behave
// identically: the shared suite in backend_test.go runs every contract test
// against both.
//
// All operations are synchronous. The backend never imposes a timeout of its
// own; a caller needing bounded latency passes a context with a deadline,
// which only the database-backed implementation can observe mid-operation.
// Point lookups report absence with a nil result, not an error.
type GraphBackend interface {
	// StoreEntity upserts by id. When the id already exists every field is
	// overwritten with the new values, including MentionCount.
	StoreEntity(ctx context.Context, entity *types.Entity) error
	// GetEntity returns (nil, nil) when no entity has the id.
	GetEntity(ctx context.Context, id types.EntityID) (*types.Entity, error)
	// QueryEntities returns matches ordered by mention count descending,
	// then confidence descending, paginated by the query's limit and offset.
	QueryEntities(ctx context.Context, q types.EntityQuery) ([]*types.Entity, error)
	// DeleteEntity removes the entity and cascades to its relationships and
	// mentions. It reports whether anything was deleted.
	DeleteEntity(ctx context.Context, id types.EntityID) (bool, error)
	// MergeEntities canonicalizes ids[0]: its name becomes canonicalName,
	// its aliases the union of all merged names and aliases (minus the
	// canonical name), every relationship and mention referencing another
	// id is repointed, and the non-canonical entities are deleted. Ids that
	// do not resolve are skipped; an empty id list or a missing canonical
	// entity is an error.
	MergeEntities(ctx context.Context, ids []types.EntityID, canonicalName string) (*types.Entity, error)
	// FindEntitiesByName matches name case-insensitively against entity
	// names and aliases, optionally narrowed by type and domain.
	FindEntitiesByName(ctx context.Context, name string, entityType *types.EntityType, domain *types.Domain, limit int) ([]*types.Entity, error)

	// StoreRelationship upserts on the (from, to, type) triple. Both
	// endpoints must exist.
	StoreRelationship(ctx context.Context, rel *types.Relationship) error
	// QueryRelationships returns matches ordered by confidence descending,
	// paginated.
	QueryRelationships(ctx context.Context, q types.RelationshipQuery) ([]*types.Relationship, error)
	// DeleteRelationships bulk-deletes matches and returns how many were
	// removed. An empty filter deletes nothing.
	DeleteRelationships(ctx context.Context, q types.RelationshipQuery) (int, error)
	// GetRelationshipTypes returns the distinct edge types between an
	// ordered pair of entities.
	GetRelationshipTypes(ctx context.Context, from, to types.EntityID) ([]types.RelationshipType, error)

	// StoreMention upserts on the (entity, memory) pair. The entity must
	// exist. The entity's mention count increases only on first insert of
	// the pair.
	StoreMention(ctx context.Context, mention *types.EntityMention) error
	GetMentionsForEntity(ctx context.Context, id types.EntityID) ([]*types.EntityMention, error)
	// GetEntitiesInMemory returns the entities mentioned by a memory,
	// ordered by mention confidence descending.
	GetEntitiesInMemory(ctx context.Context, memoryID string) ([]*types.Entity, error)
	// DeleteMentionsForEntity removes the entity's mentions and resets its
	// mention count to zero.
	DeleteMentionsForEntity(ctx context.Context, id types.EntityID) (int, error)
	// DeleteMentionsForMemory removes the memory's mentions and decrements
	// the mention count of every entity that lost one, floored at zero.
	DeleteMentionsForMemory(ctx context.Context, memoryID string) (int, error)

	// Traverse expands breadth-first from a start entity. Depth 0 yields
	// only the start entity; entities discovered at the depth bound are
	// included but not expanded; only outgoing edges are followed.
	// A missing start entity yields an empty result.
	Traverse(ctx context.Context, opts types.TraversalOptions) (*types.TraversalResult, error)
	// FindPath returns the shortest path by hop count within maxDepth, or
	// (nil, nil) when the target is unreachable. Equal-length ties resolve
	// to the first path discovered.
	FindPath(ctx context.Context, from, to types.EntityID, maxDepth int) (*types.Path, error)

	// QueryEntitiesAt applies q's filters plus bitemporal visibility: the
	// record's valid time must contain at.ValidAt and its transaction time
	// must not be after at.AsOf.
	QueryEntitiesAt(ctx context.Context, q types.EntityQuery, at types.BitemporalPoint) ([]*types.Entity, error)
	QueryRelationshipsAt(ctx context.Context, q types.RelationshipQuery, at types.BitemporalPoint) ([]*types.Relationship, error)
	// CloseEntityValidTime sets the end of the entity's valid-time interval,
	// the only permitted valid-time mutation. Missing targets are an error.
	CloseEntityValidTime(ctx context.Context, id types.EntityID, end time.Time) error
	CloseRelationshipValidTime(ctx context.Context, from, to types.EntityID, relType types.RelationshipType, end time.Time) error

	// Stats summarizes the stored graph.
	Stats(ctx context.Context) (*types.GraphStats, error)
	// Clear removes every entity, relationship, and mention.
	Clear(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// OpError is the single failure kind every backend operation reports.
// Callers distinguish failure categories by the operation name and the
// cause text, not by a typed hierarchy.
type OpError struct {
	Op    string
	Cause error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("graph: %s: %v", e.Op, e.Cause)
}

func (e *OpError) Unwrap() error {
	return e.Cause
}

func opError(op string, cause error) *OpError {
	return &OpError{Op: op, Cause: cause}
}

func opErrorf(op, format string, args ...any) *OpError {
	return &OpError{Op: op, Cause: fmt.Errorf(format, args...)}
}

// recoverOp converts a panic raised inside a backend critical section into
// an OpError. Paired with a deferred unlock it guarantees a panicking
// operation can never wedge the lock or the connection; the next caller
// proceeds normally.
//
//	func (b *SQLiteBackend) op(...) (err error) {
//	    b.mu.Lock()
//	    defer b.mu.Unlock()
//	    defer recoverOp("store_entity", &err, b.logger)
//	    ...
//	}
func recoverOp(op string, errp *error, logger *slog.Logger) {
	if r := recover(); r != nil {
		stack := string(debug.Stack())
		logger.Error("recovered panic in graph operation",
			"op", op,
			"panic", r,
			"stack", stack,
		)
		*errp = opErrorf(op, "panic recovered: %v", r)
	}
}
