package driver

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/soundprediction/memoria/pkg/types"
)

// MemoryBackend keeps the whole graph in maps guarded by one reader/writer
// lock per logical table. It is the reference implementation for tests and
// ephemeral deployments.
//
// Cascading operations (delete, merge) acquire each table's lock
// independently and release it before moving on, so there is no multi-table
// atomicity: a crash mid-cascade can leave an edge pointing at a deleted
// entity until the caller retries cleanup. Readers never see torn single
// records, and every returned value is a deep copy.
type MemoryBackend struct {
	logger *slog.Logger

	entitiesMu sync.RWMutex
	entities   map[types.EntityID]*types.Entity

	relationshipsMu sync.RWMutex
	relationships   map[types.RelationshipKey]*types.Relationship

	mentionsMu sync.RWMutex
	mentions   map[types.MentionKey]*types.EntityMention
}

var _ GraphBackend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty in-memory graph. A nil logger falls
// back to slog.Default().
func NewMemoryBackend(logger *slog.Logger) *MemoryBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBackend{
		logger:        logger,
		entities:      make(map[types.EntityID]*types.Entity),
		relationships: make(map[types.RelationshipKey]*types.Relationship),
		mentions:      make(map[types.MentionKey]*types.EntityMention),
	}
}

func (b *MemoryBackend) StoreEntity(ctx context.Context, entity *types.Entity) (err error) {
	if entity == nil {
		return opErrorf("store_entity", "entity is nil")
	}
	if verr := entity.Validate(); verr != nil {
		return opError("store_entity", verr)
	}
	stored := entity.Clone()
	stored.Normalize()

	b.entitiesMu.Lock()
	defer b.entitiesMu.Unlock()
	defer recoverOp("store_entity", &err, b.logger)
	b.entities[stored.ID] = stored
	return nil
}

func (b *MemoryBackend) GetEntity(ctx context.Context, id types.EntityID) (*types.Entity, error) {
	b.entitiesMu.RLock()
	defer b.entitiesMu.RUnlock()
	return b.entities[id].Clone(), nil
}

func (b *MemoryBackend) QueryEntities(ctx context.Context, q types.EntityQuery) ([]*types.Entity, error) {
	q = q.WithDefaults()

	b.entitiesMu.RLock()
	matches := make([]*types.Entity, 0)
	for _, e := range b.entities {
		if q.Matches(e) {
			matches = append(matches, e.Clone())
		}
	}
	b.entitiesMu.RUnlock()

	sortEntities(matches)
	return paginate(matches, q.Limit, q.Offset), nil
}

func (b *MemoryBackend) DeleteEntity(ctx context.Context, id types.EntityID) (deleted bool, err error) {
	b.entitiesMu.Lock()
	_, deleted = b.entities[id]
	delete(b.entities, id)
	b.entitiesMu.Unlock()

	if !deleted {
		return false, nil
	}

	// Emulate the relational backend's foreign-key cascade. Each table is
	// locked on its own, per the concurrency model.
	b.relationshipsMu.Lock()
	for key := range b.relationships {
		if key.From == id || key.To == id {
			delete(b.relationships, key)
		}
	}
	b.relationshipsMu.Unlock()

	b.mentionsMu.Lock()
	for key := range b.mentions {
		if key.EntityID == id {
			delete(b.mentions, key)
		}
	}
	b.mentionsMu.Unlock()

	return true, nil
}

func (b *MemoryBackend) MergeEntities(ctx context.Context, ids []types.EntityID, canonicalName string) (merged *types.Entity, err error) {
	if len(ids) == 0 {
		return nil, opError("merge_entities", types.ErrEmptyEntityIDs)
	}
	if canonicalName == "" {
		return nil, opError("merge_entities", types.ErrEmptyName)
	}
	defer recoverOp("merge_entities", &err, b.logger)
	canonicalID := ids[0]

	absorbed, err := b.absorbEntities(ids, canonicalName)
	if err != nil {
		return nil, err
	}
	b.repointRelationships(canonicalID, absorbed)
	mentionCount := b.repointMentions(canonicalID, absorbed)

	b.entitiesMu.Lock()
	defer b.entitiesMu.Unlock()
	e, ok := b.entities[canonicalID]
	if !ok {
		return nil, opErrorf("merge_entities", "canonical entity %s vanished during merge", canonicalID)
	}
	e.MentionCount = mentionCount
	return e.Clone(), nil
}

// absorbEntities renames the canonical entity, collects the union of every
// merged entity's former name and aliases, and removes the absorbed records.
// Ids that do not resolve are skipped.
func (b *MemoryBackend) absorbEntities(ids []types.EntityID, canonicalName string) (map[types.EntityID]bool, error) {
	canonicalID := ids[0]

	b.entitiesMu.Lock()
	defer b.entitiesMu.Unlock()

	canonical, ok := b.entities[canonicalID]
	if !ok {
		return nil, opErrorf("merge_entities", "canonical entity %s not found", canonicalID)
	}

	aliasUnion := make([]string, 0, len(ids)*2)
	aliasUnion = append(aliasUnion, canonical.Name)
	aliasUnion = append(aliasUnion, canonical.Aliases...)
	absorbed := make(map[types.EntityID]bool, len(ids)-1)
	for _, id := range ids[1:] {
		if id == canonicalID {
			continue
		}
		other, ok := b.entities[id]
		if !ok {
			b.logger.Warn("merge skipping unknown entity", "id", id)
			continue
		}
		aliasUnion = append(aliasUnion, other.Name)
		aliasUnion = append(aliasUnion, other.Aliases...)
		absorbed[id] = true
		delete(b.entities, id)
	}
	canonical.Name = canonicalName
	canonical.Aliases = aliasUnion
	canonical.Normalize()
	return absorbed, nil
}

// repointRelationships rewrites absorbed endpoints to the canonical id.
// When repointing collides with an edge the canonical entity already has,
// the existing edge wins and the absorbed one is dropped, matching the
// relational backend's conflict handling.
func (b *MemoryBackend) repointRelationships(canonicalID types.EntityID, absorbed map[types.EntityID]bool) {
	b.relationshipsMu.Lock()
	defer b.relationshipsMu.Unlock()

	repointed := make([]*types.Relationship, 0)
	for key, rel := range b.relationships {
		if !absorbed[key.From] && !absorbed[key.To] {
			continue
		}
		delete(b.relationships, key)
		moved := rel.Clone()
		if absorbed[moved.From] {
			moved.From = canonicalID
		}
		if absorbed[moved.To] {
			moved.To = canonicalID
		}
		repointed = append(repointed, moved)
	}
	for _, rel := range repointed {
		if _, exists := b.relationships[rel.Key()]; exists {
			continue
		}
		b.relationships[rel.Key()] = rel
	}
}

// repointMentions rewrites absorbed mentions with the same conflict rule and
// returns the canonical entity's recomputed mention count.
func (b *MemoryBackend) repointMentions(canonicalID types.EntityID, absorbed map[types.EntityID]bool) int {
	b.mentionsMu.Lock()
	defer b.mentionsMu.Unlock()

	moved := make([]*types.EntityMention, 0)
	for key, mention := range b.mentions {
		if !absorbed[key.EntityID] {
			continue
		}
		delete(b.mentions, key)
		m := mention.Clone()
		m.EntityID = canonicalID
		moved = append(moved, m)
	}
	for _, m := range moved {
		if _, exists := b.mentions[m.Key()]; exists {
			continue
		}
		b.mentions[m.Key()] = m
	}
	count := 0
	for key := range b.mentions {
		if key.EntityID == canonicalID {
			count++
		}
	}
	return count
}

func (b *MemoryBackend) FindEntitiesByName(ctx context.Context, name string, entityType *types.EntityType, domain *types.Domain, limit int) ([]*types.Entity, error) {
	if limit <= 0 {
		limit = types.DefaultQueryLimit
	}

	b.entitiesMu.RLock()
	matches := make([]*types.Entity, 0)
	for _, e := range b.entities {
		if !e.HasName(name) {
			continue
		}
		if entityType != nil && e.Type != *entityType {
			continue
		}
		if domain != nil && !domain.Matches(e.Domain) {
			continue
		}
		matches = append(matches, e.Clone())
	}
	b.entitiesMu.RUnlock()

	sortEntities(matches)
	return paginate(matches, limit, 0), nil
}

func (b *MemoryBackend) StoreRelationship(ctx context.Context, rel *types.Relationship) (err error) {
	if rel == nil {
		return opErrorf("store_relationship", "relationship is nil")
	}
	if verr := rel.Validate(); verr != nil {
		return opError("store_relationship", verr)
	}
	stored := rel.Clone()
	stored.Normalize()

	// Both endpoints must exist, mirroring the relational backend's
	// foreign-key constraints.
	b.entitiesMu.RLock()
	_, fromOK := b.entities[stored.From]
	_, toOK := b.entities[stored.To]
	b.entitiesMu.RUnlock()
	if !fromOK {
		return opErrorf("store_relationship", "from entity %s not found", stored.From)
	}
	if !toOK {
		return opErrorf("store_relationship", "to entity %s not found", stored.To)
	}

	b.relationshipsMu.Lock()
	defer b.relationshipsMu.Unlock()
	defer recoverOp("store_relationship", &err, b.logger)
	b.relationships[stored.Key()] = stored
	return nil
}

func (b *MemoryBackend) QueryRelationships(ctx context.Context, q types.RelationshipQuery) ([]*types.Relationship, error) {
	q = q.WithDefaults()

	b.relationshipsMu.RLock()
	matches := make([]*types.Relationship, 0)
	for _, rel := range b.relationships {
		if q.Matches(rel) {
			matches = append(matches, rel.Clone())
		}
	}
	b.relationshipsMu.RUnlock()

	sortRelationships(matches)
	return paginate(matches, q.Limit, q.Offset), nil
}

func (b *MemoryBackend) DeleteRelationships(ctx context.Context, q types.RelationshipQuery) (int, error) {
	// Refuse a filter with no conditions so a zero-value query can never
	// wipe the table.
	if q.Empty() {
		return 0, nil
	}

	b.relationshipsMu.Lock()
	defer b.relationshipsMu.Unlock()
	deleted := 0
	for key, rel := range b.relationships {
		if q.Matches(rel) {
			delete(b.relationships, key)
			deleted++
		}
	}
	return deleted, nil
}

func (b *MemoryBackend) GetRelationshipTypes(ctx context.Context, from, to types.EntityID) ([]types.RelationshipType, error) {
	b.relationshipsMu.RLock()
	seen := make(map[types.RelationshipType]struct{})
	for key := range b.relationships {
		if key.From == from && key.To == to {
			seen[key.Type] = struct{}{}
		}
	}
	b.relationshipsMu.RUnlock()

	out := make([]types.RelationshipType, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (b *MemoryBackend) StoreMention(ctx context.Context, mention *types.EntityMention) (err error) {
	if mention == nil {
		return opErrorf("store_mention", "mention is nil")
	}
	if verr := mention.Validate(); verr != nil {
		return opError("store_mention", verr)
	}
	stored := mention.Clone()

	b.entitiesMu.RLock()
	_, entityOK := b.entities[stored.EntityID]
	b.entitiesMu.RUnlock()
	if !entityOK {
		return opErrorf("store_mention", "entity %s not found", stored.EntityID)
	}

	b.mentionsMu.Lock()
	_, existed := b.mentions[stored.Key()]
	b.mentions[stored.Key()] = stored
	b.mentionsMu.Unlock()

	// The derived counter moves only on the first insert for the pair.
	if !existed {
		b.entitiesMu.Lock()
		if e, ok := b.entities[stored.EntityID]; ok {
			e.MentionCount++
		}
		b.entitiesMu.Unlock()
	}
	return nil
}

func (b *MemoryBackend) GetMentionsForEntity(ctx context.Context, id types.EntityID) ([]*types.EntityMention, error) {
	b.mentionsMu.RLock()
	out := make([]*types.EntityMention, 0)
	for key, m := range b.mentions {
		if key.EntityID == id {
			out = append(out, m.Clone())
		}
	}
	b.mentionsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MemoryID < out[j].MemoryID })
	return out, nil
}

func (b *MemoryBackend) GetEntitiesInMemory(ctx context.Context, memoryID string) ([]*types.Entity, error) {
	type hit struct {
		entityID   types.EntityID
		confidence float64
	}

	b.mentionsMu.RLock()
	hits := make([]hit, 0)
	for key, m := range b.mentions {
		if key.MemoryID == memoryID {
			hits = append(hits, hit{entityID: key.EntityID, confidence: m.Confidence})
		}
	}
	b.mentionsMu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].confidence != hits[j].confidence {
			return hits[i].confidence > hits[j].confidence
		}
		return hits[i].entityID < hits[j].entityID
	})

	b.entitiesMu.RLock()
	defer b.entitiesMu.RUnlock()
	out := make([]*types.Entity, 0, len(hits))
	for _, h := range hits {
		if e, ok := b.entities[h.entityID]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (b *MemoryBackend) DeleteMentionsForEntity(ctx context.Context, id types.EntityID) (int, error) {
	b.mentionsMu.Lock()
	deleted := 0
	for key := range b.mentions {
		if key.EntityID == id {
			delete(b.mentions, key)
			deleted++
		}
	}
	b.mentionsMu.Unlock()

	b.entitiesMu.Lock()
	if e, ok := b.entities[id]; ok {
		e.MentionCount = 0
	}
	b.entitiesMu.Unlock()

	return deleted, nil
}

func (b *MemoryBackend) DeleteMentionsForMemory(ctx context.Context, memoryID string) (int, error) {
	b.mentionsMu.Lock()
	affected := make([]types.EntityID, 0)
	for key := range b.mentions {
		if key.MemoryID == memoryID {
			delete(b.mentions, key)
			affected = append(affected, key.EntityID)
		}
	}
	b.mentionsMu.Unlock()

	if len(affected) > 0 {
		b.entitiesMu.Lock()
		for _, id := range affected {
			if e, ok := b.entities[id]; ok && e.MentionCount > 0 {
				e.MentionCount--
			}
		}
		b.entitiesMu.Unlock()
	}
	return len(affected), nil
}

func (b *MemoryBackend) Traverse(ctx context.Context, opts types.TraversalOptions) (*types.TraversalResult, error) {
	if verr := opts.Validate(); verr != nil {
		return nil, opError("traverse", verr)
	}
	adjacency := b.snapshotAdjacency(func(r *types.Relationship) bool { return opts.Allows(r) })

	b.entitiesMu.RLock()
	defer b.entitiesMu.RUnlock()

	if _, ok := b.entities[opts.StartID]; !ok {
		return &types.TraversalResult{
			Entities:      []*types.Entity{},
			Relationships: []*types.Relationship{},
		}, nil
	}

	type frontierNode struct {
		id    types.EntityID
		depth int
	}
	visited := map[types.EntityID]bool{opts.StartID: true}
	order := []types.EntityID{opts.StartID}
	queue := []frontierNode{{id: opts.StartID, depth: 0}}
	seenEdges := make(map[types.RelationshipKey]bool)
	edges := make([]*types.Relationship, 0)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= opts.MaxDepth {
			continue
		}
		for _, rel := range adjacency[current.id] {
			if _, ok := b.entities[rel.To]; !ok {
				continue
			}
			if !seenEdges[rel.Key()] {
				seenEdges[rel.Key()] = true
				edges = append(edges, rel)
			}
			if !visited[rel.To] {
				visited[rel.To] = true
				order = append(order, rel.To)
				queue = append(queue, frontierNode{id: rel.To, depth: current.depth + 1})
			}
		}
	}

	entities := make([]*types.Entity, 0, len(order))
	for _, id := range order {
		entities = append(entities, b.entities[id].Clone())
	}
	return &types.TraversalResult{
		Entities:      entities,
		Relationships: edges,
		TotalCount:    len(entities),
	}, nil
}

func (b *MemoryBackend) FindPath(ctx context.Context, from, to types.EntityID, maxDepth int) (*types.Path, error) {
	if from == "" || to == "" {
		return nil, opError("find_path", types.ErrEmptyID)
	}
	if maxDepth < 0 {
		return nil, opError("find_path", types.ErrNegativeDepth)
	}
	adjacency := b.snapshotAdjacency(nil)

	b.entitiesMu.RLock()
	defer b.entitiesMu.RUnlock()

	if _, ok := b.entities[from]; !ok {
		return nil, nil
	}
	if _, ok := b.entities[to]; !ok {
		return nil, nil
	}
	if from == to {
		return &types.Path{
			Entities:      []*types.Entity{b.entities[from].Clone()},
			Relationships: []*types.Relationship{},
		}, nil
	}

	parents := map[types.EntityID]pathStep{}
	visited := map[types.EntityID]bool{from: true}

	type frontierNode struct {
		id    types.EntityID
		depth int
	}
	queue := []frontierNode{{id: from, depth: 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}
		for _, rel := range adjacency[current.id] {
			if visited[rel.To] {
				continue
			}
			if _, ok := b.entities[rel.To]; !ok {
				continue
			}
			visited[rel.To] = true
			parents[rel.To] = pathStep{parent: current.id, via: rel}
			if rel.To == to {
				return b.reconstructPath(from, to, parents), nil
			}
			queue = append(queue, frontierNode{id: rel.To, depth: current.depth + 1})
		}
	}
	return nil, nil
}

// pathStep records how BFS first reached an entity.
type pathStep struct {
	parent types.EntityID
	via    *types.Relationship
}

// reconstructPath walks the parent links back from the target. Callers hold
// the entity read lock.
func (b *MemoryBackend) reconstructPath(from, to types.EntityID, parents map[types.EntityID]pathStep) *types.Path {
	ids := []types.EntityID{to}
	rels := []*types.Relationship{}
	for cursor := to; cursor != from; {
		p := parents[cursor]
		rels = append(rels, p.via)
		ids = append(ids, p.parent)
		cursor = p.parent
	}
	// Reverse into from → to order.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	for i, j := 0, len(rels)-1; i < j; i, j = i+1, j-1 {
		rels[i], rels[j] = rels[j], rels[i]
	}
	entities := make([]*types.Entity, 0, len(ids))
	for _, id := range ids {
		entities = append(entities, b.entities[id].Clone())
	}
	return &types.Path{Entities: entities, Relationships: rels}
}

// snapshotAdjacency copies the outgoing-edge lists that pass the filter,
// sorted by target then type so traversal order is deterministic.
func (b *MemoryBackend) snapshotAdjacency(allow func(*types.Relationship) bool) map[types.EntityID][]*types.Relationship {
	b.relationshipsMu.RLock()
	adjacency := make(map[types.EntityID][]*types.Relationship)
	for _, rel := range b.relationships {
		if allow != nil && !allow(rel) {
			continue
		}
		adjacency[rel.From] = append(adjacency[rel.From], rel.Clone())
	}
	b.relationshipsMu.RUnlock()

	for _, edges := range adjacency {
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].To != edges[j].To {
				return edges[i].To < edges[j].To
			}
			return edges[i].Type < edges[j].Type
		})
	}
	return adjacency
}

func (b *MemoryBackend) QueryEntitiesAt(ctx context.Context, q types.EntityQuery, at types.BitemporalPoint) ([]*types.Entity, error) {
	q.At = &at
	return b.QueryEntities(ctx, q)
}

func (b *MemoryBackend) QueryRelationshipsAt(ctx context.Context, q types.RelationshipQuery, at types.BitemporalPoint) ([]*types.Relationship, error) {
	q.At = &at
	return b.QueryRelationships(ctx, q)
}

func (b *MemoryBackend) CloseEntityValidTime(ctx context.Context, id types.EntityID, end time.Time) error {
	b.entitiesMu.Lock()
	defer b.entitiesMu.Unlock()
	e, ok := b.entities[id]
	if !ok {
		return opErrorf("close_entity_valid_time", "entity %s not found", id)
	}
	e.ValidTime.End = &end
	return nil
}

func (b *MemoryBackend) CloseRelationshipValidTime(ctx context.Context, from, to types.EntityID, relType types.RelationshipType, end time.Time) error {
	b.relationshipsMu.Lock()
	defer b.relationshipsMu.Unlock()
	key := types.RelationshipKey{From: from, To: to, Type: relType}
	rel, ok := b.relationships[key]
	if !ok {
		return opErrorf("close_relationship_valid_time", "relationship %s-[%s]->%s not found", from, relType, to)
	}
	rel.ValidTime.End = &end
	return nil
}

func (b *MemoryBackend) Stats(ctx context.Context) (*types.GraphStats, error) {
	stats := &types.GraphStats{
		EntitiesByType:      make(map[types.EntityType]int64),
		RelationshipsByType: make(map[types.RelationshipType]int64),
	}

	b.entitiesMu.RLock()
	stats.EntityCount = int64(len(b.entities))
	for _, e := range b.entities {
		stats.EntitiesByType[e.Type]++
	}
	b.entitiesMu.RUnlock()

	b.relationshipsMu.RLock()
	stats.RelationshipCount = int64(len(b.relationships))
	for key := range b.relationships {
		stats.RelationshipsByType[key.Type]++
	}
	b.relationshipsMu.RUnlock()

	b.mentionsMu.RLock()
	stats.MentionCount = int64(len(b.mentions))
	b.mentionsMu.RUnlock()

	if stats.EntityCount > 0 {
		stats.AvgRelationshipsPerEntity = float64(stats.RelationshipCount) / float64(stats.EntityCount)
	}
	return stats, nil
}

func (b *MemoryBackend) Clear(ctx context.Context) error {
	b.entitiesMu.Lock()
	b.entities = make(map[types.EntityID]*types.Entity)
	b.entitiesMu.Unlock()

	b.relationshipsMu.Lock()
	b.relationships = make(map[types.RelationshipKey]*types.Relationship)
	b.relationshipsMu.Unlock()

	b.mentionsMu.Lock()
	b.mentions = make(map[types.MentionKey]*types.EntityMention)
	b.mentionsMu.Unlock()

	return nil
}

func (b *MemoryBackend) Close() error {
	return nil
}

// sortEntities orders by mention count descending, confidence descending,
// then name and id so equal-scoring runs are stable across calls and match
// the relational backend's ordering.
func sortEntities(entities []*types.Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].MentionCount != entities[j].MentionCount {
			return entities[i].MentionCount > entities[j].MentionCount
		}
		if entities[i].Confidence != entities[j].Confidence {
			return entities[i].Confidence > entities[j].Confidence
		}
		if entities[i].Name != entities[j].Name {
			return entities[i].Name < entities[j].Name
		}
		return entities[i].ID < entities[j].ID
	})
}

// sortRelationships orders by confidence descending with a deterministic
// key tie-break, matching the relational backend.
func sortRelationships(rels []*types.Relationship) {
	sort.SliceStable(rels, func(i, j int) bool {
		if rels[i].Confidence != rels[j].Confidence {
			return rels[i].Confidence > rels[j].Confidence
		}
		if rels[i].From != rels[j].From {
			return rels[i].From < rels[j].From
		}
		if rels[i].To != rels[j].To {
			return rels[i].To < rels[j].To
		}
		return rels[i].Type < rels[j].Type
	})
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
