package driver

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/soundprediction/memoria/pkg/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS graph_entities (
	id               TEXT PRIMARY KEY,
	entity_type      TEXT NOT NULL,
	name             TEXT NOT NULL,
	aliases          TEXT NOT NULL DEFAULT '[]',
	domain_org       TEXT NOT NULL DEFAULT '',
	domain_project   TEXT NOT NULL DEFAULT '',
	domain_repo      TEXT NOT NULL DEFAULT '',
	confidence       REAL NOT NULL DEFAULT 1.0,
	valid_time_start INTEGER,
	valid_time_end   INTEGER,
	transaction_time INTEGER NOT NULL,
	properties       TEXT NOT NULL DEFAULT '{}',
	mention_count    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_graph_entities_type ON graph_entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_graph_entities_name ON graph_entities(name);
CREATE INDEX IF NOT EXISTS idx_graph_entities_domain ON graph_entities(domain_org, domain_project, domain_repo);
CREATE INDEX IF NOT EXISTS idx_graph_entities_confidence ON graph_entities(confidence);
CREATE INDEX IF NOT EXISTS idx_graph_entities_mentions ON graph_entities(mention_count);

CREATE TABLE IF NOT EXISTS graph_relationships (
	from_entity_id    TEXT NOT NULL,
	to_entity_id      TEXT NOT NULL,
	relationship_type TEXT NOT NULL,
	confidence        REAL NOT NULL DEFAULT 1.0,
	valid_time_start  INTEGER,
	valid_time_end    INTEGER,
	transaction_time  INTEGER NOT NULL,
	properties        TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (from_entity_id, to_entity_id, relationship_type),
	FOREIGN KEY (from_entity_id) REFERENCES graph_entities(id) ON DELETE CASCADE,
	FOREIGN KEY (to_entity_id) REFERENCES graph_entities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_graph_relationships_from ON graph_relationships(from_entity_id);
CREATE INDEX IF NOT EXISTS idx_graph_relationships_to ON graph_relationships(to_entity_id);
CREATE INDEX IF NOT EXISTS idx_graph_relationships_type ON graph_relationships(relationship_type);

CREATE TABLE IF NOT EXISTS graph_entity_mentions (
	entity_id        TEXT NOT NULL,
	memory_id        TEXT NOT NULL,
	confidence       REAL NOT NULL DEFAULT 1.0,
	start_offset     INTEGER,
	end_offset       INTEGER,
	matched_text     TEXT NOT NULL DEFAULT '',
	transaction_time INTEGER NOT NULL,
	PRIMARY KEY (entity_id, memory_id),
	FOREIGN KEY (entity_id) REFERENCES graph_entities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_graph_mentions_entity ON graph_entity_mentions(entity_id);
CREATE INDEX IF NOT EXISTS idx_graph_mentions_memory ON graph_entity_mentions(memory_id);
`

const entityColumns = `id, entity_type, name, aliases, domain_org, domain_project, domain_repo,
	confidence, valid_time_start, valid_time_end, transaction_time, properties, mention_count`

const relationshipColumns = `from_entity_id, to_entity_id, relationship_type,
	confidence, valid_time_start, valid_time_end, transaction_time, properties`

const mentionColumns = `entity_id, memory_id, confidence, start_offset, end_offset,
	matched_text, transaction_time`

// SQLiteBackend persists the graph in a normalized three-table schema. A
// single connection sits behind one mutex; the holder runs its whole
// statement sequence before releasing, and foreign-key cascades keep
// dependent rows consistent when entities are deleted.
type SQLiteBackend struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger
}

var _ GraphBackend = (*SQLiteBackend)(nil)

// NewSQLiteBackend opens (or creates) the database at path and bootstraps
// the schema. A nil logger falls back to slog.Default().
func NewSQLiteBackend(path string, logger *slog.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, opError("open", err)
	}
	// One connection, one lock. This also keeps an in-memory database
	// alive for the backend's lifetime.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, opError("open", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, opError("open", err)
	}
	return &SQLiteBackend{db: db, logger: logger}, nil
}

func (b *SQLiteBackend) StoreEntity(ctx context.Context, entity *types.Entity) (err error) {
	if entity == nil {
		return opErrorf("store_entity", "entity is nil")
	}
	if verr := entity.Validate(); verr != nil {
		return opError("store_entity", verr)
	}
	stored := entity.Clone()
	stored.Normalize()

	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("store_entity", &err, b.logger)

	const q = `INSERT INTO graph_entities (` + entityColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	entity_type = excluded.entity_type,
	name = excluded.name,
	aliases = excluded.aliases,
	domain_org = excluded.domain_org,
	domain_project = excluded.domain_project,
	domain_repo = excluded.domain_repo,
	confidence = excluded.confidence,
	valid_time_start = excluded.valid_time_start,
	valid_time_end = excluded.valid_time_end,
	transaction_time = excluded.transaction_time,
	properties = excluded.properties,
	mention_count = excluded.mention_count`

	_, err = b.db.ExecContext(ctx, q,
		string(stored.ID),
		string(stored.Type),
		stored.Name,
		encodeStrings(stored.Aliases),
		stored.Domain.Organization,
		stored.Domain.Project,
		stored.Domain.Repository,
		stored.Confidence,
		encodeTimePtr(stored.ValidTime.Start),
		encodeTimePtr(stored.ValidTime.End),
		encodeTime(stored.TransactionTime),
		encodeStringMap(stored.Properties),
		stored.MentionCount,
	)
	if err != nil {
		return opError("store_entity", err)
	}
	return nil
}

func (b *SQLiteBackend) GetEntity(ctx context.Context, id types.EntityID) (entity *types.Entity, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("get_entity", &err, b.logger)

	row := b.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM graph_entities WHERE id = ?`, string(id))
	entity, err = b.scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, opError("get_entity", err)
	}
	return entity, nil
}

func (b *SQLiteBackend) QueryEntities(ctx context.Context, q types.EntityQuery) (entities []*types.Entity, err error) {
	q = q.WithDefaults()

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT ` + entityColumns + ` FROM graph_entities WHERE 1=1`)
	if q.Type != nil {
		qb.WriteString(` AND entity_type = ?`)
		args = append(args, string(*q.Type))
	}
	if q.NameContains != "" {
		pattern := "%" + escapeLike(strings.ToLower(q.NameContains)) + "%"
		qb.WriteString(` AND (LOWER(name) LIKE ? ESCAPE '\'
			OR EXISTS (SELECT 1 FROM json_each(aliases) WHERE LOWER(json_each.value) LIKE ? ESCAPE '\'))`)
		args = append(args, pattern, pattern)
	}
	if q.Domain != nil {
		args = appendDomainFilter(&qb, args, *q.Domain)
	}
	if q.MinConfidence != nil {
		qb.WriteString(` AND confidence >= ?`)
		args = append(args, *q.MinConfidence)
	}
	if q.At != nil {
		args = appendVisibilityFilter(&qb, args, *q.At)
	}
	qb.WriteString(` ORDER BY mention_count DESC, confidence DESC, name ASC, id ASC LIMIT ? OFFSET ?`)
	args = append(args, q.Limit, q.Offset)

	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("query_entities", &err, b.logger)

	rows, err := b.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, opError("query_entities", err)
	}
	defer rows.Close()
	return b.collectEntities(rows, "query_entities")
}

func (b *SQLiteBackend) DeleteEntity(ctx context.Context, id types.EntityID) (deleted bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("delete_entity", &err, b.logger)

	// Relationship and mention rows go with the entity via ON DELETE
	// CASCADE.
	res, err := b.db.ExecContext(ctx, `DELETE FROM graph_entities WHERE id = ?`, string(id))
	if err != nil {
		return false, opError("delete_entity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, opError("delete_entity", err)
	}
	return n > 0, nil
}

func (b *SQLiteBackend) MergeEntities(ctx context.Context, ids []types.EntityID, canonicalName string) (merged *types.Entity, err error) {
	if len(ids) == 0 {
		return nil, opError("merge_entities", types.ErrEmptyEntityIDs)
	}
	if canonicalName == "" {
		return nil, opError("merge_entities", types.ErrEmptyName)
	}
	canonicalID := ids[0]

	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("merge_entities", &err, b.logger)

	row := b.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM graph_entities WHERE id = ?`, string(canonicalID))
	canonical, err := b.scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, opErrorf("merge_entities", "canonical entity %s not found", canonicalID)
	}
	if err != nil {
		return nil, opError("merge_entities", err)
	}

	aliasUnion := make([]string, 0, len(ids)*2)
	aliasUnion = append(aliasUnion, canonical.Name)
	aliasUnion = append(aliasUnion, canonical.Aliases...)

	others := make([]types.EntityID, 0, len(ids)-1)
	for _, id := range ids[1:] {
		if id != canonicalID {
			others = append(others, id)
		}
	}

	if len(others) > 0 {
		placeholders := idPlaceholders(len(others))
		rows, qerr := b.db.QueryContext(ctx,
			`SELECT id, name, aliases FROM graph_entities WHERE id IN (`+placeholders+`)`,
			idArgs(others)...)
		if qerr != nil {
			return nil, opError("merge_entities", qerr)
		}
		type mergeSource struct {
			name    string
			aliases []string
		}
		sources := make(map[types.EntityID]mergeSource, len(others))
		for rows.Next() {
			var id, name, aliasesJSON string
			if serr := rows.Scan(&id, &name, &aliasesJSON); serr != nil {
				rows.Close()
				return nil, opError("merge_entities", serr)
			}
			sources[types.EntityID(id)] = mergeSource{
				name:    name,
				aliases: b.decodeStrings(aliasesJSON, "entity", id),
			}
		}
		rows.Close()
		if rerr := rows.Err(); rerr != nil {
			return nil, opError("merge_entities", rerr)
		}

		// Union in argument order so the merged alias list comes out the
		// same regardless of row order. Ids that do not resolve are
		// skipped.
		found := make([]types.EntityID, 0, len(others))
		for _, id := range others {
			src, ok := sources[id]
			if !ok {
				b.logger.Warn("merge skipping unknown entity", "id", id)
				continue
			}
			found = append(found, id)
			aliasUnion = append(aliasUnion, src.name)
			aliasUnion = append(aliasUnion, src.aliases...)
		}

		if len(found) > 0 {
			foundPlaceholders := idPlaceholders(len(found))
			foundArgs := idArgs(found)

			// Repoint both endpoints in one statement. A repointed edge
			// that collides with one the canonical entity already has is
			// left in place and swept up by the cascade below.
			repoint := `UPDATE OR IGNORE graph_relationships SET
	from_entity_id = CASE WHEN from_entity_id IN (` + foundPlaceholders + `) THEN ? ELSE from_entity_id END,
	to_entity_id   = CASE WHEN to_entity_id IN (` + foundPlaceholders + `) THEN ? ELSE to_entity_id END
WHERE from_entity_id IN (` + foundPlaceholders + `) OR to_entity_id IN (` + foundPlaceholders + `)`
			repointArgs := make([]any, 0, len(found)*4+2)
			repointArgs = append(repointArgs, foundArgs...)
			repointArgs = append(repointArgs, string(canonicalID))
			repointArgs = append(repointArgs, foundArgs...)
			repointArgs = append(repointArgs, string(canonicalID))
			repointArgs = append(repointArgs, foundArgs...)
			repointArgs = append(repointArgs, foundArgs...)
			if _, uerr := b.db.ExecContext(ctx, repoint, repointArgs...); uerr != nil {
				return nil, opError("merge_entities", uerr)
			}

			mentionRepoint := `UPDATE OR IGNORE graph_entity_mentions SET entity_id = ?
WHERE entity_id IN (` + foundPlaceholders + `)`
			mentionArgs := append([]any{string(canonicalID)}, foundArgs...)
			if _, uerr := b.db.ExecContext(ctx, mentionRepoint, mentionArgs...); uerr != nil {
				return nil, opError("merge_entities", uerr)
			}

			if _, derr := b.db.ExecContext(ctx,
				`DELETE FROM graph_entities WHERE id IN (`+foundPlaceholders+`)`,
				foundArgs...); derr != nil {
				return nil, opError("merge_entities", derr)
			}
		}
	}

	canonical.Name = canonicalName
	canonical.Aliases = aliasUnion
	canonical.Normalize()
	if _, uerr := b.db.ExecContext(ctx,
		`UPDATE graph_entities SET name = ?, aliases = ? WHERE id = ?`,
		canonical.Name, encodeStrings(canonical.Aliases), string(canonicalID)); uerr != nil {
		return nil, opError("merge_entities", uerr)
	}

	// Repointing may have folded several mentions of the same memory into
	// one; recount rather than arithmetic.
	if _, uerr := b.db.ExecContext(ctx,
		`UPDATE graph_entities SET mention_count =
			(SELECT COUNT(*) FROM graph_entity_mentions WHERE entity_id = ?)
		WHERE id = ?`,
		string(canonicalID), string(canonicalID)); uerr != nil {
		return nil, opError("merge_entities", uerr)
	}

	row = b.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM graph_entities WHERE id = ?`, string(canonicalID))
	merged, err = b.scanEntity(row)
	if err != nil {
		return nil, opError("merge_entities", err)
	}
	return merged, nil
}

func (b *SQLiteBackend) FindEntitiesByName(ctx context.Context, name string, entityType *types.EntityType, domain *types.Domain, limit int) (entities []*types.Entity, err error) {
	if limit <= 0 {
		limit = types.DefaultQueryLimit
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT ` + entityColumns + ` FROM graph_entities
WHERE (LOWER(name) = LOWER(?)
	OR EXISTS (SELECT 1 FROM json_each(aliases) WHERE LOWER(json_each.value) = LOWER(?)))`)
	args = append(args, name, name)
	if entityType != nil {
		qb.WriteString(` AND entity_type = ?`)
		args = append(args, string(*entityType))
	}
	if domain != nil {
		args = appendDomainFilter(&qb, args, *domain)
	}
	qb.WriteString(` ORDER BY mention_count DESC, confidence DESC, name ASC, id ASC LIMIT ?`)
	args = append(args, limit)

	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("find_entities_by_name", &err, b.logger)

	rows, err := b.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, opError("find_entities_by_name", err)
	}
	defer rows.Close()
	return b.collectEntities(rows, "find_entities_by_name")
}

func (b *SQLiteBackend) StoreRelationship(ctx context.Context, rel *types.Relationship) (err error) {
	if rel == nil {
		return opErrorf("store_relationship", "relationship is nil")
	}
	if verr := rel.Validate(); verr != nil {
		return opError("store_relationship", verr)
	}
	stored := rel.Clone()
	stored.Normalize()

	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("store_relationship", &err, b.logger)

	// Checked up front so a missing endpoint reports which side is absent
	// instead of a bare constraint violation.
	if eerr := b.requireEntity(ctx, "store_relationship", "from entity", stored.From); eerr != nil {
		return eerr
	}
	if eerr := b.requireEntity(ctx, "store_relationship", "to entity", stored.To); eerr != nil {
		return eerr
	}

	const q = `INSERT INTO graph_relationships (` + relationshipColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(from_entity_id, to_entity_id, relationship_type) DO UPDATE SET
	confidence = excluded.confidence,
	valid_time_start = excluded.valid_time_start,
	valid_time_end = excluded.valid_time_end,
	transaction_time = excluded.transaction_time,
	properties = excluded.properties`

	_, err = b.db.ExecContext(ctx, q,
		string(stored.From),
		string(stored.To),
		string(stored.Type),
		stored.Confidence,
		encodeTimePtr(stored.ValidTime.Start),
		encodeTimePtr(stored.ValidTime.End),
		encodeTime(stored.TransactionTime),
		encodeStringMap(stored.Properties),
	)
	if err != nil {
		return opError("store_relationship", err)
	}
	return nil
}

func (b *SQLiteBackend) QueryRelationships(ctx context.Context, q types.RelationshipQuery) (rels []*types.Relationship, err error) {
	q = q.WithDefaults()

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT ` + relationshipColumns + ` FROM graph_relationships WHERE 1=1`)
	args = appendRelationshipFilter(&qb, args, q)
	qb.WriteString(` ORDER BY confidence DESC, from_entity_id ASC, to_entity_id ASC, relationship_type ASC LIMIT ? OFFSET ?`)
	args = append(args, q.Limit, q.Offset)

	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("query_relationships", &err, b.logger)

	rows, err := b.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, opError("query_relationships", err)
	}
	defer rows.Close()
	return b.collectRelationships(rows, "query_relationships")
}

func (b *SQLiteBackend) DeleteRelationships(ctx context.Context, q types.RelationshipQuery) (deleted int, err error) {
	// Refuse a filter with no conditions so a zero-value query can never
	// wipe the table.
	if q.Empty() {
		return 0, nil
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`DELETE FROM graph_relationships WHERE 1=1`)
	args = appendRelationshipFilter(&qb, args, q)

	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("delete_relationships", &err, b.logger)

	res, err := b.db.ExecContext(ctx, qb.String(), args...)
	if err != nil {
		return 0, opError("delete_relationships", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, opError("delete_relationships", err)
	}
	return int(n), nil
}

func (b *SQLiteBackend) GetRelationshipTypes(ctx context.Context, from, to types.EntityID) (out []types.RelationshipType, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("get_relationship_types", &err, b.logger)

	rows, err := b.db.QueryContext(ctx,
		`SELECT DISTINCT relationship_type FROM graph_relationships
		WHERE from_entity_id = ? AND to_entity_id = ?
		ORDER BY relationship_type ASC`,
		string(from), string(to))
	if err != nil {
		return nil, opError("get_relationship_types", err)
	}
	defer rows.Close()

	out = make([]types.RelationshipType, 0)
	for rows.Next() {
		var raw string
		if serr := rows.Scan(&raw); serr != nil {
			return nil, opError("get_relationship_types", serr)
		}
		out = append(out, types.ParseRelationshipType(raw))
	}
	if rerr := rows.Err(); rerr != nil {
		return nil, opError("get_relationship_types", rerr)
	}
	return out, nil
}

func (b *SQLiteBackend) StoreMention(ctx context.Context, mention *types.EntityMention) (err error) {
	if mention == nil {
		return opErrorf("store_mention", "mention is nil")
	}
	if verr := mention.Validate(); verr != nil {
		return opError("store_mention", verr)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("store_mention", &err, b.logger)

	if eerr := b.requireEntity(ctx, "store_mention", "entity", mention.EntityID); eerr != nil {
		return eerr
	}

	// Insert-then-update so the derived counter moves only when the
	// (entity, memory) pair is new.
	res, err := b.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO graph_entity_mentions (`+mentionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(mention.EntityID),
		mention.MemoryID,
		mention.Confidence,
		encodeIntPtr(mention.StartOffset),
		encodeIntPtr(mention.EndOffset),
		mention.MatchedText,
		encodeTime(mention.TransactionTime),
	)
	if err != nil {
		return opError("store_mention", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return opError("store_mention", err)
	}

	if inserted > 0 {
		_, err = b.db.ExecContext(ctx,
			`UPDATE graph_entities SET mention_count = mention_count + 1 WHERE id = ?`,
			string(mention.EntityID))
		if err != nil {
			return opError("store_mention", err)
		}
		return nil
	}

	_, err = b.db.ExecContext(ctx,
		`UPDATE graph_entity_mentions SET
			confidence = ?, start_offset = ?, end_offset = ?, matched_text = ?, transaction_time = ?
		WHERE entity_id = ? AND memory_id = ?`,
		mention.Confidence,
		encodeIntPtr(mention.StartOffset),
		encodeIntPtr(mention.EndOffset),
		mention.MatchedText,
		encodeTime(mention.TransactionTime),
		string(mention.EntityID),
		mention.MemoryID,
	)
	if err != nil {
		return opError("store_mention", err)
	}
	return nil
}

func (b *SQLiteBackend) GetMentionsForEntity(ctx context.Context, id types.EntityID) (out []*types.EntityMention, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("get_mentions_for_entity", &err, b.logger)

	rows, err := b.db.QueryContext(ctx,
		`SELECT `+mentionColumns+` FROM graph_entity_mentions
		WHERE entity_id = ? ORDER BY memory_id ASC`,
		string(id))
	if err != nil {
		return nil, opError("get_mentions_for_entity", err)
	}
	defer rows.Close()

	out = make([]*types.EntityMention, 0)
	for rows.Next() {
		mention, serr := scanMention(rows)
		if serr != nil {
			return nil, opError("get_mentions_for_entity", serr)
		}
		out = append(out, mention)
	}
	if rerr := rows.Err(); rerr != nil {
		return nil, opError("get_mentions_for_entity", rerr)
	}
	return out, nil
}

func (b *SQLiteBackend) GetEntitiesInMemory(ctx context.Context, memoryID string) (entities []*types.Entity, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("get_entities_in_memory", &err, b.logger)

	rows, err := b.db.QueryContext(ctx,
		`SELECT `+prefixedEntityColumns("e")+`
		FROM graph_entities e
		JOIN graph_entity_mentions m ON m.entity_id = e.id
		WHERE m.memory_id = ?
		ORDER BY m.confidence DESC, e.id ASC`,
		memoryID)
	if err != nil {
		return nil, opError("get_entities_in_memory", err)
	}
	defer rows.Close()
	return b.collectEntities(rows, "get_entities_in_memory")
}

func (b *SQLiteBackend) DeleteMentionsForEntity(ctx context.Context, id types.EntityID) (deleted int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("delete_mentions_for_entity", &err, b.logger)

	res, err := b.db.ExecContext(ctx,
		`DELETE FROM graph_entity_mentions WHERE entity_id = ?`, string(id))
	if err != nil {
		return 0, opError("delete_mentions_for_entity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, opError("delete_mentions_for_entity", err)
	}
	if _, uerr := b.db.ExecContext(ctx,
		`UPDATE graph_entities SET mention_count = 0 WHERE id = ?`, string(id)); uerr != nil {
		return 0, opError("delete_mentions_for_entity", uerr)
	}
	return int(n), nil
}

func (b *SQLiteBackend) DeleteMentionsForMemory(ctx context.Context, memoryID string) (deleted int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("delete_mentions_for_memory", &err, b.logger)

	// Decrement before deleting; one row per (entity, memory) pair means
	// each affected entity loses exactly one.
	if _, uerr := b.db.ExecContext(ctx,
		`UPDATE graph_entities SET mention_count = MAX(mention_count - 1, 0)
		WHERE id IN (SELECT entity_id FROM graph_entity_mentions WHERE memory_id = ?)`,
		memoryID); uerr != nil {
		return 0, opError("delete_mentions_for_memory", uerr)
	}

	res, err := b.db.ExecContext(ctx,
		`DELETE FROM graph_entity_mentions WHERE memory_id = ?`, memoryID)
	if err != nil {
		return 0, opError("delete_mentions_for_memory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, opError("delete_mentions_for_memory", err)
	}
	return int(n), nil
}

func (b *SQLiteBackend) Traverse(ctx context.Context, opts types.TraversalOptions) (result *types.TraversalResult, err error) {
	if verr := opts.Validate(); verr != nil {
		return nil, opError("traverse", verr)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("traverse", &err, b.logger)

	exists, err := b.entityExists(ctx, opts.StartID)
	if err != nil {
		return nil, opError("traverse", err)
	}
	if !exists {
		return &types.TraversalResult{
			Entities:      []*types.Entity{},
			Relationships: []*types.Relationship{},
		}, nil
	}

	// Iterative frontier expansion: one SELECT per depth level over the
	// current frontier's outgoing edges.
	visited := map[types.EntityID]bool{opts.StartID: true}
	order := []types.EntityID{opts.StartID}
	frontier := []types.EntityID{opts.StartID}
	seenEdges := make(map[types.RelationshipKey]bool)
	edges := make([]*types.Relationship, 0)

	for depth := 0; depth < opts.MaxDepth && len(frontier) > 0; depth++ {
		levelEdges, qerr := b.outgoingEdges(ctx, frontier, opts)
		if qerr != nil {
			return nil, opError("traverse", qerr)
		}
		next := make([]types.EntityID, 0)
		for _, rel := range levelEdges {
			if !seenEdges[rel.Key()] {
				seenEdges[rel.Key()] = true
				edges = append(edges, rel)
			}
			if !visited[rel.To] {
				visited[rel.To] = true
				order = append(order, rel.To)
				next = append(next, rel.To)
			}
		}
		frontier = next
	}

	entities, err := b.entitiesByID(ctx, order)
	if err != nil {
		return nil, opError("traverse", err)
	}
	return &types.TraversalResult{
		Entities:      entities,
		Relationships: edges,
		TotalCount:    len(entities),
	}, nil
}

func (b *SQLiteBackend) FindPath(ctx context.Context, from, to types.EntityID, maxDepth int) (path *types.Path, err error) {
	if from == "" || to == "" {
		return nil, opError("find_path", types.ErrEmptyID)
	}
	if maxDepth < 0 {
		return nil, opError("find_path", types.ErrNegativeDepth)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("find_path", &err, b.logger)

	fromExists, err := b.entityExists(ctx, from)
	if err != nil {
		return nil, opError("find_path", err)
	}
	toExists, err := b.entityExists(ctx, to)
	if err != nil {
		return nil, opError("find_path", err)
	}
	if !fromExists || !toExists {
		return nil, nil
	}
	if from == to {
		entities, eerr := b.entitiesByID(ctx, []types.EntityID{from})
		if eerr != nil {
			return nil, opError("find_path", eerr)
		}
		return &types.Path{Entities: entities, Relationships: []*types.Relationship{}}, nil
	}

	visited := map[types.EntityID]bool{from: true}
	parents := map[types.EntityID]pathStep{}
	frontier := []types.EntityID{from}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		levelEdges, qerr := b.outgoingEdges(ctx, frontier, types.TraversalOptions{})
		if qerr != nil {
			return nil, opError("find_path", qerr)
		}
		next := make([]types.EntityID, 0)
		for _, rel := range levelEdges {
			if visited[rel.To] {
				continue
			}
			visited[rel.To] = true
			parents[rel.To] = pathStep{parent: rel.From, via: rel}
			if rel.To == to {
				return b.buildPath(ctx, from, to, parents)
			}
			next = append(next, rel.To)
		}
		frontier = next
	}
	return nil, nil
}

func (b *SQLiteBackend) buildPath(ctx context.Context, from, to types.EntityID, parents map[types.EntityID]pathStep) (*types.Path, error) {
	ids := []types.EntityID{to}
	rels := []*types.Relationship{}
	for cursor := to; cursor != from; {
		p := parents[cursor]
		rels = append(rels, p.via)
		ids = append(ids, p.parent)
		cursor = p.parent
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	for i, j := 0, len(rels)-1; i < j; i, j = i+1, j-1 {
		rels[i], rels[j] = rels[j], rels[i]
	}
	entities, err := b.entitiesByID(ctx, ids)
	if err != nil {
		return nil, opError("find_path", err)
	}
	return &types.Path{Entities: entities, Relationships: rels}, nil
}

// outgoingEdges fetches the frontier's outgoing edges in one batched query,
// applying the traversal's type and confidence filters.
func (b *SQLiteBackend) outgoingEdges(ctx context.Context, frontier []types.EntityID, opts types.TraversalOptions) ([]*types.Relationship, error) {
	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT ` + relationshipColumns + ` FROM graph_relationships
WHERE from_entity_id IN (` + idPlaceholders(len(frontier)) + `)`)
	args = append(args, idArgs(frontier)...)
	if len(opts.RelationshipTypes) > 0 {
		qb.WriteString(` AND relationship_type IN (` + idPlaceholders(len(opts.RelationshipTypes)) + `)`)
		for _, t := range opts.RelationshipTypes {
			args = append(args, string(t))
		}
	}
	if opts.MinConfidence != nil {
		qb.WriteString(` AND confidence >= ?`)
		args = append(args, *opts.MinConfidence)
	}
	qb.WriteString(` ORDER BY from_entity_id ASC, to_entity_id ASC, relationship_type ASC`)

	rows, err := b.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*types.Relationship, 0)
	for rows.Next() {
		rel, serr := b.scanRelationship(rows)
		if serr != nil {
			return nil, serr
		}
		out = append(out, rel)
	}
	if rerr := rows.Err(); rerr != nil {
		return nil, rerr
	}
	return out, nil
}

// entitiesByID fetches entities and returns them in the order of ids.
func (b *SQLiteBackend) entitiesByID(ctx context.Context, ids []types.EntityID) ([]*types.Entity, error) {
	if len(ids) == 0 {
		return []*types.Entity{}, nil
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM graph_entities WHERE id IN (`+idPlaceholders(len(ids))+`)`,
		idArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[types.EntityID]*types.Entity, len(ids))
	for rows.Next() {
		e, serr := b.scanEntity(rows)
		if serr != nil {
			return nil, serr
		}
		byID[e.ID] = e
	}
	if rerr := rows.Err(); rerr != nil {
		return nil, rerr
	}

	out := make([]*types.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (b *SQLiteBackend) QueryEntitiesAt(ctx context.Context, q types.EntityQuery, at types.BitemporalPoint) ([]*types.Entity, error) {
	q.At = &at
	return b.QueryEntities(ctx, q)
}

func (b *SQLiteBackend) QueryRelationshipsAt(ctx context.Context, q types.RelationshipQuery, at types.BitemporalPoint) ([]*types.Relationship, error) {
	q.At = &at
	return b.QueryRelationships(ctx, q)
}

func (b *SQLiteBackend) CloseEntityValidTime(ctx context.Context, id types.EntityID, end time.Time) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("close_entity_valid_time", &err, b.logger)

	res, err := b.db.ExecContext(ctx,
		`UPDATE graph_entities SET valid_time_end = ? WHERE id = ?`,
		encodeTime(end), string(id))
	if err != nil {
		return opError("close_entity_valid_time", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return opError("close_entity_valid_time", err)
	}
	if n == 0 {
		return opErrorf("close_entity_valid_time", "entity %s not found", id)
	}
	return nil
}

func (b *SQLiteBackend) CloseRelationshipValidTime(ctx context.Context, from, to types.EntityID, relType types.RelationshipType, end time.Time) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("close_relationship_valid_time", &err, b.logger)

	res, err := b.db.ExecContext(ctx,
		`UPDATE graph_relationships SET valid_time_end = ?
		WHERE from_entity_id = ? AND to_entity_id = ? AND relationship_type = ?`,
		encodeTime(end), string(from), string(to), string(relType))
	if err != nil {
		return opError("close_relationship_valid_time", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return opError("close_relationship_valid_time", err)
	}
	if n == 0 {
		return opErrorf("close_relationship_valid_time", "relationship %s-[%s]->%s not found", from, relType, to)
	}
	return nil
}

func (b *SQLiteBackend) Stats(ctx context.Context) (stats *types.GraphStats, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("get_stats", &err, b.logger)

	stats = &types.GraphStats{
		EntitiesByType:      make(map[types.EntityType]int64),
		RelationshipsByType: make(map[types.RelationshipType]int64),
	}

	if err = b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM graph_entities`).Scan(&stats.EntityCount); err != nil {
		return nil, opError("get_stats", err)
	}
	if err = b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM graph_relationships`).Scan(&stats.RelationshipCount); err != nil {
		return nil, opError("get_stats", err)
	}
	if err = b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM graph_entity_mentions`).Scan(&stats.MentionCount); err != nil {
		return nil, opError("get_stats", err)
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT entity_type, COUNT(*) FROM graph_entities GROUP BY entity_type`)
	if err != nil {
		return nil, opError("get_stats", err)
	}
	for rows.Next() {
		var raw string
		var count int64
		if serr := rows.Scan(&raw, &count); serr != nil {
			rows.Close()
			return nil, opError("get_stats", serr)
		}
		stats.EntitiesByType[types.ParseEntityType(raw)] += count
	}
	rows.Close()
	if rerr := rows.Err(); rerr != nil {
		return nil, opError("get_stats", rerr)
	}

	rows, err = b.db.QueryContext(ctx,
		`SELECT relationship_type, COUNT(*) FROM graph_relationships GROUP BY relationship_type`)
	if err != nil {
		return nil, opError("get_stats", err)
	}
	for rows.Next() {
		var raw string
		var count int64
		if serr := rows.Scan(&raw, &count); serr != nil {
			rows.Close()
			return nil, opError("get_stats", serr)
		}
		stats.RelationshipsByType[types.ParseRelationshipType(raw)] += count
	}
	rows.Close()
	if rerr := rows.Err(); rerr != nil {
		return nil, opError("get_stats", rerr)
	}

	if stats.EntityCount > 0 {
		stats.AvgRelationshipsPerEntity = float64(stats.RelationshipCount) / float64(stats.EntityCount)
	}
	return stats, nil
}

func (b *SQLiteBackend) Clear(ctx context.Context) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	defer recoverOp("clear", &err, b.logger)

	for _, table := range []string{"graph_entity_mentions", "graph_relationships", "graph_entities"} {
		if _, derr := b.db.ExecContext(ctx, `DELETE FROM `+table); derr != nil {
			return opError("clear", derr)
		}
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.Close()
}

func (b *SQLiteBackend) entityExists(ctx context.Context, id types.EntityID) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx,
		`SELECT 1 FROM graph_entities WHERE id = ?`, string(id)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *SQLiteBackend) requireEntity(ctx context.Context, op, role string, id types.EntityID) error {
	exists, err := b.entityExists(ctx, id)
	if err != nil {
		return opError(op, err)
	}
	if !exists {
		return opErrorf(op, "%s %s not found", role, id)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (b *SQLiteBackend) scanEntity(s scanner) (*types.Entity, error) {
	var (
		id, entityType, name, aliasesJSON    string
		domainOrg, domainProject, domainRepo string
		confidence                           float64
		validStart, validEnd                 sql.NullInt64
		transactionTime                      int64
		propertiesJSON                       string
		mentionCount                         int
	)
	if err := s.Scan(&id, &entityType, &name, &aliasesJSON,
		&domainOrg, &domainProject, &domainRepo,
		&confidence, &validStart, &validEnd, &transactionTime,
		&propertiesJSON, &mentionCount); err != nil {
		return nil, err
	}
	return &types.Entity{
		ID:      types.EntityID(id),
		Type:    types.ParseEntityType(entityType),
		Name:    name,
		Aliases: b.decodeStrings(aliasesJSON, "entity", id),
		Domain: types.Domain{
			Organization: domainOrg,
			Project:      domainProject,
			Repository:   domainRepo,
		},
		Confidence: confidence,
		ValidTime: types.ValidTimeRange{
			Start: decodeTimePtr(validStart),
			End:   decodeTimePtr(validEnd),
		},
		TransactionTime: decodeTime(transactionTime),
		Properties:      b.decodeStringMap(propertiesJSON, "entity", id),
		MentionCount:    mentionCount,
	}, nil
}

func (b *SQLiteBackend) scanRelationship(s scanner) (*types.Relationship, error) {
	var (
		from, to, relType    string
		confidence           float64
		validStart, validEnd sql.NullInt64
		transactionTime      int64
		propertiesJSON       string
	)
	if err := s.Scan(&from, &to, &relType, &confidence,
		&validStart, &validEnd, &transactionTime, &propertiesJSON); err != nil {
		return nil, err
	}
	return &types.Relationship{
		From:       types.EntityID(from),
		To:         types.EntityID(to),
		Type:       types.ParseRelationshipType(relType),
		Confidence: confidence,
		ValidTime: types.ValidTimeRange{
			Start: decodeTimePtr(validStart),
			End:   decodeTimePtr(validEnd),
		},
		TransactionTime: decodeTime(transactionTime),
		Properties:      b.decodeStringMap(propertiesJSON, "relationship", from+"->"+to),
	}, nil
}

func scanMention(s scanner) (*types.EntityMention, error) {
	var (
		entityID, memoryID string
		confidence         float64
		startOff, endOff   sql.NullInt64
		matchedText        string
		transactionTime    int64
	)
	if err := s.Scan(&entityID, &memoryID, &confidence,
		&startOff, &endOff, &matchedText, &transactionTime); err != nil {
		return nil, err
	}
	return &types.EntityMention{
		EntityID:        types.EntityID(entityID),
		MemoryID:        memoryID,
		Confidence:      confidence,
		StartOffset:     decodeIntPtr(startOff),
		EndOffset:       decodeIntPtr(endOff),
		MatchedText:     matchedText,
		TransactionTime: decodeTime(transactionTime),
	}, nil
}

func (b *SQLiteBackend) collectEntities(rows *sql.Rows, op string) ([]*types.Entity, error) {
	out := make([]*types.Entity, 0)
	for rows.Next() {
		e, err := b.scanEntity(rows)
		if err != nil {
			return nil, opError(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, opError(op, err)
	}
	return out, nil
}

func (b *SQLiteBackend) collectRelationships(rows *sql.Rows, op string) ([]*types.Relationship, error) {
	out := make([]*types.Relationship, 0)
	for rows.Next() {
		rel, err := b.scanRelationship(rows)
		if err != nil {
			return nil, opError(op, err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, opError(op, err)
	}
	return out, nil
}

// decodeStrings unmarshals a stored JSON string array. Corrupt JSON is
// logged and read as empty rather than failing the row.
func (b *SQLiteBackend) decodeStrings(raw, kind, key string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		b.logger.Warn("corrupt stored JSON array, reading as empty",
			"kind", kind, "key", key, "error", err)
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (b *SQLiteBackend) decodeStringMap(raw, kind, key string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		b.logger.Warn("corrupt stored JSON object, reading as empty",
			"kind", kind, "key", key, "error", err)
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func encodeStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func encodeStringMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Timestamps are stored as UTC unix nanoseconds.
func encodeTime(t time.Time) int64 {
	return t.UnixNano()
}

func decodeTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func encodeTimePtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func decodeTimePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func encodeIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func decodeIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// prefixedEntityColumns qualifies the entity column list with a table
// alias for joined selects.
func prefixedEntityColumns(alias string) string {
	cols := strings.Split(entityColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func idPlaceholders(n int) string {
	if n == 0 {
		return ""
	}
	p := strings.Repeat("?,", n)
	return p[:len(p)-1]
}

func idArgs[T ~string](ids []T) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

// escapeLike quotes LIKE wildcards so a pattern built from user input
// matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

func appendDomainFilter(qb *strings.Builder, args []any, d types.Domain) []any {
	if d.Organization != "" {
		qb.WriteString(` AND domain_org = ?`)
		args = append(args, d.Organization)
	}
	if d.Project != "" {
		qb.WriteString(` AND domain_project = ?`)
		args = append(args, d.Project)
	}
	if d.Repository != "" {
		qb.WriteString(` AND domain_repo = ?`)
		args = append(args, d.Repository)
	}
	return args
}

// appendVisibilityFilter encodes the bitemporal predicate: valid time must
// contain ValidAt (start inclusive, end exclusive) and the record must have
// been written by AsOf.
func appendVisibilityFilter(qb *strings.Builder, args []any, at types.BitemporalPoint) []any {
	qb.WriteString(` AND (valid_time_start IS NULL OR valid_time_start <= ?)
		AND (valid_time_end IS NULL OR valid_time_end > ?)
		AND transaction_time <= ?`)
	validAt := encodeTime(at.ValidAt)
	args = append(args, validAt, validAt, encodeTime(at.AsOf))
	return args
}

func appendRelationshipFilter(qb *strings.Builder, args []any, q types.RelationshipQuery) []any {
	if q.From != nil {
		qb.WriteString(` AND from_entity_id = ?`)
		args = append(args, string(*q.From))
	}
	if q.To != nil {
		qb.WriteString(` AND to_entity_id = ?`)
		args = append(args, string(*q.To))
	}
	if q.Type != nil {
		qb.WriteString(` AND relationship_type = ?`)
		args = append(args, string(*q.Type))
	}
	if q.MinConfidence != nil {
		qb.WriteString(` AND confidence >= ?`)
		args = append(args, *q.MinConfidence)
	}
	if q.At != nil {
		args = appendVisibilityFilter(qb, args, *q.At)
	}
	return args
}
