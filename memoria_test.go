package memoria

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/memoria/pkg/checkpoint"
	"github.com/soundprediction/memoria/pkg/driver"
	"github.com/soundprediction/memoria/pkg/extraction"
	"github.com/soundprediction/memoria/pkg/types"
)

// Two linked source texts used across the facade tests. The first yields
// Jane Smith (Person) and Acme Corp (Organization) with a co-occurrence
// edge, the second links Acme Corp to PostgreSQL (Technology).
const (
	memoryOne     = "meeting-1"
	memoryOneText = "Jane Smith works at Acme Corp."
	memoryTwo     = "meeting-2"
	memoryTwoText = "Acme Corp uses PostgreSQL."
)

func newTestClient(t *testing.T, cfg *Config) *Client {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := driver.NewMemoryBackend(logger)
	extractor, err := extraction.NewPatternExtractor(nil, logger)
	require.NoError(t, err)

	client, err := NewClient(backend, extractor, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})

	return client
}

func newTestCheckpoints(t *testing.T) *checkpoint.Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := checkpoint.NewStore(t.TempDir(), logger)
	require.NoError(t, err)

	return store
}

func findByName(t *testing.T, client *Client, name string) *types.Entity {
	t.Helper()

	found, err := client.GetBackend().FindEntitiesByName(context.Background(), name, nil, nil, 1)
	require.NoError(t, err)
	require.Len(t, found, 1, "entity %q not found", name)

	return found[0]
}

func TestNewClientValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := driver.NewMemoryBackend(logger)
	extractor, err := extraction.NewPatternExtractor(nil, logger)
	require.NoError(t, err)

	_, err = NewClient(nil, extractor, nil, logger)
	require.Error(t, err)

	_, err = NewClient(backend, nil, nil, logger)
	require.Error(t, err)

	client, err := NewClient(backend, extractor, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultRecallDepth, client.config.RecallDepth)
	assert.Equal(t, defaultRecallLimit, client.config.RecallLimit)
	assert.Nil(t, client.GetCheckpoints())
}

func TestCaptureCreatesGraph(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, nil)

	result, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)

	assert.Equal(t, memoryOne, result.MemoryID)
	assert.Equal(t, 2, result.EntitiesCreated)
	assert.Equal(t, 0, result.EntitiesUpdated)
	assert.Equal(t, 1, result.Relationships)
	assert.Equal(t, 2, result.Mentions)
	assert.True(t, result.Degraded)
	assert.False(t, result.Skipped)

	jane := findByName(t, client, "Jane Smith")
	assert.Equal(t, types.EntityTypePerson, jane.Type)
	assert.Equal(t, 1, jane.MentionCount)

	acme := findByName(t, client, "Acme Corp")
	assert.Equal(t, types.EntityTypeOrganization, acme.Type)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.EntityCount)
	assert.Equal(t, int64(1), stats.RelationshipCount)
	assert.Equal(t, int64(2), stats.MentionCount)
}

func TestCaptureLinksExistingEntities(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, nil)

	_, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)

	result, err := client.Capture(ctx, memoryTwo, memoryTwoText, types.Domain{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.EntitiesCreated, "only PostgreSQL is new")
	assert.Equal(t, 1, result.EntitiesUpdated, "Acme Corp resolves to the existing entity")
	assert.Equal(t, 1, result.Relationships)
	assert.Equal(t, 2, result.Mentions)

	acme := findByName(t, client, "Acme Corp")
	assert.Equal(t, 2, acme.MentionCount)

	mentioned, err := client.GetBackend().GetEntitiesInMemory(ctx, memoryTwo)
	require.NoError(t, err)
	names := make([]string, 0, len(mentioned))
	for _, e := range mentioned {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"Acme Corp", "PostgreSQL"}, names)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.EntityCount)
	assert.Equal(t, int64(2), stats.RelationshipCount)
	assert.Equal(t, int64(4), stats.MentionCount)
}

func TestCaptureRejectsEmptyMemoryID(t *testing.T) {
	client := newTestClient(t, nil)

	_, err := client.Capture(context.Background(), "", "some text", types.Domain{})
	assert.ErrorIs(t, err, types.ErrEmptyMemoryID)
}

func TestCaptureDomainScoping(t *testing.T) {
	ctx := context.Background()
	domainA := types.Domain{Organization: "alpha"}
	domainB := types.Domain{Organization: "beta"}
	client := newTestClient(t, &Config{DefaultDomain: domainA})

	// The zero domain resolves to the configured default.
	first, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.EntitiesCreated)

	inA, err := client.GetBackend().FindEntitiesByName(ctx, "Acme Corp", nil, &domainA, 10)
	require.NoError(t, err)
	require.Len(t, inA, 1)
	assert.Equal(t, domainA, inA[0].Domain)

	// The same names in another domain create separate entities.
	second, err := client.Capture(ctx, "meeting-b", memoryOneText, domainB)
	require.NoError(t, err)
	assert.Equal(t, 2, second.EntitiesCreated)
	assert.Equal(t, 0, second.EntitiesUpdated)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.EntityCount)

	recalled, err := client.Recall(ctx, "acme", domainB, 0, 10)
	require.NoError(t, err)
	require.Len(t, recalled.Entities, 1)
	assert.Equal(t, domainB, recalled.Entities[0].Domain)
}

func TestCaptureCheckpointSkips(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, &Config{Checkpoints: newTestCheckpoints(t)})

	first, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)
	assert.False(t, first.Skipped)

	second, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, 0, second.EntitiesCreated)
	assert.Equal(t, 0, second.Mentions)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.MentionCount, "skipped capture stores nothing")
}

func TestForgetReopensMemory(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, &Config{Checkpoints: newTestCheckpoints(t)})

	_, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)

	removed, err := client.Forget(ctx, memoryOne)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	jane := findByName(t, client, "Jane Smith")
	assert.Equal(t, 0, jane.MentionCount)

	// The checkpoint is gone, so the memory captures again.
	result, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 0, result.EntitiesCreated)
	assert.Equal(t, 2, result.EntitiesUpdated)
	assert.Equal(t, 2, result.Mentions)

	jane = findByName(t, client, "Jane Smith")
	assert.Equal(t, 1, jane.MentionCount)
}

func TestRecall(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, nil)

	_, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)
	_, err = client.Capture(ctx, memoryTwo, memoryTwoText, types.Domain{})
	require.NoError(t, err)

	recalled, err := client.Recall(ctx, "acme", types.Domain{}, 1, 10)
	require.NoError(t, err)

	require.Len(t, recalled.Entities, 1)
	assert.Equal(t, "Acme Corp", recalled.Entities[0].Name)

	// Depth 1 follows the outgoing edge to PostgreSQL; the incoming edge
	// from Jane Smith is not followed.
	require.Len(t, recalled.Related, 1)
	assert.Equal(t, "PostgreSQL", recalled.Related[0].Name)
	require.Len(t, recalled.Relationships, 1)
	assert.Equal(t, types.RelationRelatesTo, recalled.Relationships[0].Type)

	// Depth 0 returns hits without context.
	flat, err := client.Recall(ctx, "acme", types.Domain{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, flat.Entities, 1)
	assert.Empty(t, flat.Related)
	assert.Empty(t, flat.Relationships)

	// No hits, no context.
	empty, err := client.Recall(ctx, "zzz", types.Domain{}, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, empty.Entities)
	assert.Empty(t, empty.Related)
}

func TestEntityContext(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, nil)

	_, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)
	_, err = client.Capture(ctx, memoryTwo, memoryTwoText, types.Domain{})
	require.NoError(t, err)

	jane := findByName(t, client, "Jane Smith")

	sub, err := client.EntityContext(ctx, jane.ID, 2)
	require.NoError(t, err)
	assert.Len(t, sub.Entities, 3)
	assert.Len(t, sub.Relationships, 2)
	assert.Equal(t, 3, sub.TotalCount)

	_, err = client.EntityContext(ctx, "no-such-id", 2)
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestEntityLookup(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, nil)

	_, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)

	jane := findByName(t, client, "Jane Smith")

	got, err := client.Entity(ctx, jane.ID)
	require.NoError(t, err)
	assert.Equal(t, jane.ID, got.ID)

	_, err = client.Entity(ctx, "no-such-id")
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestFindPath(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, nil)

	_, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)
	_, err = client.Capture(ctx, memoryTwo, memoryTwoText, types.Domain{})
	require.NoError(t, err)

	jane := findByName(t, client, "Jane Smith")
	postgres := findByName(t, client, "PostgreSQL")

	path, err := client.FindPath(ctx, jane.ID, postgres.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, path.Hops())

	names := make([]string, 0, len(path.Entities))
	for _, e := range path.Entities {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Jane Smith", "Acme Corp", "PostgreSQL"}, names)

	// Edges are directed, so the reverse direction is unreachable.
	_, err = client.FindPath(ctx, postgres.ID, jane.ID, 5)
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestClearResetsEverything(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, &Config{Checkpoints: newTestCheckpoints(t)})

	_, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)

	require.NoError(t, client.Clear(ctx))

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.EntityCount)

	count, err := client.GetCheckpoints().ProcessedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Cleared memories capture again instead of being skipped.
	result, err := client.Capture(ctx, memoryOne, memoryOneText, types.Domain{})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 2, result.EntitiesCreated)
}
