package extraction

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/memoria/pkg/types"
)

func TestPatternExtractorDefaults(t *testing.T) {
	e, err := NewPatternExtractor(nil, nil)
	require.NoError(t, err)

	text := "Jane Smith works at Acme Corp. She emailed jane@acme.com about PostgreSQL and pkg/storage/backend.go. Details: https://wiki.acme.dev/graph"
	result, err := e.Extract(context.Background(), "mem-1", text, types.Domain{})
	require.NoError(t, err)
	assert.True(t, result.Degraded)

	var names []string
	for _, ent := range result.Entities {
		names = append(names, ent.Name)
	}
	require.Equal(t, []string{
		"Jane Smith",
		"Acme Corp",
		"jane@acme.com",
		"PostgreSQL",
		"pkg/storage/backend.go",
		"https://wiki.acme.dev/graph",
	}, names)

	wantTypes := []string{
		string(types.EntityTypePerson),
		string(types.EntityTypeOrganization),
		string(types.EntityTypePerson),
		string(types.EntityTypeTechnology),
		string(types.EntityTypeFile),
		string(types.EntityTypeConcept),
	}
	for i, ent := range result.Entities {
		assert.Equal(t, wantTypes[i], ent.Type, ent.Name)
		assert.Equal(t, patternConfidence, ent.Confidence, ent.Name)
		require.NotNil(t, ent.StartOffset, ent.Name)
		require.NotNil(t, ent.EndOffset, ent.Name)
		assert.Equal(t, ent.MatchedText, text[*ent.StartOffset:*ent.EndOffset], ent.Name)
	}

	require.Len(t, result.Relationships, 5)
	assert.Equal(t, "Jane Smith", result.Relationships[0].FromName)
	assert.Equal(t, "Acme Corp", result.Relationships[0].ToName)
	assert.Equal(t, "pkg/storage/backend.go", result.Relationships[4].FromName)
	assert.Equal(t, "https://wiki.acme.dev/graph", result.Relationships[4].ToName)
	for _, rel := range result.Relationships {
		assert.Equal(t, string(types.RelationRelatesTo), rel.Type)
		assert.Equal(t, patternConfidence, rel.Confidence)
	}
}

func TestPatternExtractorCustomRules(t *testing.T) {
	rules := []Rule{
		{Name: "ticket", Pattern: `[A-Z]{2,}-\d+`, Type: "Concept", Confidence: 0.8},
	}
	e, err := NewPatternExtractor(rules, nil)
	require.NoError(t, err)

	result, err := e.Extract(context.Background(), "mem-1", "Fixed MEM-142 and MEM-7 in one pass.", types.Domain{})
	require.NoError(t, err)

	require.Len(t, result.Entities, 2)
	assert.Equal(t, "MEM-142", result.Entities[0].Name)
	assert.Equal(t, "MEM-7", result.Entities[1].Name)
	assert.Equal(t, 0.8, result.Entities[0].Confidence)

	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "MEM-142", result.Relationships[0].FromName)
	assert.Equal(t, "MEM-7", result.Relationships[0].ToName)
}

func TestPatternExtractorDeduplicatesRepeats(t *testing.T) {
	e, err := NewPatternExtractor(nil, nil)
	require.NoError(t, err)

	result, err := e.Extract(context.Background(), "mem-1", "GitHub mirrors GitHub projects onto GitHub again.", types.Domain{})
	require.NoError(t, err)

	require.Len(t, result.Entities, 1)
	assert.Equal(t, "GitHub", result.Entities[0].Name)
	assert.Equal(t, string(types.EntityTypeTechnology), result.Entities[0].Type)
	assert.Empty(t, result.Relationships)
}

func TestPatternExtractorSuppressesOverlaps(t *testing.T) {
	e, err := NewPatternExtractor(nil, nil)
	require.NoError(t, err)

	result, err := e.Extract(context.Background(), "mem-1", "docs live at https://acme.dev/guide/setup.html now", types.Domain{})
	require.NoError(t, err)

	require.Len(t, result.Entities, 1)
	assert.Equal(t, "https://acme.dev/guide/setup.html", result.Entities[0].Name)
	assert.Equal(t, string(types.EntityTypeConcept), result.Entities[0].Type)
}

func TestPatternExtractorEmptyText(t *testing.T) {
	e, err := NewPatternExtractor(nil, nil)
	require.NoError(t, err)

	result, err := e.Extract(context.Background(), "mem-1", "", types.Domain{})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Empty(t, result.Entities)
	assert.Empty(t, result.Relationships)
}

func TestPatternExtractorCanceledContext(t *testing.T) {
	e, err := NewPatternExtractor(nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Extract(ctx, "mem-1", "whatever", types.Domain{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPatternExtractorInvalidRule(t *testing.T) {
	_, err := NewPatternExtractor([]Rule{{Name: "broken", Pattern: "("}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestLoadRules(t *testing.T) {
	t.Run("well formed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		content := `rules:
  - name: ticket
    pattern: '[A-Z]{2,}-\d+'
    type: Concept
    confidence: 0.8
  - name: version
    pattern: 'v\d+\.\d+\.\d+'
    type: Concept
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		rules, err := LoadRules(path)
		require.NoError(t, err)
		require.Len(t, rules, 2)
		assert.Equal(t, "ticket", rules[0].Name)
		assert.Equal(t, `[A-Z]{2,}-\d+`, rules[0].Pattern)
		assert.Equal(t, 0.8, rules[0].Confidence)
		assert.Equal(t, "version", rules[1].Name)
		assert.Zero(t, rules[1].Confidence)

		_, err = NewPatternExtractor(rules, nil)
		require.NoError(t, err)
	})

	t.Run("missing pattern", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: empty\n"), 0o644))

		_, err := LoadRules(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("unreadable file", func(t *testing.T) {
		_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("rules: ["), 0o644))

		_, err := LoadRules(path)
		require.Error(t, err)
	})
}
