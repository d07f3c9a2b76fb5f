package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/memoria"
	"github.com/soundprediction/memoria/pkg/types"
)

// seedGraph captures two memories that together produce three entities
// (Jane Smith, Acme Corp, PostgreSQL), two relationships and four mentions.
func seedGraph(t *testing.T, router *gin.Engine) {
	t.Helper()
	captureMemory(t, router, "memory-1", "Jane Smith works at Acme Corp.")
	captureMemory(t, router, "memory-2", "Acme Corp uses PostgreSQL.")
}

// entityIDByName resolves an entity id through the list endpoint.
func entityIDByName(t *testing.T, router *gin.Engine, fragment string) string {
	t.Helper()

	w := doJSON(t, router, http.MethodGet, "/entities?name_contains="+fragment, "")
	if w.Code != http.StatusOK {
		t.Fatalf("entity lookup for %s failed with status %d", fragment, w.Code)
	}

	var resp struct {
		Entities []*types.Entity `json:"entities"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Entities) != 1 {
		t.Fatalf("expected exactly one entity matching %s, got %d", fragment, len(resp.Entities))
	}
	return string(resp.Entities[0].ID)
}

func TestListEntitiesEndpoint(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))
	seedGraph(t, router)

	w := doJSON(t, router, http.MethodGet, "/entities", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Entities []*types.Entity `json:"entities"`
		Count    int             `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Count != 3 || len(resp.Entities) != 3 {
		t.Fatalf("expected 3 entities, got count=%d len=%d", resp.Count, len(resp.Entities))
	}

	// Acme Corp is mentioned by both memories and sorts first
	if resp.Entities[0].Name != "Acme Corp" {
		t.Errorf("expected Acme Corp first, got %s", resp.Entities[0].Name)
	}
}

func TestListEntitiesEndpointFilters(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))
	seedGraph(t, router)

	tests := []struct {
		name     string
		target   string
		expected int
	}{
		{"by type", "/entities?type=Organization", 1},
		{"by person type", "/entities?type=Person", 1},
		{"unknown type matches nothing", "/entities?type=Banana", 0},
		{"name substring is case-insensitive", "/entities?name_contains=acme", 1},
		{"min confidence excludes all", "/entities?min_confidence=0.9", 0},
		{"limit", "/entities?limit=2", 2},
		{"offset", "/entities?offset=2", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodGet, tt.target, "")
			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
			}

			var resp struct {
				Count int `json:"count"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Count != tt.expected {
				t.Errorf("expected count %d, got %d", tt.expected, resp.Count)
			}
		})
	}
}

func TestListEntitiesEndpointBadParams(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))

	targets := []string{
		"/entities?min_confidence=high",
		"/entities?limit=many",
		"/entities?offset=some",
		"/entities?valid_at=yesterday",
		"/entities?as_of=not-a-time",
	}

	for _, target := range targets {
		w := doJSON(t, router, http.MethodGet, target, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for %s, got %d", target, w.Code)
		}
	}
}

func TestListEntitiesEndpointTimeTravel(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))
	seedGraph(t, router)

	// Nothing was known in 2000, so querying as of then finds nothing
	w := doJSON(t, router, http.MethodGet, "/entities?as_of=2000-01-01T00:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 0 {
		t.Errorf("expected 0 entities as of 2000, got %d", resp.Count)
	}

	// Open-ended valid time covers the far future
	w = doJSON(t, router, http.MethodGet, "/entities?valid_at=2100-01-01T00:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("expected 3 entities valid in 2100, got %d", resp.Count)
	}
}

func TestGetEntityEndpoint(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))
	seedGraph(t, router)

	id := entityIDByName(t, router, "Jane")

	w := doJSON(t, router, http.MethodGet, "/entities/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var entity types.Entity
	if err := json.NewDecoder(w.Body).Decode(&entity); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if entity.Name != "Jane Smith" {
		t.Errorf("expected Jane Smith, got %s", entity.Name)
	}
	if entity.Type != types.EntityTypePerson {
		t.Errorf("expected Person, got %s", entity.Type)
	}
}

func TestGetEntityEndpointNotFound(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))

	w := doJSON(t, router, http.MethodGet, "/entities/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "not_found" {
		t.Errorf("expected error not_found, got %v", resp["error"])
	}
}

func TestTraverseEndpoint(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))
	seedGraph(t, router)

	janeID := entityIDByName(t, router, "Jane")

	w := doJSON(t, router, http.MethodGet, "/entities/"+janeID+"/traverse?depth=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var result types.TraversalResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if result.TotalCount != 3 || len(result.Entities) != 3 {
		t.Errorf("expected 3 entities within 2 hops, got total=%d len=%d", result.TotalCount, len(result.Entities))
	}
	if len(result.Relationships) != 2 {
		t.Errorf("expected 2 relationships, got %d", len(result.Relationships))
	}
}

func TestTraverseEndpointDepthZero(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))
	seedGraph(t, router)

	janeID := entityIDByName(t, router, "Jane")

	w := doJSON(t, router, http.MethodGet, "/entities/"+janeID+"/traverse?depth=0", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var result types.TraversalResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	// Depth zero is just the start entity
	if result.TotalCount != 1 || len(result.Relationships) != 0 {
		t.Errorf("expected only the start entity, got total=%d relationships=%d", result.TotalCount, len(result.Relationships))
	}
}

func TestTraverseEndpointErrors(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))
	seedGraph(t, router)

	w := doJSON(t, router, http.MethodGet, "/entities/ghost/traverse", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for unknown entity, got %d", w.Code)
	}

	janeID := entityIDByName(t, router, "Jane")
	w = doJSON(t, router, http.MethodGet, "/entities/"+janeID+"/traverse?depth=deep", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for bad depth, got %d", w.Code)
	}
}

func TestRecallEndpoint(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))
	seedGraph(t, router)

	w := doJSON(t, router, http.MethodGet, "/recall?q=acme", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var result memoria.RecallResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if result.Query != "acme" {
		t.Errorf("expected query acme, got %s", result.Query)
	}
	if len(result.Entities) != 1 || result.Entities[0].Name != "Acme Corp" {
		t.Fatalf("expected Acme Corp as the only hit, got %+v", result.Entities)
	}
	if len(result.Related) != 1 || result.Related[0].Name != "PostgreSQL" {
		t.Errorf("expected PostgreSQL as related, got %+v", result.Related)
	}
	if len(result.Relationships) != 1 {
		t.Errorf("expected 1 relationship, got %d", len(result.Relationships))
	}
}

func TestRecallEndpointRequiresQuery(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))

	w := doJSON(t, router, http.MethodGet, "/recall", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without q, got %d", w.Code)
	}
}

func TestRecallEndpointNoMatches(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))
	seedGraph(t, router)

	w := doJSON(t, router, http.MethodGet, "/recall?q=zzz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var result memoria.RecallResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(result.Entities) != 0 {
		t.Errorf("expected no hits, got %d", len(result.Entities))
	}
}

func TestFindPathEndpoint(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))
	seedGraph(t, router)

	janeID := entityIDByName(t, router, "Jane")
	postgresID := entityIDByName(t, router, "PostgreSQL")

	w := doJSON(t, router, http.MethodGet, "/path?from="+janeID+"&to="+postgresID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var path types.Path
	if err := json.NewDecoder(w.Body).Decode(&path); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(path.Entities) != 3 || len(path.Relationships) != 2 {
		t.Errorf("expected a 2-hop path, got %d entities and %d relationships", len(path.Entities), len(path.Relationships))
	}

	// Only outgoing edges are followed, so the reverse direction has no path
	w = doJSON(t, router, http.MethodGet, "/path?from="+postgresID+"&to="+janeID, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for the reverse direction, got %d", w.Code)
	}
}

func TestFindPathEndpointDepthBound(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))
	seedGraph(t, router)

	janeID := entityIDByName(t, router, "Jane")
	postgresID := entityIDByName(t, router, "PostgreSQL")

	// The path needs two hops, so a bound of one finds nothing
	w := doJSON(t, router, http.MethodGet, "/path?from="+janeID+"&to="+postgresID+"&max_depth=1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 with max_depth=1, got %d", w.Code)
	}
}

func TestFindPathEndpointRequiresEndpoints(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))

	w := doJSON(t, router, http.MethodGet, "/path?from=a", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without to, got %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/path", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without endpoints, got %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router := newTestRouter(newTestClient(t, nil))
	seedGraph(t, router)

	w := doJSON(t, router, http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var stats types.GraphStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if stats.EntityCount != 3 {
		t.Errorf("expected 3 entities, got %d", stats.EntityCount)
	}
	if stats.RelationshipCount != 2 {
		t.Errorf("expected 2 relationships, got %d", stats.RelationshipCount)
	}
	if stats.MentionCount != 4 {
		t.Errorf("expected 4 mentions, got %d", stats.MentionCount)
	}
	if stats.EntitiesByType[types.EntityTypeOrganization] != 1 {
		t.Errorf("expected 1 organization, got %d", stats.EntitiesByType[types.EntityTypeOrganization])
	}
}
