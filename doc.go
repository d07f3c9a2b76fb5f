// Package memoria provides a bitemporal knowledge-graph memory library for Go.
//
// Memoria captures free text into a graph of typed entities and relationships,
// tracking two time axes for every record: valid time (when the fact holds in
// the modeled world) and transaction time (when the system learned it). That
// makes "what did we believe on date X about date Y" a first-class query.
//
// # Basic Usage
//
// Create a client from a storage backend and an extractor:
//
//	backend, err := driver.NewSQLiteBackend("./memoria.db", logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	extractor, err := extraction.NewPatternExtractor(nil, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	client, err := memoria.NewClient(backend, extractor, nil, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// Or assemble everything from file-level configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	client, err := memoria.Open(cfg, logger)
//
// # Capturing Memories
//
// Capture extracts entities and relationships from text and stores them,
// linking each entity back to the memory it came from:
//
//	domain := types.Domain{Organization: "acme", Project: "backend"}
//	result, err := client.Capture(ctx, "meeting-2024-06-01", "Jane Smith works at Acme Corp", domain)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("created %d entities\n", result.EntitiesCreated)
//
// # Recalling
//
// Recall searches entities by name and expands the surrounding subgraph:
//
//	recalled, err := client.Recall(ctx, "acme", domain, 2, 10)
//	for _, e := range recalled.Entities {
//		fmt.Println(e.Name)
//	}
//
// # Time Travel
//
// Both backends answer bitemporal queries directly:
//
//	at := types.BitemporalPoint{ValidAt: lastMonth, AsOf: yesterday}
//	entities, err := client.GetBackend().QueryEntitiesAt(ctx, types.EntityQuery{}, at)
//
// # Architecture
//
//   - pkg/types: core data model (entities, relationships, mentions, time axes)
//   - pkg/driver: GraphBackend contract with in-memory and SQLite backends
//   - pkg/extraction: LLM, pattern, and circuit-breaker extractors
//   - pkg/checkpoint: resume-safe capture tracking
//   - pkg/export: Parquet snapshots
//   - pkg/server: HTTP API
//   - pkg/mcpserver: MCP stdio server
package memoria
