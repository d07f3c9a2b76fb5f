package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/soundprediction/memoria/pkg/types"
)

// defaultPathDepth bounds path searches when the tool call does not set one.
const defaultPathDepth = 5

func (s *Server) registerTools() {
	s.registerCaptureTool()
	s.registerRecallTool()
	s.registerTraverseTool()
	s.registerPathTool()
	s.registerStatsTool()
}

func (s *Server) registerCaptureTool() {
	tool := mcp.NewTool("capture_memory",
		mcp.WithDescription("Store a memory in the knowledge graph. Entities and relationships are extracted from the text, linked back to the memory ID, and merged with entities seen in earlier memories."),
		mcp.WithString("memory_id",
			mcp.Required(),
			mcp.Description("Unique identifier of the memory, e.g. a note, meeting or conversation ID. Capturing the same ID twice is a no-op."),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The memory text to extract entities and relationships from"),
		),
		mcp.WithString("organization", mcp.Description("Organization scope for the extracted entities")),
		mcp.WithString("project", mcp.Description("Project scope for the extracted entities")),
		mcp.WithString("repository", mcp.Description("Repository scope for the extracted entities")),
	)

	s.mcp.AddTool(tool, s.handleCapture)
}

func (s *Server) handleCapture(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	memoryID, ok := arguments["memory_id"].(string)
	if !ok || memoryID == "" {
		return mcp.NewToolResultError("memory_id must be a non-empty string"), nil
	}
	text, ok := arguments["text"].(string)
	if !ok || text == "" {
		return mcp.NewToolResultError("text must be a non-empty string"), nil
	}

	result, err := s.client.Capture(context.Background(), memoryID, text, domainFromArguments(arguments))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("capture failed: %v", err)), nil
	}

	return jsonResult(result)
}

func (s *Server) registerRecallTool() {
	tool := mcp.NewTool("recall_memories",
		mcp.WithDescription("Search the knowledge graph for entities whose names contain the query, and return them together with the entities and relationships around them. Frequently mentioned entities come first."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Name fragment to search for, matched case-insensitively"),
		),
		mcp.WithNumber("depth", mcp.Description("How many hops to expand around each hit (default: 1, 0 disables expansion)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of hits to return (default: 10)")),
		mcp.WithString("organization", mcp.Description("Restrict the search to this organization")),
		mcp.WithString("project", mcp.Description("Restrict the search to this project")),
		mcp.WithString("repository", mcp.Description("Restrict the search to this repository")),
	)

	s.mcp.AddTool(tool, s.handleRecall)
}

func (s *Server) handleRecall(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	query, ok := arguments["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("query must be a non-empty string"), nil
	}

	depth := intArgument(arguments, "depth", -1)
	limit := intArgument(arguments, "limit", 0)

	result, err := s.client.Recall(context.Background(), query, domainFromArguments(arguments), depth, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("recall failed: %v", err)), nil
	}

	return jsonResult(result)
}

func (s *Server) registerTraverseTool() {
	tool := mcp.NewTool("traverse_entity",
		mcp.WithDescription("Walk the graph outward from one entity and return everything reachable within the given number of hops, including the relationships that connect them."),
		mcp.WithString("entity_id",
			mcp.Required(),
			mcp.Description("ID of the entity to start from, as returned by recall_memories"),
		),
		mcp.WithNumber("depth", mcp.Description("Maximum number of hops to follow (default: 1, 0 returns only the start entity)")),
	)

	s.mcp.AddTool(tool, s.handleTraverse)
}

func (s *Server) handleTraverse(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	entityID, ok := arguments["entity_id"].(string)
	if !ok || entityID == "" {
		return mcp.NewToolResultError("entity_id must be a non-empty string"), nil
	}

	depth := intArgument(arguments, "depth", -1)

	result, err := s.client.EntityContext(context.Background(), types.EntityID(entityID), depth)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("traversal failed: %v", err)), nil
	}

	return jsonResult(result)
}

func (s *Server) registerPathTool() {
	tool := mcp.NewTool("find_path",
		mcp.WithDescription("Find the shortest chain of relationships leading from one entity to another, following relationship direction."),
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("ID of the entity to start from"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("ID of the entity to reach"),
		),
		mcp.WithNumber("max_depth", mcp.Description("Maximum number of hops to search (default: 5)")),
	)

	s.mcp.AddTool(tool, s.handlePath)
}

func (s *Server) handlePath(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	from, ok := arguments["from"].(string)
	if !ok || from == "" {
		return mcp.NewToolResultError("from must be a non-empty string"), nil
	}
	to, ok := arguments["to"].(string)
	if !ok || to == "" {
		return mcp.NewToolResultError("to must be a non-empty string"), nil
	}

	maxDepth := intArgument(arguments, "max_depth", defaultPathDepth)

	path, err := s.client.FindPath(context.Background(), types.EntityID(from), types.EntityID(to), maxDepth)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("path search failed: %v", err)), nil
	}

	return jsonResult(path)
}

func (s *Server) registerStatsTool() {
	tool := mcp.NewTool("graph_stats",
		mcp.WithDescription("Return counts of entities, relationships and mentions in the knowledge graph, broken down by type."),
	)

	s.mcp.AddTool(tool, s.handleStats)
}

func (s *Server) handleStats(arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	stats, err := s.client.Stats(context.Background())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("stats query failed: %v", err)), nil
	}

	return jsonResult(stats)
}

// domainFromArguments assembles the optional domain scope arguments.
func domainFromArguments(arguments map[string]interface{}) types.Domain {
	var domain types.Domain
	if v, ok := arguments["organization"].(string); ok {
		domain.Organization = v
	}
	if v, ok := arguments["project"].(string); ok {
		domain.Project = v
	}
	if v, ok := arguments["repository"].(string); ok {
		domain.Repository = v
	}
	return domain
}

// intArgument reads an optional numeric argument. JSON numbers arrive as
// float64.
func intArgument(arguments map[string]interface{}, name string, fallback int) int {
	if v, ok := arguments[name].(float64); ok {
		return int(v)
	}
	return fallback
}

// jsonResult renders a value as JSON text content.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal JSON: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
