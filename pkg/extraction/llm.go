package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	openai "github.com/sashabaranov/go-openai"

	"github.com/soundprediction/memoria/pkg/types"
)

// defaultLLMConfidence fills in entries where the model omitted a confidence.
const defaultLLMConfidence = 0.7

const extractionPromptTemplate = `You are an expert knowledge engineer. Extract entities and relationships from the text below.

Entity types: Person, Organization, Technology, File, Concept.
Relationship types: WorksAt, Created, Uses, Implements, PartOf, MentionedIn, Supersedes, ConflictsWith, RelatesTo.

Guidelines:
1. Extract only entities that are explicitly present in the text.
2. Use the most specific entity type that applies; use Concept when unsure.
3. Include aliases when the text refers to the same entity by more than one name.
4. Relationship endpoints must exactly match extracted entity names.
5. Confidence is a number between 0 and 1.
6. Do not invent entities or relationships.

Respond with JSON only, in this shape:
{"entities": [{"name": "...", "type": "...", "aliases": [], "confidence": 0.9}], "relationships": [{"from": "...", "to": "...", "type": "...", "confidence": 0.8}]}

Text:
%s`

// LLMConfig configures an LLMExtractor. BaseURL may point at any
// OpenAI-compatible endpoint (Ollama, vLLM, LM Studio); when it is empty the
// official API is used and APIKey is required.
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxRetries  int
}

// LLMExtractor extracts entities and relationships with a chat-completion
// model prompted for strict JSON output.
type LLMExtractor struct {
	client      *openai.Client
	model       string
	temperature float64
	maxRetries  int
	jsonHint    bool
	logger      *slog.Logger
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor builds an extractor from cfg. A nil logger falls back to
// slog.Default.
func NewLLMExtractor(cfg LLMConfig, logger *slog.Logger) (*LLMExtractor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var client *openai.Client
	if cfg.BaseURL != "" {
		if err := validateBaseURL(cfg.BaseURL); err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			// Local OpenAI-compatible services accept any key.
			apiKey = "dummy-key"
		}
		clientConfig := openai.DefaultConfig(apiKey)
		baseURL := cfg.BaseURL
		if !strings.Contains(baseURL, "/v1") {
			baseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
		}
		clientConfig.BaseURL = baseURL
		client = openai.NewClientWithConfig(clientConfig)
	} else {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api key is required when no base URL is set")
		}
		client = openai.NewClient(cfg.APIKey)
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	return &LLMExtractor{
		client:      client,
		model:       model,
		temperature: cfg.Temperature,
		maxRetries:  maxRetries,
		jsonHint:    cfg.BaseURL != "",
		logger:      logger,
	}, nil
}

// Extract prompts the model with text and parses its JSON reply. Transport
// failures and unparseable replies are retried up to MaxRetries times before
// the last error is returned.
func (e *LLMExtractor) Extract(ctx context.Context, memoryID, text string, domain types.Domain) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return &Result{}, nil
	}

	prompt := fmt.Sprintf(extractionPromptTemplate, text)
	if e.jsonHint {
		// Local services often ignore response_format; reinforce in-band.
		prompt += "\n\nPlease respond with valid JSON only."
	}

	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := e.complete(ctx, prompt)
		if err != nil {
			lastErr = err
			e.logger.Warn("extraction attempt failed",
				"memory_id", memoryID,
				"attempt", attempt+1,
				"error", err)
			continue
		}

		result, err := parseExtraction(raw)
		if err != nil {
			lastErr = err
			e.logger.Warn("extraction reply not parseable",
				"memory_id", memoryID,
				"attempt", attempt+1,
				"error", err)
			continue
		}
		return result, nil
	}
	return nil, fmt.Errorf("extraction failed after %d attempts: %w", e.maxRetries, lastErr)
}

func (e *LLMExtractor) complete(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if e.temperature > 0 {
		req.Temperature = float32(e.temperature)
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func validateBaseURL(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

// wireEntity tolerates the field names models actually emit.
type wireEntity struct {
	Name       string   `json:"name"`
	Entity     string   `json:"entity"`
	EntityName string   `json:"entity_name"`
	Type       string   `json:"type"`
	EntityType string   `json:"entity_type"`
	Aliases    []string `json:"aliases"`
	Confidence float64  `json:"confidence"`
}

func (w wireEntity) name() string {
	for _, n := range []string{w.Name, w.Entity, w.EntityName} {
		if n != "" {
			return n
		}
	}
	return ""
}

func (w wireEntity) entityType() string {
	if w.Type != "" {
		return w.Type
	}
	return w.EntityType
}

type wireRelationship struct {
	From       string  `json:"from"`
	Source     string  `json:"source"`
	FromEntity string  `json:"from_entity"`
	To         string  `json:"to"`
	Target     string  `json:"target"`
	ToEntity   string  `json:"to_entity"`
	Type       string  `json:"type"`
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`
}

func (w wireRelationship) from() string {
	for _, n := range []string{w.From, w.Source, w.FromEntity} {
		if n != "" {
			return n
		}
	}
	return ""
}

func (w wireRelationship) to() string {
	for _, n := range []string{w.To, w.Target, w.ToEntity} {
		if n != "" {
			return n
		}
	}
	return ""
}

func (w wireRelationship) relType() string {
	if w.Type != "" {
		return w.Type
	}
	return w.Relation
}

type wirePayload struct {
	Entities      []wireEntity       `json:"entities"`
	Relationships []wireRelationship `json:"relationships"`
}

// parseExtraction turns a model reply into a Result. The repaired reply is
// tried first, then the original in case the repair was destructive; each
// candidate is tried as the expected object shape, as a bare entity array,
// and as the JSON substring between the outermost braces or brackets.
func parseExtraction(raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty extraction reply")
	}
	candidates := []string{raw}
	if repaired, err := jsonrepair.JSONRepair(raw); err == nil && repaired != "" && repaired != raw {
		candidates = []string{repaired, raw}
	}

	for _, candidate := range candidates {
		if result, ok := decodePayload(candidate); ok {
			return result, nil
		}
		if result, ok := decodeEntityArray(candidate); ok {
			return result, nil
		}
		if inner := substringBetween(candidate, '{', '}'); inner != "" {
			if result, ok := decodePayload(inner); ok {
				return result, nil
			}
		}
		if inner := substringBetween(candidate, '[', ']'); inner != "" {
			if result, ok := decodeEntityArray(inner); ok {
				return result, nil
			}
		}
	}
	return nil, fmt.Errorf("no parseable extraction payload in reply")
}

func decodePayload(raw string) (*Result, bool) {
	var payload wirePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false
	}
	if len(payload.Entities) == 0 && len(payload.Relationships) == 0 {
		return nil, false
	}
	return convertPayload(payload), true
}

func decodeEntityArray(raw string) (*Result, bool) {
	var entities []wireEntity
	if err := json.Unmarshal([]byte(raw), &entities); err != nil || len(entities) == 0 {
		return nil, false
	}
	return convertPayload(wirePayload{Entities: entities}), true
}

func convertPayload(payload wirePayload) *Result {
	result := &Result{}
	for _, w := range payload.Entities {
		name := sanitize(w.name())
		if name == "" {
			continue
		}
		result.Entities = append(result.Entities, ExtractedEntity{
			Name:       name,
			Type:       w.entityType(),
			Aliases:    w.Aliases,
			Confidence: clampConfidence(w.Confidence, defaultLLMConfidence),
		})
	}
	result.Entities = dedupeEntities(result.Entities)

	names := make(map[string]string, len(result.Entities))
	for _, e := range result.Entities {
		names[strings.ToLower(e.Name)] = e.Name
	}
	for _, w := range payload.Relationships {
		from, okFrom := names[strings.ToLower(sanitize(w.from()))]
		to, okTo := names[strings.ToLower(sanitize(w.to()))]
		if !okFrom || !okTo || from == to {
			continue
		}
		result.Relationships = append(result.Relationships, ExtractedRelationship{
			FromName:   from,
			ToName:     to,
			Type:       w.relType(),
			Confidence: clampConfidence(w.Confidence, defaultLLMConfidence),
		})
	}
	return result
}

// substringBetween returns the inclusive slice of s from the first opener to
// the last closer, or "" when no such span exists.
func substringBetween(s string, opener, closer byte) string {
	start := strings.IndexByte(s, opener)
	end := strings.LastIndexByte(s, closer)
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}
