// Package extraction turns free text into candidate entities and
// relationships for the knowledge graph.
//
// Three extractors implement the Extractor interface. LLMExtractor prompts
// an OpenAI-compatible chat model and tolerantly parses its JSON reply.
// PatternExtractor runs regex heuristics and needs no network, so it doubles
// as a degraded fallback. BreakerExtractor composes the two behind a circuit
// breaker, keeping capture alive while the model endpoint is down.
package extraction
