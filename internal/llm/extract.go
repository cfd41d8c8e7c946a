package llm

import (
	"context"
	"strings"

	"github.com/aletheia-memory-sidecar/internal/jsonx"
	"github.com/aletheia-memory-sidecar/internal/vocab"
)

const (
	extractMaxTokens   = 2000
	extractTemperature = 0.1
)

// Relation is one extracted graph edge. Type is always a controlled
// vocabulary member.
type Relation struct {
	Source string `json:"source"`
	Type   string `json:"relationship"`
	Target string `json:"target"`
}

// ExtractFacts asks the backend for durable facts in the text.
func ExtractFacts(ctx context.Context, client Client, text string) ([]string, error) {
	out, err := client.Complete(ctx, Request{
		System:      FactExtractionPrompt,
		Prompt:      text,
		MaxTokens:   extractMaxTokens,
		Temperature: extractTemperature,
	})
	if err != nil {
		return nil, err
	}

	parsed := ParseJSONResponse(out)
	raw, ok := parsed["facts"].([]interface{})
	if !ok {
		return nil, nil
	}

	facts := make([]string, 0, len(raw))
	for _, item := range raw {
		if fact, ok := item.(string); ok {
			fact = strings.TrimSpace(fact)
			if fact != "" {
				facts = append(facts, fact)
			}
		}
	}
	return facts, nil
}

// ExtractRelations asks the backend for graph edges, normalizing every
// relationship type into the controlled vocabulary.
func ExtractRelations(ctx context.Context, client Client, text string) ([]Relation, error) {
	out, err := client.Complete(ctx, Request{
		System:      GraphExtractionPrompt + graphOutputContract,
		Prompt:      text,
		MaxTokens:   extractMaxTokens,
		Temperature: extractTemperature,
	})
	if err != nil {
		return nil, err
	}

	parsed := ParseJSONResponse(out)
	raw, ok := parsed["relations"].([]interface{})
	if !ok {
		// Some models answer with a bare array.
		raw, ok = parsed["items"].([]interface{})
		if !ok {
			return nil, nil
		}
	}

	relations := make([]Relation, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		source, _ := entry["source"].(string)
		relType, _ := entry["relationship"].(string)
		target, _ := entry["target"].(string)

		source = strings.TrimSpace(source)
		target = strings.TrimSpace(target)
		if source == "" || target == "" {
			continue
		}
		relations = append(relations, Relation{
			Source: source,
			Type:   vocab.NormalizeType(relType),
			Target: target,
		})
	}
	return relations, nil
}

// RewriteQueries asks the backend for up to max alternative phrasings
// of a search query.
func RewriteQueries(ctx context.Context, client Client, query string, max int) ([]string, error) {
	out, err := client.Complete(ctx, Request{
		System:      QueryRewritePrompt,
		Prompt:      query,
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, err
	}

	parsed := ParseJSONResponse(out)
	raw, ok := parsed["queries"].([]interface{})
	if !ok {
		raw, ok = parsed["items"].([]interface{})
		if !ok {
			return nil, nil
		}
	}

	rewrites := make([]string, 0, max)
	for _, item := range raw {
		if len(rewrites) >= max {
			break
		}
		q, ok := item.(string)
		if !ok {
			continue
		}
		q = strings.TrimSpace(q)
		if q != "" && !strings.EqualFold(q, query) {
			rewrites = append(rewrites, q)
		}
	}
	return rewrites, nil
}

// MergeMemories asks the backend to fold newText into oldText.
func MergeMemories(ctx context.Context, client Client, oldText, newText string) (string, error) {
	out, err := client.Complete(ctx, Request{
		System:      MemoryMergePrompt,
		Prompt:      "EXISTING: " + oldText + "\nNEW: " + newText,
		MaxTokens:   300,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(StripThinkingTags(out)), nil
}

// ParseJSONResponse salvages a JSON object from model output that may
// carry prose, code fences or truncation around it. Bare arrays come
// back under the "items" key. Unsalvageable input yields an empty map.
func ParseJSONResponse(response string) map[string]interface{} {
	response = StripThinkingTags(response)
	if response == "" {
		return map[string]interface{}{}
	}

	startIdx := -1
	for i, c := range response {
		if c == '[' || c == '{' {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return map[string]interface{}{}
	}

	textToParse := response[startIdx:]
	closer := byte('}')
	if response[startIdx] == '[' {
		closer = byte(']')
	}

	// Walk candidate end points from the back until one parses.
	for i := len(textToParse) - 1; i >= 0; i-- {
		if textToParse[i] != closer {
			continue
		}
		var result interface{}
		if err := jsonx.Unmarshal([]byte(textToParse[:i+1]), &result); err != nil {
			continue
		}
		switch v := result.(type) {
		case map[string]interface{}:
			return v
		case []interface{}:
			return map[string]interface{}{"items": v}
		}
	}

	return map[string]interface{}{}
}
