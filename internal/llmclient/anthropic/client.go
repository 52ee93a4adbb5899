// Package anthropic implements memsvc.LLM against the Anthropic Messages
// API, the LLM binding named in spec §6. Every structured extraction is
// requested as a tool call with a JSON-schema input, so the model's
// output is validated at the boundary rather than parsed out of prose.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"memory-mesh/internal/memsvc"
)

// Client adapts the Anthropic SDK to memsvc.LLM.
type Client struct {
	api   anthropic.Client
	model string
}

// New builds a Client. model is the Anthropic model id (spec's
// LLM_MODEL configuration option).
func New(apiKey, model string) *Client {
	return &Client{
		api:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

const extractObservationTool = "extract_observation"
const parseClaimTool = "parse_claim"

func (c *Client) ExtractObservation(ctx context.Context, text string) (memsvc.ExtractedObservation, error) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"concepts": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":       map[string]any{"type": "string"},
						"kind":       map[string]any{"type": "string"},
						"components": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required": []string{"name", "kind"},
				},
			},
			"topics": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []string{"concepts", "topics"},
	}

	var out memsvc.ExtractedObservation
	if err := c.callTool(ctx, extractObservationTool,
		"Extract the concepts (entities, attributes, categories, actions) and topics mentioned in this text, for indexing into a knowledge graph. Text: "+text,
		schema, &out); err != nil {
		return memsvc.ExtractedObservation{}, fmt.Errorf("anthropic: extract observation: %w", err)
	}
	return out, nil
}

func (c *Client) ParseClaim(ctx context.Context, text, context_ string) (memsvc.ParsedClaim, error) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"subject":                  map[string]any{"type": "string"},
			"predicate":                map[string]any{"type": "string"},
			"object":                   map[string]any{"type": "string"},
			"confidence":               map[string]any{"type": "number"},
			"negated":                  map[string]any{"type": "boolean"},
			"basis_descriptions":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"supersedes_description":   map[string]any{"type": "string"},
		},
		"required": []string{"subject", "predicate", "object", "confidence", "negated"},
	}

	prompt := "Parse this claim into a (subject, predicate, object) triple with a confidence score. Claim: " + text
	if context_ != "" {
		prompt += "\nContext: " + context_
	}

	var out memsvc.ParsedClaim
	if err := c.callTool(ctx, parseClaimTool, prompt, schema, &out); err != nil {
		return memsvc.ParsedClaim{}, fmt.Errorf("anthropic: parse claim: %w", err)
	}
	return out, nil
}

func (c *Client) Infer(ctx context.Context, observationText string) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 128,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(
				"Given this observation, state one short factual claim that can be derived from it, or reply exactly SKIP if none applies. Do not add commentary.\nObservation: " + observationText)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: infer: %w", err)
	}
	return strings.TrimSpace(textFromMessage(msg)), nil
}

func (c *Client) GenerateQuery(ctx context.Context, naturalLanguage string) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 256,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(
				"Translate this question into a single Cypher query over a graph of Observation/Statement/Concept/Source nodes. Return only the query text.\nQuestion: " + naturalLanguage)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: generate query: %w", err)
	}
	return strings.TrimSpace(textFromMessage(msg)), nil
}

func (c *Client) SynthesizeResponse(ctx context.Context, query string, rows []map[string]any) (string, error) {
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("anthropic: marshal rows: %w", err)
	}
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(
				"Answer this question using only the provided facts. Question: %s\nFacts: %s", query, rowsJSON))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: synthesize response: %w", err)
	}
	return strings.TrimSpace(textFromMessage(msg)), nil
}

// callTool issues a single-turn request forcing use of a named tool with
// the given JSON-schema input, and unmarshals the tool call's input into
// out. This is the structured-output boundary validation spec §6 calls
// for: a malformed or missing tool call surfaces as an error rather than
// being silently coerced.
func (c *Client) callTool(ctx context.Context, name, prompt string, schema map[string]any, out any) error {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1024,
		Tools: []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        name,
					InputSchema: schemaToToolInput(schema),
				},
			},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: name}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type != "tool_use" {
			continue
		}
		if err := json.Unmarshal(block.Input, out); err != nil {
			return fmt.Errorf("unmarshal tool input: %w", err)
		}
		return nil
	}
	return fmt.Errorf("model did not return a %s tool call", name)
}

func schemaToToolInput(schema map[string]any) anthropic.ToolInputSchemaParam {
	props, _ := schema["properties"].(map[string]any)
	required, _ := schema["required"].([]string)
	return anthropic.ToolInputSchemaParam{
		Properties: props,
		Required:   required,
	}
}

func textFromMessage(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}
