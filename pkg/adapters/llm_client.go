package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/FrenchMajesty/ingredient-filter/pkg/adapters/openai"
	"github.com/FrenchMajesty/ingredient-filter/pkg/types"
)

// ErrInvalidClassification is wrapped by every malformed classifier answer
var ErrInvalidClassification = errors.New("invalid classifier output")

const defaultModel = "gpt-4.1-mini"

const defaultSystemPrompt = `You analyze food ingredients for dietary restrictions.

For each restriction, answer 1 if the ingredient PASSES (is safe) or 0 if it FAILS (violates the restriction):

- vegan: contains no animal products (meat, dairy, eggs, honey, etc.)
- vegetarian: contains no meat or fish
- halal: contains no pork, alcohol or non-halal animal products
- gluten-free: contains no wheat, barley, rye or gluten
- lactose-intolerant: contains no lactose or dairy
- nut-allergy: contains no tree nuts or peanuts
- anti-inflammatory: contains no inflammatory ingredients (saturated fats, refined sugars, processed oils)
- low-sugar: contains no added sugars or high-glycemic sweeteners

Respond ONLY with a JSON object holding exactly these eight keys. No explanations.`

const schemaName = "dietary_flags"

// flagsSchema is the JSON schema of a classifier answer over the full filter space
func flagsSchema() map[string]any {
	properties := make(map[string]any, len(types.AllFilters))
	required := make([]string, 0, len(types.AllFilters))
	for _, f := range types.AllFilters {
		properties[string(f)] = map[string]any{
			"type": "integer",
			"enum": []int{0, 1},
		}
		required = append(required, string(f))
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

var (
	schemaOnce     sync.Once
	schemaJSON     []byte
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, []byte, error) {
	schemaOnce.Do(func() {
		schemaJSON, schemaErr = json.Marshal(flagsSchema())
		if schemaErr != nil {
			return
		}
		compiler := jsonschema.NewCompiler()
		if schemaErr = compiler.AddResource(schemaName+".json", bytes.NewReader(schemaJSON)); schemaErr != nil {
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaName + ".json")
	})
	return compiledSchema, schemaJSON, schemaErr
}

// LLMClientConfig configures DefaultLLMClient. Zero values select defaults.
type LLMClientConfig struct {
	// APIKey falls back to OPENAI_API_KEY when nil
	APIKey       *string
	SystemPrompt string
	Model        string
	// BaseURL selects any OpenAI-compatible host, e.g. https://api.groq.com/openai/v1
	BaseURL string
	// Temperature is omitted from requests when nil; some models reject it
	Temperature *float32
	// JSONObjectMode asks for response_format json_object instead of a strict
	// json_schema, for hosts without structured outputs
	JSONObjectMode bool
	DumpRequests   bool
	Logger         *slog.Logger
}

// DefaultLLMClient classifies ingredients with an OpenAI-compatible chat model
type DefaultLLMClient struct {
	client         openai.LanguageModelClient
	systemPrompt   string
	model          string
	temperature    *float32
	jsonObjectMode bool
	logger         *slog.Logger
}

// NewDefaultLLMClient creates the chat-backed ingredient classifier
func NewDefaultLLMClient(cfg LLMClientConfig) (*DefaultLLMClient, error) {
	key, err := loadEnvVar(cfg.APIKey, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	if _, _, err := loadSchema(); err != nil {
		return nil, fmt.Errorf("compile classifier schema: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	chat := openai.NewClient(*key)
	chat.SetBaseURL(cfg.BaseURL)
	chat.DumpRequests = cfg.DumpRequests
	chat.Logger = logger

	instance := DefaultLLMClient{
		client:         chat,
		systemPrompt:   defaultSystemPrompt,
		model:          defaultModel,
		temperature:    cfg.Temperature,
		jsonObjectMode: cfg.JSONObjectMode,
		logger:         logger,
	}
	if cfg.SystemPrompt != "" {
		instance.systemPrompt = cfg.SystemPrompt
	}
	if cfg.Model != "" {
		instance.model = cfg.Model
	}

	return &instance, nil
}

func (c *DefaultLLMClient) responseFormat() *openai.ResponseFormat {
	if c.jsonObjectMode {
		return &openai.ResponseFormat{Type: openai.ResponseFormatJSONObject}
	}
	_, raw, _ := loadSchema()
	return &openai.ResponseFormat{
		Type: openai.ResponseFormatJSONSchema,
		JsonSchema: &openai.JSONSchema{
			Name:   schemaName,
			Strict: true,
			Schema: raw,
		},
	}
}

// Classify implements resolver.ClassifierClient. The answer must cover every
// filter; anything else is reported as ErrInvalidClassification.
func (c *DefaultLLMClient) Classify(ctx context.Context, ingredient string) (types.FlagSet, error) {
	userPrompt := fmt.Sprintf("Ingredient: %q", ingredient)
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatMessage{
			{Role: openai.MessageRoleSystem, Content: &c.systemPrompt},
			{Role: openai.MessageRoleUser, Content: &userPrompt},
		},
		MaxCompletionTokens: 200,
		Temperature:         c.temperature,
		ResponseFormat:      c.responseFormat(),
	}

	resp, err := c.client.ChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to get LLM response: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		if len(resp.Choices) > 0 && resp.Choices[0].Message.Refusal != nil {
			return nil, fmt.Errorf("%w: model refused: %s", ErrInvalidClassification, *resp.Choices[0].Message.Refusal)
		}
		return nil, fmt.Errorf("%w: no response from LLM", ErrInvalidClassification)
	}

	flags, err := ParseFlags(*resp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("classifier returned malformed flags", "ingredient", ingredient, "model", c.model, "error", err)
		return nil, err
	}
	return flags, nil
}

// stripCodeFence removes a surrounding ```json ... ``` block if present
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimPrefix(text, "json")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

// ParseFlags validates a classifier answer against the flag schema and maps
// its 0/1 values onto a complete FlagSet.
func ParseFlags(content string) (types.FlagSet, error) {
	schema, _, err := loadSchema()
	if err != nil {
		return nil, err
	}

	data := []byte(stripCodeFence(content))
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: not JSON: %v", ErrInvalidClassification, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClassification, err)
	}

	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClassification, err)
	}

	flags := make(types.FlagSet, len(types.AllFilters))
	for _, f := range types.AllFilters {
		flag, err := types.FlagFromInt(raw[string(f)])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidClassification, f, err)
		}
		flags[f] = flag
	}
	return flags, nil
}
