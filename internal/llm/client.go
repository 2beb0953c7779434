// Package llm adapts the external language-model service behind two
// narrow capabilities: text-only JSON generation and multimodal
// (image/PDF + text) JSON generation. Callers treat failures as typed
// external errors and decide themselves whether a fallback exists.
package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared/constant"

	"ap-reconciliation-engine/pkg/errors"
	"ap-reconciliation-engine/pkg/logger"
)

// DefaultTimeout bounds every call to the provider
const DefaultTimeout = 60 * time.Second

// Attachment is one binary blob passed to the vision model
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// Client is the language-model contract the engine programs against
type Client interface {
	// GenerateJSON sends a text prompt and returns the raw JSON the
	// model produced against the given strict schema.
	GenerateJSON(ctx context.Context, prompt string, schemaName string, schema map[string]any) ([]byte, error)

	// GenerateJSONWithAttachments is the multimodal variant: image or
	// PDF attachments accompany the prompt.
	GenerateJSONWithAttachments(ctx context.Context, prompt string, attachments []Attachment, schemaName string, schema map[string]any) ([]byte, error)
}

// OpenAIClient implements Client against the OpenAI Responses API
type OpenAIClient struct {
	client  *openai.Client
	model   openai.ChatModel
	timeout time.Duration
	log     logger.Logger
}

// Option customizes an OpenAIClient
type Option func(*OpenAIClient)

// WithModel overrides the default model
func WithModel(model openai.ChatModel) Option {
	return func(c *OpenAIClient) { c.model = model }
}

// WithTimeout overrides the default per-call timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *OpenAIClient) { c.timeout = timeout }
}

// NewOpenAIClient creates a client authenticated with the given API key
func NewOpenAIClient(apiKey string, opts ...Option) *OpenAIClient {
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(3),
	)

	c := &OpenAIClient{
		client:  &client,
		model:   openai.ChatModelGPT4o,
		timeout: DefaultTimeout,
		log:     logger.WithComponent("llm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateJSON sends a text-only prompt expecting strict-schema JSON
func (c *OpenAIClient) GenerateJSON(ctx context.Context, prompt string, schemaName string, schema map[string]any) ([]byte, error) {
	input := responses.ResponseNewParamsInputUnion{
		OfString: openai.String(prompt),
	}
	return c.generate(ctx, input, schemaName, schema)
}

// GenerateJSONWithAttachments sends the prompt plus attachments to the
// vision model.
func (c *OpenAIClient) GenerateJSONWithAttachments(ctx context.Context, prompt string, attachments []Attachment, schemaName string, schema map[string]any) ([]byte, error) {
	if len(attachments) == 0 {
		return c.GenerateJSON(ctx, prompt, schemaName, schema)
	}

	contentList := responses.ResponseInputMessageContentListParam{
		responses.ResponseInputContentParamOfInputText(prompt),
	}
	for _, att := range attachments {
		b64 := base64.StdEncoding.EncodeToString(att.Data)
		dataURL := fmt.Sprintf("data:%s;base64,%s", att.ContentType, b64)
		contentList = append(contentList, responses.ResponseInputContentUnionParam{
			OfInputImage: &responses.ResponseInputImageParam{
				Detail:   responses.ResponseInputImageDetailAuto,
				ImageURL: param.NewOpt(dataURL),
			},
		})
	}

	input := responses.ResponseNewParamsInputUnion{
		OfInputItemList: []responses.ResponseInputItemUnionParam{
			responses.ResponseInputItemParamOfMessage(contentList, responses.EasyInputMessageRoleUser),
		},
	}
	return c.generate(ctx, input, schemaName, schema)
}

func (c *OpenAIClient) generate(ctx context.Context, input responses.ResponseNewParamsInputUnion, schemaName string, schema map[string]any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := responses.ResponseNewParams{
		Model: c.model,
		Input: input,
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:   constant.JSONSchema("json_schema"),
					Name:   schemaName,
					Strict: openai.Bool(true),
					Schema: schema,
				},
			},
		},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.ExternalError(errors.CodeExternalTimeout, "llm", err)
		}
		return nil, errors.ExternalError(errors.CodeExternalFailure, "llm", err)
	}

	if usage := resp.Usage; usage.TotalTokens > 0 {
		c.log.WithFields(logger.Fields{
			"prompt_tokens":     usage.InputTokens,
			"completion_tokens": usage.OutputTokens,
		}).Debug("LLM call completed")
	}

	content := resp.OutputText()
	if content == "" {
		return nil, errors.ExternalError(errors.CodeExternalFailure, "llm",
			fmt.Errorf("empty response content"))
	}

	if !json.Valid([]byte(content)) {
		return nil, errors.ExternalError(errors.CodeExternalFailure, "llm",
			fmt.Errorf("model output is not valid JSON"))
	}

	return []byte(content), nil
}
