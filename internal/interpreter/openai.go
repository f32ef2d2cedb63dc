// Package interpreter turns natural-language questions into SQL or a
// clarifying question.
package interpreter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"duck-ask/internal/domain"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

const systemPrompt = `You translate questions about data into a single read-only SQL query.
Data source %q:
%s

Reply with one JSON object and nothing else:
{"ambiguous": bool, "question": string, "suggestions": [string], "sql": string}
- If the question cannot be answered without more detail (time period, metric, grouping), set
  "ambiguous" to true, ask ONE short "question" and offer up to four short "suggestions".
- Otherwise set "ambiguous" to false and put the query in "sql". Alias aggregate columns with
  readable names. Put the category column first and the measure second.`

// Describer resolves the schema description of a data source.
type Describer interface {
	Describe(name string) (string, error)
}

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for compatible gateways and tests
}

// OpenAI asks a chat model to interpret questions.
type OpenAI struct {
	client  *openai.Client
	model   string
	sources Describer
	logger  *slog.Logger
}

// Compile-time check.
var _ domain.Interpreter = (*OpenAI)(nil)

// NewOpenAI creates an interpreter backed by the chat completions API.
func NewOpenAI(cfg OpenAIConfig, sources Describer, logger *slog.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.ErrValidation("OPENAI_API_KEY is required for the openai interpreter")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		sources: sources,
		logger:  logger.With("component", "openai-interpreter", "model", cfg.Model),
	}, nil
}

// modelReply is the JSON object the model is instructed to return.
type modelReply struct {
	Ambiguous   bool     `json:"ambiguous"`
	Question    string   `json:"question"`
	Suggestions []string `json:"suggestions"`
	SQL         string   `json:"sql"`
}

// Interpret sends the question and every prior clarification turn as one
// conversation and parses the JSON reply.
func (o *OpenAI) Interpret(ctx context.Context, req domain.InterpretRequest) (*domain.Interpretation, error) {
	description, err := o.sources.Describe(req.DataSourceRef)
	if err != nil {
		return nil, domain.ErrInterpretation("describe data source: %v", err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    buildMessages(req, description),
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.ErrTimeout("chat completion: %v", err)
		}
		return nil, domain.ErrInterpretation("chat completion: %v", err)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.ErrInterpretation("model returned no choices")
	}
	o.logger.DebugContext(ctx, "model replied",
		"finish_reason", resp.Choices[0].FinishReason, "total_tokens", resp.Usage.TotalTokens)

	return parseReply(resp.Choices[0].Message.Content)
}

func buildMessages(req domain.InterpretRequest, description string) []openai.ChatCompletionMessage {
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, req.DataSourceRef, description)},
		{Role: openai.ChatMessageRoleUser, Content: req.RawText},
	}
	for _, turn := range req.PriorTurns {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: turn.QuestionText})
		if turn.AnswerText != nil {
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: *turn.AnswerText})
		}
	}
	return msgs
}

func parseReply(content string) (*domain.Interpretation, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var reply modelReply
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, domain.ErrInterpretation("model reply is not valid JSON: %v", err)
	}

	if reply.Ambiguous {
		if strings.TrimSpace(reply.Question) == "" {
			return nil, domain.ErrInterpretation("model reported ambiguity without a question")
		}
		return &domain.Interpretation{
			Ambiguous:   true,
			Question:    strings.TrimSpace(reply.Question),
			Suggestions: reply.Suggestions,
		}, nil
	}
	if strings.TrimSpace(reply.SQL) == "" {
		return nil, domain.ErrInterpretation("model reply has neither a question nor sql")
	}
	return &domain.Interpretation{GeneratedQueryText: strings.TrimSpace(reply.SQL)}, nil
}
