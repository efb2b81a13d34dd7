package bot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// LLMConfig configures the chat-completions client.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// LLMClient talks to an OpenAI-compatible chat-completions endpoint.
// It implements Backend.
type LLMClient struct {
	cfg        LLMConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLLMClient builds the backend client with a tuned HTTP transport.
func NewLLMClient(cfg LLMConfig, logger *slog.Logger) *LLMClient {
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}
	return &LLMClient{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   120 * time.Second,
		},
		logger: logger.With("component", "llm"),
	}
}

// Wire types for the chat-completions protocol.

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function wireFunctionDef `json:"function"`
}

type wireFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type wireResponseFormat struct {
	Type       string         `json:"type"`
	JSONSchema wireJSONSchema `json:"json_schema"`
}

type wireJSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

type wireRequest struct {
	Model            string              `json:"model"`
	Messages         []wireMessage       `json:"messages"`
	Tools            []wireTool          `json:"tools,omitempty"`
	Temperature      *float64            `json:"temperature,omitempty"`
	MaxTokens        *int                `json:"max_tokens,omitempty"`
	ResponseFormat   *wireResponseFormat `json:"response_format,omitempty"`
	WebSearchOptions *struct{}           `json:"web_search_options,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete performs one round-trip against the backend.
func (c *LLMClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	wireReq := wireRequest{
		Model:    c.cfg.Model,
		Messages: c.encodeMessages(req),
	}
	for _, def := range req.Tools {
		wireReq.Tools = append(wireReq.Tools, wireTool{
			Type: "function",
			Function: wireFunctionDef{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	if c.cfg.Temperature > 0 {
		t := c.cfg.Temperature
		wireReq.Temperature = &t
	}
	if c.cfg.MaxTokens > 0 {
		n := c.cfg.MaxTokens
		wireReq.MaxTokens = &n
	}
	if len(req.Schema) > 0 {
		wireReq.ResponseFormat = &wireResponseFormat{
			Type:       "json_schema",
			JSONSchema: wireJSONSchema{Name: "response", Schema: req.Schema},
		}
	}
	if req.UseSearch {
		wireReq.WebSearchOptions = &struct{}{}
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, &AIServiceError{Message: "encoding request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &AIServiceError{Message: "building request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &AIServiceError{Message: "backend call failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &AIServiceError{Message: "reading response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &AIServiceError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(respBody), 300),
		}
	}

	var wireResp wireResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return nil, &AIServiceError{Message: "decoding response", Err: err}
	}
	if wireResp.Error != nil {
		return nil, &AIServiceError{Message: wireResp.Error.Message}
	}
	if len(wireResp.Choices) == 0 {
		return nil, &AIServiceError{Message: "response has no choices"}
	}

	choice := wireResp.Choices[0]
	completion := &Completion{Text: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, &AIServiceError{
					Message: fmt.Sprintf("malformed arguments for %s", tc.Function.Name),
					Err:     err,
				}
			}
		}
		completion.FunctionCalls = append(completion.FunctionCalls, FunctionCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	c.logger.Debug("completion received",
		"duration", time.Since(start).Round(time.Millisecond),
		"tool_calls", len(completion.FunctionCalls),
		"finish", choice.FinishReason)
	return completion, nil
}

// encodeMessages flattens the working conversation into wire form.
// Turns carrying media become multi-part content with an inline data URL.
func (c *LLMClient) encodeMessages(req CompletionRequest) []wireMessage {
	messages := make([]wireMessage, 0, len(req.Turns)+1)
	if req.Instructions != "" {
		messages = append(messages, wireMessage{Role: "system", Content: req.Instructions})
	}
	for _, turn := range req.Turns {
		switch turn.Role {
		case "assistant":
			msg := wireMessage{Role: "assistant"}
			if turn.Text != "" {
				msg.Content = turn.Text
			}
			for _, call := range turn.ToolCalls {
				args, err := json.Marshal(call.Args)
				if err != nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
					ID:   call.ID,
					Type: "function",
					Function: wireFunction{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			messages = append(messages, msg)
		case "tool":
			messages = append(messages, wireMessage{
				Role:       "tool",
				ToolCallID: turn.ToolCallID,
				Name:       turn.Name,
				Content:    turn.Text,
			})
		default:
			if turn.Media != nil {
				parts := []map[string]any{}
				if turn.Text != "" {
					parts = append(parts, map[string]any{"type": "text", "text": turn.Text})
				}
				parts = append(parts, map[string]any{
					"type": "image_url",
					"image_url": map[string]any{
						"url": fmt.Sprintf("data:%s;base64,%s",
							turn.Media.MimeType,
							base64.StdEncoding.EncodeToString(turn.Media.Data)),
					},
				})
				messages = append(messages, wireMessage{Role: "user", Content: parts})
			} else {
				messages = append(messages, wireMessage{Role: "user", Content: turn.Text})
			}
		}
	}
	return messages
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
