package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alihassan-coder/perplexity2-agent/internal/httpkit"
)

const defaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqClient is a client for the Groq chat completions API. The wire
// format is OpenAI-compatible: tool arguments travel as JSON strings,
// streaming uses SSE with delta chunks and a [DONE] sentinel.
type GroqClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGroqClient creates a new Groq client. baseURL overrides the API
// endpoint when non-empty (tests, proxies).
func NewGroqClient(apiKey, baseURL string, logger *slog.Logger) *GroqClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = defaultGroqBaseURL
	}
	// Model responses can take significant time before sending headers
	// (long prompts, queueing). Use a generous response header timeout
	// and no global timeout — streaming responses are long-lived, so
	// rely on ctx deadlines/cancellation instead.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &GroqClient{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger.With("provider", "groq"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Groq request/response wire types (OpenAI chat completions format).

type groqRequest struct {
	Model    string           `json:"model"`
	Messages []groqMessage    `json:"messages"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Stream   bool             `json:"stream,omitempty"`
}

type groqMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []groqToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type groqToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Index    *int   `json:"index,omitempty"` // present in stream deltas
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"` // JSON-encoded object
	} `json:"function"`
}

type groqResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      groqMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage groqUsage `json:"usage"`
}

type groqUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type groqStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role      string         `json:"role,omitempty"`
			Content   string         `json:"content,omitempty"`
			ToolCalls []groqToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *groqUsage `json:"usage,omitempty"`
}

// Chat sends a non-streaming chat completion request.
func (c *GroqClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, tools, nil)
}

// ChatStream sends a chat request, optionally streaming tokens via callback.
func (c *GroqClient) ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error) {
	stream := callback != nil

	req := groqRequest{
		Model:    model,
		Messages: convertToGroq(messages),
		Tools:    tools,
		Stream:   stream,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(messages),
		"tools", len(tools),
		"stream", stream,
	)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("groq API error %d: %s", resp.StatusCode, errBody)
	}

	if !stream {
		return c.handleNonStreaming(ctx, resp.Body)
	}
	return c.handleStreaming(resp.Body, callback)
}

// Ping checks if the Groq API is reachable and the key is accepted.
func (c *GroqClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from Groq API: %d", resp.StatusCode)
	}
	return nil
}

func (c *GroqClient) handleNonStreaming(ctx context.Context, body io.Reader) (*ChatResponse, error) {
	var resp groqResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("groq response contained no choices")
	}

	result := &ChatResponse{
		Model:        resp.Model,
		CreatedAt:    time.Unix(resp.Created, 0),
		Message:      convertFromGroq(resp.Choices[0].Message),
		Done:         true,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

func (c *GroqClient) handleStreaming(body io.Reader, callback StreamCallback) (*ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	// Increase scanner buffer for large responses.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		contentBuilder strings.Builder
		// Tool call fragments arrive indexed; arguments accumulate
		// across chunks as partial JSON strings.
		toolNames map[int]string
		toolIDs   map[int]string
		toolArgs  map[int]*strings.Builder
		model     string
		usage     groqUsage
	)
	toolNames = make(map[int]string)
	toolIDs = make(map[int]string)
	toolArgs = make(map[int]*strings.Builder)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk groqStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			contentBuilder.WriteString(delta.Content)
			callback(StreamEvent{Kind: KindToken, Token: delta.Content})
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if tc.ID != "" {
				toolIDs[idx] = tc.ID
			}
			if tc.Function.Name != "" {
				toolNames[idx] = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				if toolArgs[idx] == nil {
					toolArgs[idx] = &strings.Builder{}
				}
				toolArgs[idx].WriteString(tc.Function.Arguments)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	msg := Message{
		Role:    "assistant",
		Content: contentBuilder.String(),
	}
	for idx := 0; idx < len(toolNames); idx++ {
		args := map[string]any{}
		if b := toolArgs[idx]; b != nil && b.Len() > 0 {
			if err := json.Unmarshal([]byte(b.String()), &args); err != nil {
				return nil, fmt.Errorf("decode tool arguments for %q: %w", toolNames[idx], err)
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, NewToolCall(toolIDs[idx], toolNames[idx], args))
	}

	resp := &ChatResponse{
		Model:        model,
		CreatedAt:    time.Now(),
		Message:      msg,
		Done:         true,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
	}
	callback(StreamEvent{Kind: KindDone, Response: resp})
	return resp, nil
}

// convertToGroq maps provider-neutral messages to the OpenAI wire shape.
// Tool arguments are re-encoded from maps to JSON strings.
func convertToGroq(messages []Message) []groqMessage {
	out := make([]groqMessage, 0, len(messages))
	for _, m := range messages {
		gm := groqMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			var gc groqToolCall
			gc.ID = tc.ID
			gc.Type = "function"
			gc.Function.Name = tc.Function.Name
			if tc.Function.Arguments != nil {
				if data, err := json.Marshal(tc.Function.Arguments); err == nil {
					gc.Function.Arguments = string(data)
				}
			}
			gm.ToolCalls = append(gm.ToolCalls, gc)
		}
		out = append(out, gm)
	}
	return out
}

// convertFromGroq maps an OpenAI wire message to the neutral type.
// Unparseable tool arguments degrade to an empty map rather than
// failing the whole response; the tool layer reports missing fields.
func convertFromGroq(m groqMessage) Message {
	msg := Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, gc := range m.ToolCalls {
		args := map[string]any{}
		if gc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(gc.Function.Arguments), &args)
		}
		msg.ToolCalls = append(msg.ToolCalls, NewToolCall(gc.ID, gc.Function.Name, args))
	}
	return msg
}
