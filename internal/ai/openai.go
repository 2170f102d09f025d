package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// openAIClient speaks the OpenAI wire format; openrouter reuses it with extra
// headers.
type openAIClient struct {
	name    string
	apiKey  string
	baseURL string
	headers map[string]string
	client  *http.Client
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIChatMsg `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []openAITool    `json:"tools,omitempty"`
}

type openAIChatMsg struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int                `json:"index"`
				ID       string             `json:"id"`
				Function openAIFunctionCall `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *openAIClient) Name() string {
	return p.name
}

func (p *openAIClient) StreamChat(ctx context.Context, model string, req *ChatRequest) (ChatStream, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	reqBody := openAIChatRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages),
		Stream:   true,
	}
	for _, tool := range req.Tools {
		reqBody.Tools = append(reqBody.Tools, openAITool{
			Type: "function",
			Function: openAIToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.JSONSchema(),
			},
		})
	}
	resp, err := p.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return nil, err
	}
	return &openAIStream{
		body:    resp.Body,
		reader:  newSSEReader(resp.Body),
		pending: make(map[int]*ToolCall),
	}, nil
}

func (p *openAIClient) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	_ = taskType
	resp, err := p.post(ctx, "/embeddings", openAIEmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%s response has no embeddings", p.name)
	}
	return out.Data[0].Embedding, nil
}

func (p *openAIClient) post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	endpoint := strings.TrimRight(p.baseURL, "/") + path
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	client := p.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s request failed: %s: %s", p.name, resp.Status, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}

func toOpenAIMessages(msgs []ChatMessage) []openAIChatMsg {
	out := make([]openAIChatMsg, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		item := openAIChatMsg{Role: string(m.Role), Content: &content}
		switch m.Role {
		case RoleAssistant:
			for _, call := range m.ToolCalls {
				item.ToolCalls = append(item.ToolCalls, openAIToolCall{
					ID:       call.ID,
					Type:     "function",
					Function: openAIFunctionCall{Name: call.Name, Arguments: call.Arguments},
				})
			}
			if len(item.ToolCalls) > 0 && content == "" {
				item.Content = nil
			}
		case RoleTool:
			item.ToolCallID = m.ToolCallID
			item.Name = m.ToolName
		}
		out = append(out, item)
	}
	return out
}

type openAIStream struct {
	body    io.ReadCloser
	reader  *sseReader
	pending map[int]*ToolCall
	done    bool
}

func (s *openAIStream) Recv() (*ChatDelta, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		_, data, err := s.reader.Next()
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if errors.Is(err, io.EOF) || data == "[DONE]" {
			s.done = true
			if calls := s.flushCalls(); len(calls) > 0 {
				return &ChatDelta{ToolCalls: calls}, nil
			}
			return nil, io.EOF
		}
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return nil, fmt.Errorf("stream error: %s", chunk.Error.Message)
		}
		delta := &ChatDelta{}
		for _, choice := range chunk.Choices {
			delta.Text += choice.Delta.Content
			delta.Reasoning += choice.Delta.Reasoning + choice.Delta.ReasoningContent
			for _, tc := range choice.Delta.ToolCalls {
				call, ok := s.pending[tc.Index]
				if !ok {
					call = &ToolCall{}
					s.pending[tc.Index] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.Arguments += tc.Function.Arguments
			}
			if choice.FinishReason != nil && *choice.FinishReason == "tool_calls" {
				delta.ToolCalls = append(delta.ToolCalls, s.flushCalls()...)
			}
		}
		if delta.Text == "" && delta.Reasoning == "" && len(delta.ToolCalls) == 0 {
			continue
		}
		return delta, nil
	}
}

func (s *openAIStream) flushCalls() []ToolCall {
	if len(s.pending) == 0 {
		return nil
	}
	idx := make([]int, 0, len(s.pending))
	for i := range s.pending {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	calls := make([]ToolCall, 0, len(idx))
	for _, i := range idx {
		calls = append(calls, *s.pending[i])
	}
	s.pending = make(map[int]*ToolCall)
	return calls
}

func (s *openAIStream) Close() error {
	return s.body.Close()
}

func newOpenAIClient(args interface{}) (*openAIClient, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &openAIClient{
		name:    "openai",
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
	}, nil
}

func createOpenAIFactory(args interface{}) (IChatProvider, error) {
	return newOpenAIClient(args)
}

func createOpenAIEmbedFactory(args interface{}) (IEmbedProvider, error) {
	return newOpenAIClient(args)
}

func init() {
	Register("openai", createOpenAIFactory)
	RegisterEmbed("openai", createOpenAIEmbedFactory)
}
