package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"agent-team-go/internal/logger"
	"agent-team-go/internal/tracing"
)

const (
	// DefaultAPIURL 阿里云百炼 OpenAI 兼容接口
	DefaultAPIURL   = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	DefaultModel    = "qwen-plus"
	defaultTimeout  = 120 * time.Second
	maxErrorBodyLen = 512
)

var llmTracer = otel.Tracer("agent-team-go/llm")

// ErrEmptyChoices 接口返回了空的 choices
var ErrEmptyChoices = errors.New("模型返回空结果")

// APIError 接口返回非200状态码
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("模型接口请求失败，状态码 %d: %s", e.StatusCode, e.Body)
}

// Temporary 限流和服务端错误可以重试
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config OpenAI兼容模型配置
type Config struct {
	APIKey      string
	APIURL      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// ChatModel 通过 OpenAI 兼容的 chat/completions 接口调用模型（默认通义千问）
// 实现 eino 的 model.ToolCallingChatModel
type ChatModel struct {
	cfg        Config
	httpClient *http.Client
	tools      []openAITool
	log        zerolog.Logger
}

// NewChatModel 创建模型客户端
func NewChatModel(cfg Config) (*ChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("API 密钥不能为空")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &ChatModel{
		cfg:        cfg,
		httpClient: client,
		log:        logger.Component("llm"),
	}, nil
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []openAITool  `json:"tools,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
	TopP        *float32      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		Delta        chatMessage `json:"delta"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

// buildRequest 合并默认配置与调用选项
func (m *ChatModel) buildRequest(messages []*schema.Message, stream bool, opts ...model.Option) chatRequest {
	temperature := m.cfg.Temperature
	maxTokens := m.cfg.MaxTokens
	modelName := m.cfg.Model
	options := model.GetCommonOptions(&model.Options{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Model:       &modelName,
	}, opts...)

	req := chatRequest{
		Model:       *options.Model,
		Messages:    toChatMessages(messages),
		Tools:       m.tools,
		Temperature: options.Temperature,
		TopP:        options.TopP,
		Stop:        options.Stop,
		Stream:      stream,
	}
	if options.MaxTokens != nil && *options.MaxTokens > 0 {
		req.MaxTokens = options.MaxTokens
	}
	return req
}

func toChatMessages(messages []*schema.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		cm := chatMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
		for _, tc := range msg.ToolCalls {
			call := openAIToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = tc.Function.Arguments
			cm.ToolCalls = append(cm.ToolCalls, call)
		}
		out = append(out, cm)
	}
	return out
}

// do 发送请求，非200时返回 *APIError
func (m *ChatModel) do(ctx context.Context, payload chatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return resp, nil
}

// Generate 实现 model.BaseChatModel
func (m *ChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	payload := m.buildRequest(messages, false, opts...)

	ctx, span := llmTracer.Start(ctx, "LLM.Generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.model", payload.Model),
			attribute.Int("llm.messages", len(payload.Messages)),
			attribute.Int("llm.tools", len(payload.Tools)),
		))
	defer span.End()

	start := time.Now()
	recordFailure := func(err error) {
		tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeLLM,
			attribute.String("llm.model", payload.Model),
			attribute.Int64("llm.elapsed_ms", time.Since(start).Milliseconds()))
	}

	resp, err := m.do(ctx, payload)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			tracing.RecordHTTPError(span, err, apiErr.StatusCode)
		} else {
			recordFailure(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		recordFailure(err)
		return nil, fmt.Errorf("反序列化模型响应失败: %w", err)
	}
	if len(parsed.Choices) == 0 {
		recordFailure(ErrEmptyChoices)
		return nil, ErrEmptyChoices
	}

	choice := parsed.Choices[0]
	result := fromChatMessage(choice.Message)
	result.ResponseMeta = &schema.ResponseMeta{FinishReason: choice.FinishReason}
	if parsed.Usage != nil {
		result.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
		span.SetAttributes(attribute.Int("llm.total_tokens", parsed.Usage.TotalTokens))
	}

	m.log.Debug().
		Str("model", payload.Model).
		Dur("elapsed", time.Since(start)).
		Int("content_length", len(result.Content)).
		Str("finish_reason", choice.FinishReason).
		Msg("模型调用完成")
	return result, nil
}

func fromChatMessage(cm chatMessage) *schema.Message {
	role := schema.RoleType(cm.Role)
	if role == "" {
		role = schema.Assistant
	}
	msg := &schema.Message{Role: role, Content: cm.Content}
	for _, tc := range cm.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:       tc.ID,
			Function: schema.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return msg
}

// Stream 以 SSE 方式读取增量输出
func (m *ChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	payload := m.buildRequest(messages, true, opts...)
	resp, err := m.do(ctx, payload)
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[*schema.Message](16)
	go func() {
		defer resp.Body.Close()
		defer sw.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var chunk chatResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				sw.Send(nil, fmt.Errorf("解析流式数据失败: %w", err))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := fromChatMessage(chunk.Choices[0].Delta)
			if closed := sw.Send(delta, nil); closed {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			sw.Send(nil, err)
		}
	}()
	return sr, nil
}

// WithTools 返回绑定了工具的新实例，不修改原实例
func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	converted, err := convertTools(tools)
	if err != nil {
		return nil, err
	}
	clone := *m
	clone.tools = converted
	return &clone, nil
}

func convertTools(tools []*schema.ToolInfo) ([]openAITool, error) {
	out := make([]openAITool, 0, len(tools))
	for _, info := range tools {
		if info == nil {
			continue
		}
		params := json.RawMessage(`{"type":"object","properties":{}}`)
		if info.ParamsOneOf != nil {
			s, err := info.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("转换工具 %s 的参数失败: %w", info.Name, err)
			}
			data, err := json.Marshal(s)
			if err != nil {
				return nil, fmt.Errorf("序列化工具 %s 的参数失败: %w", info.Name, err)
			}
			params = data
		}
		out = append(out, openAITool{
			Type:     "function",
			Function: openAIFunction{Name: info.Name, Description: info.Desc, Parameters: params},
		})
	}
	return out, nil
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)
