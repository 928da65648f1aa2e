package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) *ChatModel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	m, err := NewChatModel(Config{APIKey: "test-key", APIURL: srv.URL, Model: "qwen-plus", Temperature: 0.2})
	require.NoError(t, err)
	return m
}

func TestNewChatModel_RequiresKey(t *testing.T) {
	_, err := NewChatModel(Config{})
	assert.Error(t, err)
}

func TestChatModel_Generate(t *testing.T) {
	var got chatRequest
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"你好"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	})

	msg, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("sys"),
		schema.UserMessage("hi"),
	}, model.WithModel("qwen-max"), model.WithMaxTokens(128))
	require.NoError(t, err)

	assert.Equal(t, "你好", msg.Content)
	assert.Equal(t, schema.Assistant, msg.Role)
	require.NotNil(t, msg.ResponseMeta)
	assert.Equal(t, "stop", msg.ResponseMeta.FinishReason)
	require.NotNil(t, msg.ResponseMeta.Usage)
	assert.Equal(t, 5, msg.ResponseMeta.Usage.TotalTokens)

	assert.Equal(t, "qwen-max", got.Model)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, 128, *got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-6)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestChatModel_GenerateStatusError(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "slow down")
	})

	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.True(t, apiErr.Temporary())
	assert.Contains(t, apiErr.Error(), "slow down")
}

func TestChatModel_GenerateEmptyChoices(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	})
	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorIs(t, err, ErrEmptyChoices)
}

func TestChatModel_GenerateFailureRecordedOnSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	// 全局 provider 只委托一次，包内其他测试不要再设置
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	})
	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.ErrorIs(t, err, ErrEmptyChoices)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "llm", attrs["error.type"])
	assert.Equal(t, "qwen-plus", attrs["llm.model"])
	assert.Contains(t, attrs, "llm.elapsed_ms")
}

func TestChatModel_Stream(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"第一", "第二"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":%q}}]}\n\n", part)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	sr, err := m.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	defer sr.Close()

	var sb strings.Builder
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		sb.WriteString(chunk.Content)
	}
	assert.Equal(t, "第一第二", sb.String())
}

func TestChatModel_WithToolsDoesNotMutate(t *testing.T) {
	var got chatRequest
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":"function","function":{"name":"search","arguments":"{\"q\":\"go\"}"}}]}}]}`)
	})

	bound, err := m.WithTools([]*schema.ToolInfo{{
		Name: "search",
		Desc: "搜索",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"q": {Type: schema.String, Desc: "关键词", Required: true},
		}),
	}})
	require.NoError(t, err)
	assert.Empty(t, m.tools)

	msg, err := bound.Generate(context.Background(), []*schema.Message{schema.UserMessage("找点 go 代码")})
	require.NoError(t, err)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "search", got.Tools[0].Function.Name)
	assert.Contains(t, string(got.Tools[0].Function.Parameters), `"q"`)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, `{"q":"go"}`, msg.ToolCalls[0].Function.Arguments)
}

func TestMockChatModel(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockChatModel("a").Add(MockReply{Err: boom})

	msg, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("1")}, model.WithModel("x"))
	require.NoError(t, err)
	assert.Equal(t, "a", msg.Content)
	require.NotNil(t, m.LastOptions().Model)
	assert.Equal(t, "x", *m.LastOptions().Model)

	_, err = m.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, boom)

	_, err = m.Generate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoMoreResponses)

	m.Repeat(MockReply{Content: "again"})
	bound, err := m.WithTools(nil)
	require.NoError(t, err)
	msg, err = bound.Generate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "again", msg.Content)
	assert.Equal(t, 4, m.CallCount())
}
