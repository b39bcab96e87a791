package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"docqa-go/internal/config"
	"docqa-go/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel 记录收到的消息与选项，并按 chunks 流式返回。
type fakeModel struct {
	chunks   []string
	err      error
	delay    time.Duration
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.chunks {
		if f.opts.StreamingFunc != nil {
			if err := f.opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: strings.Join(f.chunks, "")}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

type recordingWriter struct {
	frames []string
	err    error
}

func (w *recordingWriter) WriteMessage(_ int, data []byte) error {
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, string(data))
	return nil
}

func TestStreamChatMessages(t *testing.T) {
	model := &fakeModel{chunks: []string{"Hel", "lo"}}
	client := New(model, config.LLMGenerationConfig{Temperature: 0.3, MaxTokens: 128}, time.Second)
	w := &recordingWriter{}

	answer, err := client.StreamChatMessages(context.Background(), []Message{
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: "question?"},
	}, nil, w)
	require.NoError(t, err)
	assert.Equal(t, "Hello", answer)
	assert.Equal(t, []string{"Hel", "lo"}, w.frames)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.TextContent{Text: "question?"}, model.messages[1].Parts[0])
	assert.Equal(t, 0.3, model.opts.Temperature)
	assert.Equal(t, 128, model.opts.MaxTokens)
}

func TestStreamChatMessages_ExplicitParamsWin(t *testing.T) {
	model := &fakeModel{chunks: []string{"ok"}}
	client := New(model, config.LLMGenerationConfig{Temperature: 0.3}, time.Second)
	temp := 0.9
	_, err := client.StreamChatMessages(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, &GenerationParams{Temperature: &temp}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.9, model.opts.Temperature)
	assert.Nil(t, model.opts.StreamingFunc)
}

func TestStreamChatMessages_ProviderError(t *testing.T) {
	cause := errors.New("503 upstream")
	client := New(&fakeModel{err: cause}, config.LLMGenerationConfig{}, time.Second)
	_, err := client.StreamChatMessages(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil, nil)
	assert.ErrorIs(t, err, errs.ErrSynthesis)
	assert.ErrorIs(t, err, cause)
}

func TestStreamChatMessages_Timeout(t *testing.T) {
	client := New(&fakeModel{delay: time.Second}, config.LLMGenerationConfig{}, 20*time.Millisecond)
	_, err := client.StreamChatMessages(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil, nil)
	assert.ErrorIs(t, err, errs.ErrSynthesis)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStreamChatMessages_WriterFailureAborts(t *testing.T) {
	client := New(&fakeModel{chunks: []string{"a", "b"}}, config.LLMGenerationConfig{}, time.Second)
	_, err := client.StreamChatMessages(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil, &recordingWriter{err: errors.New("closed")})
	assert.ErrorIs(t, err, errs.ErrSynthesis)
}

func TestStreamChatMessages_UnknownRole(t *testing.T) {
	client := New(&fakeModel{}, config.LLMGenerationConfig{}, time.Second)
	_, err := client.StreamChatMessages(context.Background(), []Message{{Role: "tool", Content: "q"}}, nil, nil)
	assert.ErrorIs(t, err, errUnknownRole)
}
