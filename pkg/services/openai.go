package services

import (
	"context"
	"errors"
	"io"
	"strings"

	"ChatStream/models"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIService generates through any OpenAI-compatible chat completions API.
type OpenAIService struct {
	client *openai.Client
	model  string
}

func NewOpenAIService(apiKey, model, baseURL string) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIService{client: openai.NewClientWithConfig(cfg), model: model}
}

var _ Generator = (*OpenAIService)(nil)

func toOpenAIMessages(history []Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: SystemInstruction})
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return msgs
}

// openAIErr keeps the upstream HTTP status when the SDK exposes one.
func openAIErr(op string, err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return genErr("openai", op, status, err)
}

func (s *OpenAIService) complete(ctx context.Context, op string, msgs []openai.ChatCompletionMessage, maxTokens int) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		Messages:  msgs,
		MaxTokens: maxTokens,
	})
	if err != nil {
		log.Warn().Str("component", "openai").Str("op", op).Err(err).Msg("completion failed")
		return "", openAIErr(op, err)
	}
	if len(resp.Choices) == 0 {
		return "", genErr("openai", op, 0, errors.New("malformed response: no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *OpenAIService) Generate(ctx context.Context, history []Turn) (string, error) {
	return s.complete(ctx, "generate", toOpenAIMessages(history), 0)
}

func (s *OpenAIService) Summarize(ctx context.Context, prompt string) (string, error) {
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}}
	return s.complete(ctx, "summarize", msgs, 32)
}

func (s *OpenAIService) GenerateStream(ctx context.Context, history []Turn) (FragmentStream, error) {
	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: toOpenAIMessages(history),
		Stream:   true,
	})
	if err != nil {
		log.Warn().Str("component", "openai").Err(err).Msg("stream open failed")
		return nil, openAIErr("stream", err)
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", openAIErr("stream", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if c := resp.Choices[0].Delta.Content; c != "" {
			return c, nil
		}
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
