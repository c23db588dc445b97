package services

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

	"ChatStream/models"

	"github.com/rs/zerolog/log"
)

// GeminiService talks to the Gemini REST API (generateContent and
// streamGenerateContent with server-sent events).
type GeminiService struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

var ErrGeminiKeyMissing = errors.New("GEMINI_API_KEY is not set")

func NewGeminiService(apiKey, model, baseURL string, client *http.Client) *GeminiService {
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.5-flash"
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &GeminiService{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

var _ Generator = (*GeminiService)(nil)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  map[string]any  `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// text concatenates the parts of the first candidate.
func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// toGeminiContents relabels assistant turns as "model", the role name the
// Gemini API expects.
func toGeminiContents(history []Turn) []geminiContent {
	contents := make([]geminiContent, 0, len(history))
	for _, t := range history {
		role := "user"
		if t.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: t.Text}}})
	}
	return contents
}

func (s *GeminiService) chatRequest(history []Turn) geminiRequest {
	return geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: SystemInstruction}}},
		Contents:          toGeminiContents(history),
		GenerationConfig: map[string]any{
			"temperature":     0.7,
			"maxOutputTokens": 4096,
			"topK":            40,
			"topP":            0.95,
		},
	}
}

func (s *GeminiService) Generate(ctx context.Context, history []Turn) (string, error) {
	return s.generateContent(ctx, "generate", s.chatRequest(history))
}

func (s *GeminiService) Summarize(ctx context.Context, prompt string) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: map[string]any{
			"temperature":     0.2,
			"maxOutputTokens": 32,
		},
	}
	return s.generateContent(ctx, "summarize", req)
}

func (s *GeminiService) GenerateStream(ctx context.Context, history []Turn) (FragmentStream, error) {
	resp, err := s.post(ctx, "stream", "streamGenerateContent?alt=sse", s.chatRequest(history), "text/event-stream")
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	return &geminiStream{ctx: ctx, body: resp.Body, scanner: scanner}, nil
}

func (s *GeminiService) generateContent(ctx context.Context, op string, body geminiRequest) (string, error) {
	resp, err := s.post(ctx, op, "generateContent", body, "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", genErr("gemini", op, 0, fmt.Errorf("read error: %w", err))
	}
	var parsed geminiResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return "", genErr("gemini", op, resp.StatusCode, fmt.Errorf("malformed response: %w", err))
	}
	if parsed.Error != nil {
		return "", genErr("gemini", op, parsed.Error.Code, errors.New(parsed.Error.Message))
	}
	if len(parsed.Candidates) == 0 {
		if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
			return "", genErr("gemini", op, 0, fmt.Errorf("prompt blocked: %s", parsed.PromptFeedback.BlockReason))
		}
		return "", genErr("gemini", op, 0, errors.New("malformed response: no candidates"))
	}
	return parsed.text(), nil
}

// post sends a JSON request and returns the response when its status is 2xx.
func (s *GeminiService) post(ctx context.Context, op, method string, body geminiRequest, accept string) (*http.Response, error) {
	if strings.TrimSpace(s.apiKey) == "" {
		log.Warn().Str("component", "gemini").Msg("GEMINI_API_KEY is not set")
		return nil, genErr("gemini", op, 0, ErrGeminiKeyMissing)
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, genErr("gemini", op, 0, err)
	}

	url := fmt.Sprintf("%s/models/%s:%s", s.baseURL, s.model, method)
	log.Debug().Str("component", "gemini").Str("model", s.model).Str("op", op).Msg("POST " + method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, genErr("gemini", op, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("x-goog-api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, genErr("gemini", op, 0, ctxErr)
		}
		return nil, genErr("gemini", op, 0, fmt.Errorf("http error: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warn().Str("component", "gemini").Int("status", resp.StatusCode).Str("op", op).Msg("upstream rejected request")
		return nil, genErr("gemini", op, resp.StatusCode, errors.New(strings.TrimSpace(string(b))))
	}
	return resp, nil
}

type geminiStream struct {
	ctx     context.Context
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (s *geminiStream) Recv() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			// blank separators and other SSE fields
			continue
		}
		payload := strings.TrimSpace(line[len("data:"):])
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", genErr("gemini", "stream", 0, fmt.Errorf("malformed stream frame: %w", err))
		}
		if chunk.Error != nil {
			return "", genErr("gemini", "stream", chunk.Error.Code, errors.New(chunk.Error.Message))
		}
		if txt := chunk.text(); txt != "" {
			return txt, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return "", genErr("gemini", "stream", 0, ctxErr)
		}
		return "", genErr("gemini", "stream", 0, fmt.Errorf("stream read error: %w", err))
	}
	return "", io.EOF
}

func (s *geminiStream) Close() error {
	return s.body.Close()
}
