package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ChatStream/models"
	"ChatStream/pkg/config"
)

// SystemInstruction is the formatting policy sent with every conversation.
const SystemInstruction = `Always follow this response structure strictly:
1. Start with a short 2-3 line simple explanation.
2. Then divide the answer into clear sections using headings.
3. Use bullet points instead of long paragraphs.
4. Keep each bullet point short (max 2-3 lines).
5. Add spacing between sections.
6. Use examples wherever possible.
7. Avoid long continuous paragraphs.
8. If explaining a technical concept:
   - Add a "How it works" section
   - Add a "Why it matters" section
   - Add a "When to use it" section (if applicable)
9. Keep formatting clean and readable.
10. Do NOT write everything in one paragraph.
Make responses structured, modern, and easy to scan.`

// Turn is one role-tagged entry of the history sent to a backend.
type Turn struct {
	Role models.Role
	Text string
}

// FragmentStream yields generated text in emission order. Recv returns io.EOF
// once the backend signals the end of the stream; any other error is terminal.
// A stream cannot be restarted.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

type Generator interface {
	Generate(ctx context.Context, history []Turn) (string, error)
	GenerateStream(ctx context.Context, history []Turn) (FragmentStream, error)
	// Summarize runs a single-shot prompt without the system instruction.
	Summarize(ctx context.Context, prompt string) (string, error)
}

// ErrGeneration is matched by every *GenerationError.
var ErrGeneration = errors.New("generation failed")

type GenerationError struct {
	Provider string
	Op       string
	Status   int // upstream HTTP status, 0 if none
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// Quota reports whether the upstream rejected the call for rate or quota reasons.
func (e *GenerationError) Quota() bool {
	return e.Status == http.StatusTooManyRequests
}

func genErr(provider, op string, status int, err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return err
	}
	return &GenerationError{Provider: provider, Op: op, Status: status, Err: err}
}

// NewGenerator builds the backend selected by GENERATION_PROVIDER.
func NewGenerator(cfg *config.Config) (Generator, error) {
	switch cfg.GenerationProvider {
	case "gemini":
		return NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL, nil), nil
	case "openai":
		return NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), nil
	case "local":
		return NewLocalGenerator(40 * time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider %q", cfg.GenerationProvider)
	}
}
