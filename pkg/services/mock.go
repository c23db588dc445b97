package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// LocalGenerator answers without any network call. It is used for local
// development and tests; its output is deterministic.
type LocalGenerator struct {
	chunk int
	delay time.Duration
}

func NewLocalGenerator(delay time.Duration) *LocalGenerator {
	return &LocalGenerator{chunk: 24, delay: delay}
}

var _ Generator = (*LocalGenerator)(nil)

func (g *LocalGenerator) Generate(ctx context.Context, history []Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", genErr("local", "generate", 0, err)
	}
	return localAnswer(history), nil
}

func (g *LocalGenerator) GenerateStream(ctx context.Context, history []Turn) (FragmentStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, genErr("local", "stream", 0, err)
	}
	return &localStream{ctx: ctx, parts: splitRunes(localAnswer(history), g.chunk), delay: g.delay}, nil
}

func (g *LocalGenerator) Summarize(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", genErr("local", "summarize", 0, err)
	}
	// the seed is the quoted tail of the title prompt
	seed := prompt
	if i := strings.Index(prompt, `"`); i >= 0 {
		seed = strings.Trim(prompt[i:], `"`)
	}
	words := strings.Fields(seed)
	if len(words) > 4 {
		words = words[:4]
	}
	return strings.Join(words, " "), nil
}

func localAnswer(history []Turn) string {
	var last string
	if len(history) > 0 {
		last = strings.TrimSpace(history[len(history)-1].Text)
	}
	if last == "" {
		last = "your question"
	}
	b := &strings.Builder{}
	fmt.Fprintf(b, "Here is a short answer about: %s\n\n", truncate(last, 60))
	fmt.Fprintln(b, "## Summary")
	fmt.Fprintf(b, "- Topic: %s\n", truncate(last, 60))
	fmt.Fprintf(b, "- Turns so far: %d\n", len(history))
	fmt.Fprintln(b, "\n## Next steps")
	fmt.Fprintln(b, "- Add details so the answer can be more precise.")
	fmt.Fprintln(b, "- Ask a follow-up question.")
	return b.String()
}

type localStream struct {
	ctx   context.Context
	parts []string
	i     int
	delay time.Duration
}

func (s *localStream) Recv() (string, error) {
	if s.i >= len(s.parts) {
		return "", io.EOF
	}
	if s.i > 0 && s.delay > 0 {
		sleepWithContext(s.ctx, s.delay)
	}
	if err := s.ctx.Err(); err != nil {
		return "", genErr("local", "stream", 0, err)
	}
	p := s.parts[s.i]
	s.i++
	return p, nil
}

func (s *localStream) Close() error { return nil }

// splitRunes cuts s into pieces of at most n runes without splitting a
// multi-byte character.
func splitRunes(s string, n int) []string {
	var out []string
	for len(s) > 0 {
		end, count := 0, 0
		for end < len(s) && count < n {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
			count++
		}
		out = append(out, s[:end])
		s = s[end:]
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
