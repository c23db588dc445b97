// Package chattest provides a scripted generator and a recording sink for
// pipeline and handler tests.
package chattest

import (
	"context"
	"io"
	"strings"
	"sync"

	"ChatStream/pkg/services"
)

// Generator replays Fragments on every stream. After the last fragment it
// blocks until the context ends when Hang is set, returns StreamErr when set,
// and io.EOF otherwise.
type Generator struct {
	Fragments    []string
	StreamErr    error
	OpenErr      error
	Hang         bool
	Title        string
	SummarizeErr error

	mu        sync.Mutex
	histories [][]services.Turn
	prompts   []string
}

var _ services.Generator = (*Generator)(nil)

func (g *Generator) Generate(ctx context.Context, history []services.Turn) (string, error) {
	g.record(history)
	if g.OpenErr != nil {
		return "", g.OpenErr
	}
	return strings.Join(g.Fragments, ""), nil
}

func (g *Generator) GenerateStream(ctx context.Context, history []services.Turn) (services.FragmentStream, error) {
	g.record(history)
	if g.OpenErr != nil {
		return nil, g.OpenErr
	}
	return &stream{ctx: ctx, g: g}, nil
}

func (g *Generator) Summarize(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.SummarizeErr != nil {
		return "", g.SummarizeErr
	}
	return g.Title, nil
}

func (g *Generator) record(history []services.Turn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.histories = append(g.histories, append([]services.Turn(nil), history...))
}

// Histories returns the history passed to each call, in call order.
func (g *Generator) Histories() [][]services.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]services.Turn(nil), g.histories...)
}

func (g *Generator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

type stream struct {
	ctx context.Context
	g   *Generator
	i   int
}

func (s *stream) Recv() (string, error) {
	if s.i < len(s.g.Fragments) {
		f := s.g.Fragments[s.i]
		s.i++
		return f, nil
	}
	if s.g.Hang {
		<-s.ctx.Done()
		return "", &services.GenerationError{Provider: "scripted", Op: "stream", Err: s.ctx.Err()}
	}
	if s.g.StreamErr != nil {
		return "", s.g.StreamErr
	}
	return "", io.EOF
}

func (s *stream) Close() error { return nil }

// Sink records everything the pipeline sends to the caller.
type Sink struct {
	WriteErr error
	// OnWrite runs after each successful write with the fragment index.
	OnWrite func(i int)

	mu             sync.Mutex
	conversationID uint
	opened         int
	writes         []string
	failed         string
	finished       bool
}

func (s *Sink) Open(conversationID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = conversationID
	s.opened++
	return nil
}

func (s *Sink) Write(fragment string) error {
	if s.WriteErr != nil {
		return s.WriteErr
	}
	s.mu.Lock()
	s.writes = append(s.writes, fragment)
	n := len(s.writes)
	s.mu.Unlock()
	if s.OnWrite != nil {
		s.OnWrite(n - 1)
	}
	return nil
}

func (s *Sink) Fail(marker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = marker
	return nil
}

func (s *Sink) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	return nil
}

func (s *Sink) ConversationID() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Sink) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened > 0
}

func (s *Sink) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

// Body is every fragment plus the failure marker, as the caller saw it.
func (s *Sink) Body() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.writes, "") + s.failed
}

func (s *Sink) Failed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

func (s *Sink) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}
