package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"ChatStream/models"
	"ChatStream/pkg/cache"
	"ChatStream/pkg/services"
	"ChatStream/pkg/store"

	"github.com/rs/zerolog/log"
)

const (
	DefaultTitle     = "New Chat"
	fallbackTitleLen = 30
	maxTitleLen      = 50
)

// Registry creates conversations and lists them for their owner.
type Registry struct {
	store   store.Store
	gen     services.Generator
	titles  *cache.Cache
	timeout time.Duration
}

// NewRegistry wires a registry. titles may be nil to disable memoization.
func NewRegistry(st store.Store, gen services.Generator, titles *cache.Cache, timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Registry{store: st, gen: gen, titles: titles, timeout: timeout}
}

// Create persists a conversation for ownerID titled after seed. Title
// generation is best-effort and never fails creation.
func (r *Registry) Create(ctx context.Context, ownerID uint, seed string) (*models.Conversation, error) {
	conv, err := r.store.CreateConversation(ctx, ownerID, r.Title(ctx, seed))
	if err != nil {
		return nil, classify(ErrPersistence, err)
	}
	log.Debug().Str("component", "registry").Uint("conversation_id", conv.ID).Str("title", conv.Title).Msg("conversation created")
	return conv, nil
}

// Title summarizes seed into a short title, falling back to FallbackTitle.
func (r *Registry) Title(ctx context.Context, seed string) string {
	if strings.TrimSpace(seed) == "" {
		return DefaultTitle
	}
	key := cache.KeyFromStrings("title", seed)
	if t, ok := r.titles.GetString(key); ok {
		return t
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	out, err := r.gen.Summarize(tctx, TitlePrompt(seed))
	if err != nil {
		log.Warn().Err(err).Str("component", "registry").Msg("title generation failed, using fallback")
		return FallbackTitle(seed)
	}
	title := cleanTitle(out)
	if title == "" {
		return FallbackTitle(seed)
	}
	r.titles.Set(key, title)
	return title
}

// ListFor returns the owner's conversations, most recent activity first.
func (r *Registry) ListFor(ctx context.Context, ownerID uint, query string) ([]store.ConversationSummary, error) {
	list, err := r.store.ListConversations(ctx, ownerID, query)
	if err != nil {
		return nil, classify(ErrPersistence, err)
	}
	return list, nil
}

func TitlePrompt(seed string) string {
	return fmt.Sprintf("Summarize this user message into a very short chat title (2-4 words maximum). "+
		"Return ONLY the title text, no quotes or punctuation: %q", seed)
}

// FallbackTitle is seed cut to 30 characters, with "..." when it was longer.
func FallbackTitle(seed string) string {
	if strings.TrimSpace(seed) == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(seed) <= fallbackTitleLen {
		return seed
	}
	return string([]rune(seed)[:fallbackTitleLen]) + "..."
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxTitleLen {
		s = strings.TrimSpace(string([]rune(s)[:maxTitleLen]))
	}
	return s
}
