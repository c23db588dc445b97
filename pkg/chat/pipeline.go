// Package chat implements the message pipeline: persist the user turn,
// rebuild history, stream a generated reply to the caller and persist it once
// the stream ends. Edit-and-regenerate rewrites a user turn, drops every turn
// after it and runs the same generation path.
package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"ChatStream/models"
	"ChatStream/pkg/lock"
	"ChatStream/pkg/services"
	"ChatStream/pkg/store"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateAuthorizing             State = "authorizing"
	StatePersistingUserTurn      State = "persisting_user_turn"
	StateFetchingHistory         State = "fetching_history"
	StateGenerating              State = "generating"
	StateRelaying                State = "relaying"
	StatePersistingAssistantTurn State = "persisting_assistant_turn"
	StateDone                    State = "done"
	StateFailed                  State = "failed"
)

type Options struct {
	GenerationTimeout time.Duration
	MaxMessageChars   int
	MaxHistoryTurns   int
}

func (o Options) withDefaults() Options {
	if o.GenerationTimeout <= 0 {
		o.GenerationTimeout = 90 * time.Second
	}
	if o.MaxMessageChars <= 0 {
		o.MaxMessageChars = 32000
	}
	if o.MaxHistoryTurns <= 0 {
		o.MaxHistoryTurns = 100
	}
	return o
}

type Pipeline struct {
	store    store.Store
	registry *Registry
	gen      services.Generator
	locker   lock.Locker
	opts     Options
}

func NewPipeline(st store.Store, registry *Registry, gen services.Generator, locker lock.Locker, opts Options) *Pipeline {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Pipeline{store: st, registry: registry, gen: gen, locker: locker, opts: opts.withDefaults()}
}

// SendRequest targets an existing conversation, or creates one when
// ConversationID is nil.
type SendRequest struct {
	ConversationID *uint
	CallerID       uint
	Text           string
}

type EditRequest struct {
	ConversationID uint
	TurnID         uint
	CallerID       uint
	Text           string
}

// Outcome describes how far a request got. It is returned on failure too.
type Outcome struct {
	ConversationID uint
	Created        *models.Conversation // set when Send created the conversation
	UserTurn       *models.Message
	AssistantTurn  *models.Message
	State          State
	FailedAt       State // state the request failed in, empty on success
	Committed      bool  // bytes reached the caller
	Fragments      int
}

func (o *Outcome) enter(l zerolog.Logger, s State) {
	o.State = s
	l.Debug().Str("state", string(s)).Msg("pipeline transition")
}

func (p *Pipeline) logger(op string, conversationID uint, caller uint) zerolog.Logger {
	return log.With().
		Str("component", "pipeline").
		Str("op", op).
		Uint("conversation_id", conversationID).
		Uint("caller_id", caller).
		Logger()
}

// Send appends a user turn and streams a generated reply into sink.
func (p *Pipeline) Send(ctx context.Context, req SendRequest, sink Sink) (*Outcome, error) {
	out := &Outcome{}
	var convID uint
	if req.ConversationID != nil {
		convID = *req.ConversationID
	}
	l := p.logger("send", convID, req.CallerID)
	out.enter(l, StateAuthorizing)

	if err := p.validateText(req.Text); err != nil {
		return p.fail(l, out, err)
	}

	if req.ConversationID == nil {
		conv, err := p.registry.Create(ctx, req.CallerID, req.Text)
		if err != nil {
			return p.fail(l, out, err)
		}
		out.Created = conv
		convID = conv.ID
		l = l.With().Uint("conversation_id", convID).Logger()
	} else if err := p.authorize(ctx, convID, req.CallerID); err != nil {
		return p.fail(l, out, err)
	}
	out.ConversationID = convID

	unlock, err := p.lock(ctx, convID)
	if err != nil {
		return p.fail(l, out, err)
	}
	defer unlock()

	out.enter(l, StatePersistingUserTurn)
	turn, err := p.store.Append(ctx, convID, models.RoleUser, req.Text)
	if err != nil {
		return p.fail(l, out, classify(ErrPersistence, err))
	}
	out.UserTurn = turn

	return p.generate(ctx, l, out, sink)
}

// EditAndRegenerate overwrites a user turn, deletes every later turn and
// streams a fresh reply into sink.
func (p *Pipeline) EditAndRegenerate(ctx context.Context, req EditRequest, sink Sink) (*Outcome, error) {
	out := &Outcome{ConversationID: req.ConversationID}
	l := p.logger("edit", req.ConversationID, req.CallerID).With().Uint("turn_id", req.TurnID).Logger()
	out.enter(l, StateAuthorizing)

	if err := p.validateText(req.Text); err != nil {
		return p.fail(l, out, err)
	}
	if err := p.authorize(ctx, req.ConversationID, req.CallerID); err != nil {
		return p.fail(l, out, err)
	}

	unlock, err := p.lock(ctx, req.ConversationID)
	if err != nil {
		return p.fail(l, out, err)
	}
	defer unlock()

	// the target is checked under the lock so a concurrent edit cannot delete it in between
	turn, err := p.store.GetTurn(ctx, req.TurnID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return p.fail(l, out, fmt.Errorf("%w: turn %d does not exist", ErrInvalidOperation, req.TurnID))
	case err != nil:
		return p.fail(l, out, classify(ErrPersistence, err))
	case turn.ConversationID != req.ConversationID:
		return p.fail(l, out, fmt.Errorf("%w: turn %d is not part of conversation %d", ErrInvalidOperation, req.TurnID, req.ConversationID))
	case turn.Role != models.RoleUser:
		return p.fail(l, out, fmt.Errorf("%w: turn %d is an %s turn", ErrInvalidOperation, req.TurnID, turn.Role))
	}

	out.enter(l, StatePersistingUserTurn)
	if err := p.store.Overwrite(ctx, req.TurnID, req.Text); err != nil {
		if errors.Is(err, store.ErrInvalidOperation) {
			return p.fail(l, out, classify(ErrInvalidOperation, err))
		}
		return p.fail(l, out, classify(ErrPersistence, err))
	}
	removed, err := p.store.DeleteAfter(ctx, req.ConversationID, req.TurnID)
	if err != nil {
		return p.fail(l, out, classify(ErrPersistence, err))
	}
	l.Debug().Int64("removed", removed).Msg("history truncated")
	turn.Content = req.Text
	out.UserTurn = turn

	return p.generate(ctx, l, out, sink)
}

// generate runs the shared tail of send and edit: fetch history, stream the
// reply and persist it.
func (p *Pipeline) generate(ctx context.Context, l zerolog.Logger, out *Outcome, sink Sink) (*Outcome, error) {
	out.enter(l, StateFetchingHistory)
	turns, err := p.store.ReadAll(ctx, out.ConversationID)
	if err != nil {
		return p.fail(l, out, classify(ErrPersistence, err))
	}
	history := BuildHistory(turns, p.opts.MaxHistoryTurns)

	if err := sink.Open(out.ConversationID); err != nil {
		return p.fail(l, out, classify(ErrGeneration, &TransportError{Err: err}))
	}

	out.enter(l, StateGenerating)
	genCtx, cancel := context.WithTimeout(ctx, p.opts.GenerationTimeout)
	defer cancel()
	stream, err := p.gen.GenerateStream(genCtx, history)
	if err != nil {
		return p.fail(l, out, classify(ErrGeneration, err))
	}
	defer stream.Close()

	out.enter(l, StateRelaying)
	relay := NewRelay(sink)
	err = relay.Pump(genCtx, stream)
	out.Committed = relay.Committed()
	out.Fragments = relay.Fragments()
	if err != nil {
		return p.abort(l, out, relay, err)
	}

	out.enter(l, StatePersistingAssistantTurn)
	// the reply is complete; a caller leaving now must not lose it
	saveCtx, saveCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer saveCancel()
	reply, err := p.store.Append(saveCtx, out.ConversationID, models.RoleAssistant, relay.Text())
	if err != nil {
		return p.abort(l, out, relay, classify(ErrPersistence, err))
	}
	out.AssistantTurn = reply

	if err := sink.Finish(); err != nil {
		l.Warn().Err(err).Msg("finishing stream failed")
	}
	out.enter(l, StateDone)
	l.Info().Int("fragments", out.Fragments).Int("chars", utf8.RuneCountInString(reply.Content)).Msg("reply stored")
	return out, nil
}

func (p *Pipeline) authorize(ctx context.Context, conversationID, callerID uint) error {
	owner, err := p.store.OwnerOf(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return classify(ErrPersistence, err)
	}
	if owner != callerID {
		return ErrForbidden
	}
	return nil
}

func (p *Pipeline) lock(ctx context.Context, conversationID uint) (func(), error) {
	unlock, err := p.locker.Lock(ctx, "conversation:"+strconv.FormatUint(uint64(conversationID), 10))
	if err != nil {
		if ctx.Err() != nil {
			return nil, classify(ErrGeneration, err)
		}
		return nil, classify(ErrPersistence, err)
	}
	return unlock, nil
}

func (p *Pipeline) validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidOperation)
	}
	if n := utf8.RuneCountInString(text); n > p.opts.MaxMessageChars {
		return fmt.Errorf("%w: message is %d characters, limit is %d", ErrInvalidOperation, n, p.opts.MaxMessageChars)
	}
	return nil
}

func (p *Pipeline) fail(l zerolog.Logger, out *Outcome, err error) (*Outcome, error) {
	out.FailedAt = out.State
	out.enter(l, StateFailed)
	ev := l.Warn()
	if HTTPStatus(err) >= 500 {
		ev = l.Error()
	}
	ev.Err(err).Str("at", string(out.FailedAt)).Bool("committed", out.Committed).Msg("pipeline failed")
	return out, err
}

// abort ends a stream that may already be committed: the in-band marker
// replaces a structured error and nothing is persisted.
func (p *Pipeline) abort(l zerolog.Logger, out *Outcome, relay *Relay, err error) (*Outcome, error) {
	if relay.Committed() {
		if ferr := relay.Abort(); ferr != nil {
			l.Debug().Err(ferr).Msg("writing error marker failed")
		}
	}
	return p.fail(l, out, err)
}

// BuildHistory converts stored turns into generation input, keeping at most
// maxTurns of the most recent ones and never starting with an assistant turn.
func BuildHistory(turns []models.Message, maxTurns int) []services.Turn {
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	for len(turns) > 0 && turns[0].Role == models.RoleAssistant {
		turns = turns[1:]
	}
	history := make([]services.Turn, 0, len(turns))
	for _, t := range turns {
		history = append(history, services.Turn{Role: t.Role, Text: t.Content})
	}
	return history
}
