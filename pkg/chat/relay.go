package chat

import (
	"context"
	"errors"
	"io"
	"strings"

	"ChatStream/pkg/services"
)

// ErrorMarker is appended to a stream that fails after bytes were sent.
const ErrorMarker = "\n\n[Error: Connection with AI failed]"

// Sink is the transport side of a streamed reply.
type Sink interface {
	// Open announces the conversation the reply belongs to. It must not
	// commit the response: a structured error is still possible afterwards.
	Open(conversationID uint) error
	// Write delivers one fragment to the caller immediately.
	Write(fragment string) error
	// Fail ends a committed stream with an in-band marker.
	Fail(marker string) error
	// Finish ends a successful stream.
	Finish() error
}

// Relay forwards fragments to a Sink while accumulating them.
type Relay struct {
	sink      Sink
	acc       strings.Builder
	committed bool
	fragments int
}

func NewRelay(sink Sink) *Relay {
	return &Relay{sink: sink}
}

// Forward writes fragment to the sink and appends it to the accumulator.
// Empty fragments are dropped.
func (r *Relay) Forward(fragment string) error {
	if fragment == "" {
		return nil
	}
	// a failed write may still have put bytes on the wire
	r.committed = true
	if err := r.sink.Write(fragment); err != nil {
		return err
	}
	r.acc.WriteString(fragment)
	r.fragments++
	return nil
}

// Pump forwards every fragment of stream until end-of-stream. It returns nil
// on a clean end; otherwise the error tells whether generation or the
// transport failed.
func (r *Relay) Pump(ctx context.Context, stream services.FragmentStream) error {
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classify(ErrGeneration, err)
		}
		if err := ctx.Err(); err != nil {
			return classify(ErrGeneration, err)
		}
		if err := r.Forward(frag); err != nil {
			return classify(ErrGeneration, &TransportError{Err: err})
		}
	}
}

// Abort writes the in-band marker. It is a no-op before anything was sent.
func (r *Relay) Abort() error {
	if !r.committed {
		return nil
	}
	return r.sink.Fail(ErrorMarker)
}

func (r *Relay) Committed() bool { return r.committed }

func (r *Relay) Text() string { return r.acc.String() }

func (r *Relay) Fragments() int { return r.fragments }

// TransportError is a failed write to the caller, usually a disconnect.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "relay write: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }
