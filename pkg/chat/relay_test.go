package chat

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"ChatStream/pkg/chat/chattest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayForwardsAndAccumulates(t *testing.T) {
	sink := &chattest.Sink{}
	r := NewRelay(sink)
	assert.False(t, r.Committed())
	require.NoError(t, r.Abort(), "abort before any byte is a no-op")
	assert.Empty(t, sink.Failed())

	for _, f := range []string{"Hi", "", " there"} {
		require.NoError(t, r.Forward(f))
	}
	assert.True(t, r.Committed())
	assert.Equal(t, 2, r.Fragments())
	assert.Equal(t, "Hi there", r.Text())
	assert.Equal(t, []string{"Hi", " there"}, sink.Writes())

	require.NoError(t, r.Abort())
	assert.Equal(t, ErrorMarker, sink.Failed())
}

func TestPumpStopsOnStreamError(t *testing.T) {
	gen := &chattest.Generator{Fragments: []string{"a", "b"}, StreamErr: errors.New("reset")}
	stream, err := gen.GenerateStream(context.Background(), nil)
	require.NoError(t, err)

	r := NewRelay(&chattest.Sink{})
	err = r.Pump(context.Background(), stream)
	assert.True(t, errors.Is(err, ErrGeneration))
	assert.Equal(t, "ab", r.Text())
}

func TestHTTPStatusAndCode(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ErrForbidden, http.StatusForbidden, "forbidden"},
		{classify(ErrNotFound, errors.New("x")), http.StatusForbidden, "forbidden"},
		{classify(ErrInvalidOperation, errors.New("x")), http.StatusBadRequest, "invalid_operation"},
		{classify(ErrGeneration, errors.New("x")), http.StatusInternalServerError, "generation_error"},
		{classify(ErrPersistence, errors.New("x")), http.StatusInternalServerError, "persistence_error"},
		{errors.New("other"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, HTTPStatus(tc.err), tc.err.Error())
		assert.Equal(t, tc.code, Code(tc.err), tc.err.Error())
	}
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
	wrapped := classify(ErrGeneration, ErrGeneration)
	assert.Equal(t, ErrGeneration, wrapped, "classify does not double-wrap")
}
