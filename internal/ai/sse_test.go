package ai

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSSEReader(t *testing.T) {
	body := ": keepalive\n\nevent: message\ndata: {\"a\":1}\n\ndata: line1\ndata: line2\n\ndata: [DONE]"
	r := newSSEReader(strings.NewReader(body))

	ev, data, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, "message", ev)
	require.Equal(t, `{"a":1}`, data)

	_, data, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, "line1\nline2", data)

	_, data, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, "[DONE]", data)

	_, _, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}
