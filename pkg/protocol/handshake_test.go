package protocol_test

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/typing-indicator/pkg/protocol"
)

func TestHandshake(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteHandshake(&buf, "token-123"))

	token, err := protocol.ReadHandshake(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "token-123", token)

	assert.Error(t, protocol.WriteHandshake(&buf, ""))
}

func TestHandshakeReply(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, protocol.WriteHandshakeReply(&buf, nil))
	require.NoError(t, protocol.WriteHandshakeReply(&buf, errors.New("token expired")))

	r := bufio.NewReader(&buf)
	assert.NoError(t, protocol.ReadHandshakeReply(r))

	err := protocol.ReadHandshakeReply(r)
	assert.ErrorIs(t, err, protocol.ErrHandshakeRejected)
	assert.ErrorContains(t, err, "token expired")

	assert.Error(t, protocol.ReadHandshakeReply(r))
}
