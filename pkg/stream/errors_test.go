package stream

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamErrorFormat(t *testing.T) {
	err := NewError(ErrorCodeMissingAnswer, "sess-1", "ответ без answer-SDP")
	assert.Contains(t, err.Error(), "MissingAnswer")
	assert.Contains(t, err.Error(), "sess-1")

	// Без SessionID идентификатор в сообщении не упоминается
	anon := NewError(ErrorCodeURLMissing, "", "пустой URL")
	assert.NotContains(t, anon.Error(), "сессия")
}

func TestStreamErrorIs(t *testing.T) {
	err := NewError(ErrorCodeSignalingRejected, "s", "code=1")
	assert.True(t, errors.Is(err, &StreamError{Code: ErrorCodeSignalingRejected}))
	assert.False(t, errors.Is(err, &StreamError{Code: ErrorCodeMissingAnswer}))
}

func TestStreamErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := WrapError(ErrorCodePlaybackNetwork, "s", "сбой загрузки", cause)
	require.ErrorIs(t, err, cause)

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, ErrorCodePlaybackNetwork, code)
}

func TestCodeOfForeignError(t *testing.T) {
	_, ok := CodeOf(fmt.Errorf("обычная ошибка"))
	assert.False(t, ok)
}

func TestIsNetworkClass(t *testing.T) {
	assert.True(t, IsNetworkClass(NewError(ErrorCodePlaybackNetwork, "", "")))
	assert.False(t, IsNetworkClass(NewError(ErrorCodePlaybackDecode, "", "")))
	assert.False(t, IsNetworkClass(fmt.Errorf("не StreamError")))
}

func TestErrorCodeString(t *testing.T) {
	assert.Equal(t, "SignalingRejected", ErrorCodeSignalingRejected.String())
	assert.Equal(t, "Unknown(9999)", ErrorCode(9999).String())
}
