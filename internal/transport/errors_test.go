package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamsync/internal/codec"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotFound, CodeOf(NewError(CodeNotFound, "no stream %s", "ff")))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeUnknown, CodeOf(nil))

	// Codes survive wrapping.
	wrapped := fmt.Errorf("add event: %w", NewError(CodeUnavailable, "replica down"))
	assert.Equal(t, CodeUnavailable, CodeOf(wrapped))
}

func TestIsStaleTip(t *testing.T) {
	tip := codec.EventHash([]byte("tip"))

	got, ok := IsStaleTip(NewStaleTipError(tip))
	require.True(t, ok)
	assert.Equal(t, tip, got)

	got, ok = IsStaleTip(fmt.Errorf("send: %w", NewStaleTipError(tip)))
	require.True(t, ok)
	assert.Equal(t, tip, got)

	// A stale-tip error without an expected hash still matches.
	_, ok = IsStaleTip(&Error{Code: CodeStaleTip, Msg: "stale"})
	assert.True(t, ok)

	_, ok = IsStaleTip(NewError(CodeNotFound, "missing"))
	assert.False(t, ok)
	_, ok = IsStaleTip(errors.New("other"))
	assert.False(t, ok)
}

func TestErrorString(t *testing.T) {
	tip := codec.EventHash([]byte("tip"))
	msg := NewStaleTipError(tip).Error()
	assert.Contains(t, msg, "stale_tip")
	assert.Contains(t, msg, tip.Hex())
}
