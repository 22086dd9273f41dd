package alerterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := New(KindSend, "webhook", "provider rejected", errors.New("status 500"))
	assert.Equal(t, "send_error: webhook: provider rejected: status 500", err.Error())

	cfgErr := Config("threshold", "metric %q has no name", "")
	assert.Equal(t, `config_error: threshold: metric "" has no name`, cfgErr.Error())
}

func TestKindOf_Wrapped(t *testing.T) {
	base := Store("create", errors.New("disk full"))
	wrapped := fmt.Errorf("cycle aborted: %w", base)

	assert.True(t, IsStore(wrapped))
	assert.False(t, IsSend(wrapped))
	assert.Equal(t, KindStore, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("timeout")
	err := Send("smtp", sentinel)
	assert.ErrorIs(t, err, sentinel)
	assert.True(t, IsDataUnavailable(DataUnavailable("cpu_usage_percent")))
	assert.True(t, IsConfig(Config("channel", "bad")))
}
