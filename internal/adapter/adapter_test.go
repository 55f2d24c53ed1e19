package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalcast/internal/models"
)

type stub struct{ id string }

func (s stub) ChannelID() string { return s.id }
func (s stub) Send(ctx context.Context, text string) (models.Receipt, error) {
	return models.Receipt{}, nil
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(stub{id: "slack"}, stub{id: "telegram"})
	r.Register(stub{id: "blog"})

	a, ok := r.Get("telegram")
	require.True(t, ok)
	assert.Equal(t, "telegram", a.ChannelID())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"blog", "slack", "telegram"}, r.ChannelIDs())
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry(stub{id: "slack"})
	r.Register(stub{id: "slack"})
	assert.Equal(t, []string{"slack"}, r.ChannelIDs())
}

func TestTransientClassification(t *testing.T) {
	base := errors.New("boom")

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(base))
	assert.True(t, IsTransient(Transient(base)))
	assert.True(t, IsTransient(RetryAfter(base, time.Second)))
	assert.True(t, IsTransient(context.DeadlineExceeded))

	// Classification survives wrapping.
	wrapped := errors.Join(errors.New("outer"), Transient(base))
	assert.True(t, IsTransient(wrapped))
	assert.True(t, errors.Is(Transient(base), base))
}

func TestRetryAfterHint(t *testing.T) {
	err := RetryAfter(errors.New("slow down"), 2*time.Second)
	var ra RetryAfterError
	require.True(t, errors.As(err, &ra))
	assert.Equal(t, 2*time.Second, ra.RetryAfter())

	// Negative hints are clamped.
	err = RetryAfter(errors.New("x"), -time.Second)
	require.True(t, errors.As(err, &ra))
	assert.Equal(t, time.Duration(0), ra.RetryAfter())

	assert.Nil(t, RetryAfter(nil, time.Second))
	assert.Nil(t, Transient(nil))
}
