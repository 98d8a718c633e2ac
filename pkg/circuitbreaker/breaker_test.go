package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBadInput = errors.New("bad input")

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	cfg := DefaultConfig("gateway")
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	cb := New[int](cfg, zap.NewNop(), nil)

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (int, error) { return 0, boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	called := false
	_, err := cb.Execute(func() (int, error) {
		called = true
		return 1, nil
	})
	assert.True(t, IsOpen(err))
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	cfg := DefaultConfig("gateway")
	cfg.FailureThreshold = 1
	cb := New[int](cfg, zap.NewNop(), func(err error) bool { return errors.Is(err, errBadInput) })

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (int, error) { return 0, errBadInput })
		require.ErrorIs(t, err, errBadInput)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	cfg := DefaultConfig("gateway")
	cfg.FailureThreshold = 1
	cfg.Timeout = 10 * time.Millisecond
	cb := New[string](cfg, zap.NewNop(), nil)

	_, _ = cb.Execute(func() (string, error) { return "", errors.New("down") })
	require.Equal(t, gobreaker.StateOpen, cb.State())

	require.Eventually(t, func() bool {
		return cb.State() == gobreaker.StateHalfOpen
	}, time.Second, 5*time.Millisecond)

	v, err := cb.Execute(func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
