package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("host", Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute})

	_ = b.Execute(func() error { return errBoom })
	assert.Equal(t, StateClosed, b.State())
	_ = b.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenSuccessesClose(t *testing.T) {
	now := time.Now()
	b := New("host", Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second})
	b.now = func() time.Time { return now }

	_ = b.Execute(func() error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	now = now.Add(2 * time.Second)
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_IgnoresUncountedErrors(t *testing.T) {
	notFound := errors.New("not found")
	b := New("host", Config{
		FailureThreshold: 1,
		Counts:           func(err error) bool { return !errors.Is(err, notFound) },
	})

	_ = b.Execute(func() error { return notFound })
	assert.Equal(t, StateClosed, b.State())
}

func TestSet_ReusesBreakerPerKey(t *testing.T) {
	s := NewSet(DefaultConfig())
	assert.Same(t, s.Get("a.example"), s.Get("a.example"))
	assert.NotSame(t, s.Get("a.example"), s.Get("b.example"))
}
