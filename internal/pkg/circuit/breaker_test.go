package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("test", 3, time.Hour)
	boom := errors.New("timeout")

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(func() error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, b.State())

	var open ErrOpen
	err := b.Do(func() error {
		t.Fatal("call admitted while open")
		return nil
	})
	assert.ErrorAs(t, err, &open)
	assert.Equal(t, "test", open.Name)
}

func TestBreakerProbeClosesOnSuccess(t *testing.T) {
	b := New("test", 1, time.Nanosecond)
	assert.Error(t, b.Do(func() error { return errors.New("timeout") }))

	time.Sleep(time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())
	assert.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := New("test", 1, time.Nanosecond)
	assert.Error(t, b.Do(func() error { return errors.New("timeout") }))

	time.Sleep(time.Millisecond)
	assert.Error(t, b.Do(func() error { return errors.New("still down") }))
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New("test", 2, time.Hour)
	assert.Error(t, b.Do(func() error { return errors.New("timeout") }))
	assert.NoError(t, b.Do(func() error { return nil }))
	assert.Error(t, b.Do(func() error { return errors.New("timeout") }))
	assert.Equal(t, StateClosed, b.State())
}
