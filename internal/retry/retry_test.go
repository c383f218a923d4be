package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fast = Policy{MaxRetries: 2, InitialInterval: time.Millisecond}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	notified := 0
	err := Do(context.Background(), fast, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil, func(error, time.Duration) { notified++ })

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, notified)
}

func TestDo_StopsAfterMaxRetries(t *testing.T) {
	calls := 0
	boom := errors.New("transient")
	err := Do(context.Background(), fast, func() error {
		calls++
		return boom
	}, nil, nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorIsNotRetried(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	err := Do(context.Background(), fast, func() error {
		calls++
		return fatal
	}, func(err error) bool { return !errors.Is(err, fatal) }, nil)

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}
