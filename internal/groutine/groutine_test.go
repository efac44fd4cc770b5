package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_PropagatesName(t *testing.T) {
	names := make(chan string, 1)

	Go(context.Background(), "worker-42", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "worker-42", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}

	assert.Empty(t, GetName(context.Background()))
	assert.Empty(t, GetName(nil)) //nolint:staticcheck // nil context is handled explicitly
}

func TestGoSafe_RecoversPanic(t *testing.T) {
	logger, hook := test.NewNullLogger()

	done := make(chan struct{})
	GoSafe(context.Background(), "panicky", logger, func(ctx context.Context) {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}

	require.Eventually(t, func() bool {
		return hook.LastEntry() != nil
	}, time.Second, 10*time.Millisecond, "panic MUST be logged")
	entry := hook.LastEntry()
	assert.Equal(t, "Recovered from panic", entry.Message)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "panicky", entry.Data["goroutine"])
	assert.Equal(t, "boom", entry.Data["panic"])
}
