package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/observability"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/worker"
)

func TestQueueWorkerSurvivesPanickingHandler(t *testing.T) {
	queue := worker.NewQueue[string]("password_reset", 4)
	require.NoError(t, queue.TryEnqueue("boom"))
	require.NoError(t, queue.TryEnqueue("ok"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var handled []string
	w := NewQueueWorker(discardLogger(), queue, func(_ context.Context, item string) error {
		handled = append(handled, item)
		if item == "boom" {
			panic("nil account")
		}
		cancel()
		return nil
	}, time.Second, observability.NewMetrics(prometheus.NewRegistry()))

	err := w.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "run returned %v", err)
	assert.Equal(t, []string{"boom", "ok"}, handled)
}

func TestQueueWorkerSafeHandleConvertsPanic(t *testing.T) {
	w := NewQueueWorker(discardLogger(), worker.NewQueue[int]("webhook", 1), func(context.Context, int) error {
		panic("bad payload")
	}, time.Second, nil)

	err := w.safeHandle(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic: bad payload")
}
