package obs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTimeLogsOutcome(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	ctx := WithRequestID(context.Background(), "req-1")

	func() {
		var err error
		defer Time(ctx, logger, "ok.op")(&err)
	}()

	func() {
		err := errors.New("boom")
		defer Time(ctx, logger, "bad.op")(&err)
	}()

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "operation completed", entries[0].Message)
	assert.Equal(t, "ok.op", entries[0].ContextMap()["op"])
	assert.Equal(t, "req-1", entries[0].ContextMap()["req_id"])

	assert.Equal(t, "operation failed", entries[1].Message)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestTimeNilLogger(t *testing.T) {
	var err error
	assert.NotPanics(t, func() { Time(context.Background(), nil, "noop")(&err) })
}
