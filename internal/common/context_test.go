package common

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerCarriesContextIDs(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, "info", "text")

	ctx := WithTaskID(WithRequestID(context.Background(), "req-1"), "task-9")
	Logger(ctx, base).Info("hello")
	assert.Contains(t, buf.String(), "request_id=req-1")
	assert.Contains(t, buf.String(), "task_id=task-9")

	buf.Reset()
	assert.Same(t, base, Logger(context.Background(), base))
	assert.Equal(t, "", TaskIDFromContext(context.Background()))
}
