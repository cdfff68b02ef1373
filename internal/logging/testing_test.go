package logging

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestTestLogger(t *testing.T) {
	logger := NewTestLogger()
	ctx := context.Background()

	logger.Info(ctx, "window exported", zap.String("export_id", "exp-1"), zap.Int("attempts", 2))

	logger.AssertLogged(t, zapcore.InfoLevel, "exported")
	logger.AssertNotLogged(t, zapcore.ErrorLevel, "exported")
	logger.AssertField(t, "window exported", "export_id", "exp-1")
	logger.AssertField(t, "window exported", "attempts", int64(2))
	logger.AssertNoHandles(t, "secret-handle", "")

	assert.Len(t, logger.All(), 1)
	logger.Reset()
	assert.Empty(t, logger.All())
}

func TestTestLogger_DetectsLeaks(t *testing.T) {
	logger := NewTestLogger()
	logger.Info(context.Background(), "oops", zap.String("value", "secret-handle"))

	rec := &recordingTB{TB: t}
	logger.AssertNoHandles(rec, "secret-handle")
	assert.Len(t, rec.errors, 1)
}

// recordingTB captures failures instead of failing the enclosing test.
type recordingTB struct {
	testing.TB
	errors []string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Errorf(format string, args ...any) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}
