package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_PanicsWithoutLogger(t *testing.T) {
	assert.Panics(t, func() { FromContext(context.Background()) })
}

func TestWith_AddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := With(WithLogger(context.Background(), logger), "computer_id", 5)

	FromContext(ctx).Info("Booted.")

	require.Contains(t, buf.String(), "computer_id=5")
	assert.Contains(t, buf.String(), "msg=Booted.")
}

func TestDiscard(t *testing.T) {
	ctx := Discard(context.Background())
	assert.NotPanics(t, func() { FromContext(ctx).Error("nobody hears this") })
}
