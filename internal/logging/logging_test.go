package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"log/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"fatal":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseLevel(input), "input=%q", input)
	}
}

func TestServiceHandlerFormatsLine(t *testing.T) {
	var buf bytes.Buffer
	h := NewServiceHandler(slog.LevelInfo, &buf)
	logger := slog.New(h)

	logger.Info("shuttle connected", slog.String("shuttle_id", "SH-1"))

	line := buf.String()
	require.Contains(t, line, "shuttle-gateway")
	require.Contains(t, line, "[INFO]")
	require.Contains(t, line, "shuttle connected")
	require.Contains(t, line, "shuttle_id=SH-1")
}

func TestServiceHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewServiceHandler(slog.LevelWarn, &buf)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestServiceHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	h := NewServiceHandler(slog.LevelInfo, &buf).WithGroup("conn").WithAttrs([]slog.Attr{slog.String("id", "x")})
	logger := slog.New(h)
	logger.Info("dialed")
	assert.True(t, strings.Contains(buf.String(), "conn.id=x"))
}
