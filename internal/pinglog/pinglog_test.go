package pinglog

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestSeverityRoundTrip(t *testing.T) {
	cases := []struct {
		in   string
		want Severity
	}{
		{"trace", LevelTrace},
		{"DEBUG", LevelDebug},
		{"warn", LevelWarning},
		{"ERROR", LevelError},
		{"off", LevelOff},
		{"nonsense", LevelInfo},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ParseSeverity(c.in), "ParseSeverity(%q)", c.in)
	}
}

func TestTextHandlerFormatsSeverity(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	lv.Set(LevelTrace.slogLevel())
	l := slog.New(newHandler(&buf, "text", lv))

	l.Log(ctx, LevelWarning.slogLevel(), "disk nearly full")

	require.Regexp(t, regexp.MustCompile(`severity=WARNING`), buf.String())
	require.Regexp(t, regexp.MustCompile(`msg="disk nearly full"`), buf.String())
}

func TestJSONHandlerFormatsSeverity(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	lv.Set(LevelTrace.slogLevel())
	l := slog.New(newHandler(&buf, "json", lv))

	l.Log(ctx, LevelError.slogLevel(), "calibration failed")

	require.Regexp(t, regexp.MustCompile(`"severity":"ERROR"`), buf.String())
}

func TestLevelVarFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	lv := new(slog.LevelVar)
	lv.Set(LevelWarning.slogLevel())
	l := slog.New(newHandler(&buf, "text", lv))

	l.Log(ctx, LevelInfo.slogLevel(), "should not appear")
	require.Empty(t, buf.String())

	l.Log(ctx, LevelError.slogLevel(), "should appear")
	require.NotEmpty(t, buf.String())
}
