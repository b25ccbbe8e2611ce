package logzer

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// SLogHandler passes slog.Record to the global zerolog logger,
// set it as slog default so low-level packages log the same way
type SLogHandler struct {
	attrs  []slog.Attr
	groups []string

	CallerSkipFrame int
	GroupsFieldName string
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelDebug:
		return zerolog.TraceLevel
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (h *SLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return zerolog.GlobalLevel() <= zerologLevel(level)
}

func (h *SLogHandler) Handle(_ context.Context, r slog.Record) error {
	e := zlog.WithLevel(zerologLevel(r.Level))
	if e == nil {
		return nil
	}

	attr2e := func(attr slog.Attr) bool {
		v := attr.Value.Resolve()
		switch v.Kind() {
		case slog.KindBool:
			e.Bool(attr.Key, v.Bool())
		case slog.KindDuration:
			e.Dur(attr.Key, v.Duration())
		case slog.KindFloat64:
			e.Float64(attr.Key, v.Float64())
		case slog.KindInt64:
			e.Int64(attr.Key, v.Int64())
		case slog.KindString:
			e.Str(attr.Key, v.String())
		case slog.KindTime:
			e.Time(attr.Key, v.Time())
		case slog.KindUint64:
			e.Uint64(attr.Key, v.Uint64())
		case slog.KindGroup:
			e.Str(attr.Key, v.String())
		default:
			e.Any(attr.Key, v.Any())
		}
		return true
	}

	if len(h.groups) > 0 {
		name := h.GroupsFieldName
		if name == "" {
			name = "logger"
		}
		e.Strs(name, h.groups)
	}
	for _, attr := range h.attrs {
		attr2e(attr)
	}
	r.Attrs(attr2e)

	e.CallerSkipFrame(h.CallerSkipFrame).Msg(r.Message)
	return nil
}

func (h *SLogHandler) clone() *SLogHandler {
	return &SLogHandler{
		attrs:           append([]slog.Attr{}, h.attrs...),
		groups:          append([]string{}, h.groups...),
		CallerSkipFrame: h.CallerSkipFrame,
		GroupsFieldName: h.GroupsFieldName,
	}
}

func (h *SLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nested := h.clone()
	nested.attrs = append(nested.attrs, attrs...)
	return nested
}

func (h *SLogHandler) WithGroup(name string) slog.Handler {
	nested := h.clone()
	nested.groups = append(nested.groups, name)
	return nested
}
