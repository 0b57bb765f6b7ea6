package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.uber.org/fx"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/webitel/im-forum-delivery/config"
)

// ProvideLogger builds the process logger. The level follows log.level live
// when the configuration file changes.
func ProvideLogger(lc fx.Lifecycle, cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(cfg.Log.SlogLevel())

	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		if lc != nil {
			lc.Append(fx.StopHook(rotating.Close))
		}
		out = rotating
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	if cfg.Log.OTel {
		handler = teeHandler{handler, leveled{otelslog.NewHandler(ServiceName), level}}
	}

	logger := slog.New(handler).With("service", ServiceName, "version", version)

	cfg.OnChange(func(next *config.Config) {
		if lvl := next.Log.SlogLevel(); lvl != level.Level() {
			level.Set(lvl)
			logger.Info("LOG_LEVEL_CHANGED", "level", lvl.String())
		}
	}, func(err error) {
		logger.Error("CONFIG_RELOAD_FAILED", "err", err)
	})

	slog.SetDefault(logger)
	return logger
}

// ProvideWatermillLogger routes watermill's logs through slog.
func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

// leveled applies the shared level to a handler that has no options of its own.
type leveled struct {
	slog.Handler
	level slog.Leveler
}

func (h leveled) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level.Level() }

func (h leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return leveled{h.Handler.WithAttrs(attrs), h.level}
}

func (h leveled) WithGroup(name string) slog.Handler {
	return leveled{h.Handler.WithGroup(name), h.level}
}

// teeHandler writes every record to both the local sink and the otel bridge.
type teeHandler [2]slog.Handler

func (t teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return t[0].Enabled(ctx, l) || t[1].Enabled(ctx, l)
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{t[0].WithAttrs(attrs), t[1].WithAttrs(attrs)}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{t[0].WithGroup(name), t[1].WithGroup(name)}
}
