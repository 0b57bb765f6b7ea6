package amqp

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/webitel/im-forum-delivery/internal/adapter/pubsub"
)

type traceIDKey struct{}

// TraceIDFromContext returns the trace id attached by TraceIDMiddleware.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// [TRACE_ID_MIDDLEWARE]
// Ensures TraceID persistence through the call chain.
func TraceIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		traceID := msg.Metadata.Get("trace_id")
		if traceID == "" {
			traceID = uuid.NewString()
			msg.Metadata.Set("trace_id", traceID)
		}

		msg.SetContext(context.WithValue(msg.Context(), traceIDKey{}, traceID))
		return h(msg)
	}
}

type attemptsKey struct{}

// [LOGGING_MIDDLEWARE]
// One record per delivery, after retries settle. Failures are logged at
// warn level together with the number of handler attempts.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			attempts := new(atomic.Int32)
			msg.SetContext(context.WithValue(msg.Context(), attemptsKey{}, attempts))

			msgs, err := h(msg)

			level := slog.LevelDebug
			if err != nil {
				level = slog.LevelWarn
			}
			logger.Log(msg.Context(), level, "FORUM_EVENT_HANDLED",
				"handler", message.HandlerNameFromCtx(msg.Context()),
				"routing_key", msg.Metadata.Get(pubsub.RoutingKeyHeader),
				"target_user", msg.Metadata.Get(TargetUserHeader),
				"msg_id", msg.UUID,
				"trace_id", msg.Metadata.Get("trace_id"),
				"attempts", attempts.Load(),
				"duration_ms", time.Since(start).Milliseconds(),
				"err", err,
			)
			return msgs, err
		}
	}
}

// CountAttempt sits inside the retry loop and counts handler invocations for
// LoggingMiddleware.
func CountAttempt(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if n, ok := msg.Context().Value(attemptsKey{}).(*atomic.Int32); ok {
			n.Add(1)
		}
		return h(msg)
	}
}

// [RETRY_MIDDLEWARE]
// Only store unavailability reaches this policy; Bind acks everything else.
func NewRetryMiddleware(logger watermill.LoggerAdapter) middleware.Retry {
	return middleware.Retry{
		MaxRetries:          5,
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0.25,
		MaxElapsedTime:      20 * time.Second,
		ShouldRetry: func(p middleware.RetryParams) bool {
			return !isTerminal(p.Err) && !errors.Is(p.Err, context.Canceled)
		},
		Logger: logger,
	}
}
