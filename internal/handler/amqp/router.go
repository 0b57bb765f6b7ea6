package amqp

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/juju/errors"

	"github.com/webitel/im-forum-delivery/internal/adapter/pubsub"
	"github.com/webitel/im-forum-delivery/internal/service"
)

const (
	// ------------------- EXCHANGES (SOURCES) -------------------
	ForumEventsExchange = "im_forum.events"
	PoisonExchange      = "im_forum.delivery.poison"

	// ------------------- TOPICS (ROUTING KEYS) -----------------
	// im_forum.{roomId}.{type}.v1
	TopicForumEvents = "im_forum.#"

	// ------------------- QUEUES (CONSUMERS) --------------------
	// Shared by every instance: emission lands in the shared store, so each
	// event needs to be processed once cluster-wide.
	DeliveryProcessorQueue = "im-forum-delivery.incoming-processor.v1"
	DeliveryPoisonTopic    = "im-forum-delivery.incoming-processor.v1.poison"
)

type MessageHandler struct {
	emitter service.Emitter
	logger  *slog.Logger
	wlog    watermill.LoggerAdapter
}

func NewMessageHandler(emitter service.Emitter, logger *slog.Logger, wlog watermill.LoggerAdapter) *MessageHandler {
	return &MessageHandler{emitter: emitter, logger: logger, wlog: wlog}
}

// [REGISTRATION_PIPELINE]
func (h *MessageHandler) RegisterHandlers(router *message.Router, subProvider *pubsub.SubscriberProvider, pubProvider *pubsub.PublisherProvider) error {
	poisonPub, err := pubProvider.Build(PoisonExchange)
	if err != nil {
		return errors.Annotate(err, "POISON_PUBLISHER_FAILED")
	}
	poison, err := middleware.PoisonQueue(poisonPub, DeliveryPoisonTopic)
	if err != nil {
		return errors.Annotate(err, "POISON_SETUP_FAILED")
	}

	configs := []struct {
		name     string
		queue    string
		exchange string
		topic    string
		handler  message.NoPublishHandlerFunc
	}{
		{"ON_FORUM_EVENT", DeliveryProcessorQueue, ForumEventsExchange, TopicForumEvents, Bind(h, h.OnForumEventV1)},
	}

	for _, c := range configs {
		sub, err := subProvider.Build(c.queue, c.exchange, c.topic)
		if err != nil {
			return err
		}

		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			poison,
			NewRetryMiddleware(h.wlog).Middleware,
			CountAttempt,
			middleware.NewThrottle(100, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
	}

	h.logger.Info("AMQP_PIPELINE_READY", "queue", DeliveryProcessorQueue, "exchange", ForumEventsExchange)
	return nil
}
