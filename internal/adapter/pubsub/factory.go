package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// RoutingKeyHeader carries the original routing key on the in-process bus,
// where topics are exchange names.
const RoutingKeyHeader = "routing_key"

// Factory builds publishers and subscribers bound to a topic exchange.
type Factory interface {
	BuildPublisher(exchange string) (message.Publisher, error)
	BuildSubscriber(queue, exchange, bindingKey string) (message.Subscriber, error)
	Close() error
}

// [AMQP_FACTORY]
// Durable topic exchanges; publish topics become routing keys.
type amqpFactory struct {
	url    string
	logger watermill.LoggerAdapter
}

func NewAMQPFactory(url string, logger watermill.LoggerAdapter) Factory {
	return &amqpFactory{url: url, logger: logger}
}

func (f *amqpFactory) config(exchange, queue string) amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(f.url, func(string) string { return queue })
	cfg.Exchange.GenerateName = func(string) string { return exchange }
	cfg.Exchange.Type = "topic"
	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }
	return cfg
}

func (f *amqpFactory) BuildPublisher(exchange string) (message.Publisher, error) {
	return amqp.NewPublisher(f.config(exchange, ""), f.logger)
}

func (f *amqpFactory) BuildSubscriber(queue, exchange, bindingKey string) (message.Subscriber, error) {
	sub, err := amqp.NewSubscriber(f.config(exchange, queue), f.logger)
	if err != nil {
		return nil, err
	}
	return &boundSubscriber{Subscriber: sub, bindingKey: bindingKey}, nil
}

func (f *amqpFactory) Close() error { return nil }

// boundSubscriber subscribes with the binding key whatever topic the router
// asks for, so one handler can listen on a wildcard.
type boundSubscriber struct {
	message.Subscriber
	bindingKey string
}

func (s *boundSubscriber) Subscribe(ctx context.Context, _ string) (<-chan *message.Message, error) {
	return s.Subscriber.Subscribe(ctx, s.bindingKey)
}

// [LOCAL_FACTORY]
// One in-process channel shared by every publisher and subscriber. Topics are
// exchange names and the routing key travels in metadata.
type channelFactory struct {
	ch *gochannel.GoChannel
}

func NewChannelFactory(logger watermill.LoggerAdapter) Factory {
	return &channelFactory{
		ch: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger),
	}
}

func (f *channelFactory) BuildPublisher(exchange string) (message.Publisher, error) {
	return &exchangePublisher{exchange: exchange, ch: f.ch}, nil
}

func (f *channelFactory) BuildSubscriber(_, exchange, _ string) (message.Subscriber, error) {
	return &exchangeSubscriber{exchange: exchange, ch: f.ch}, nil
}

func (f *channelFactory) Close() error { return f.ch.Close() }

type exchangePublisher struct {
	exchange string
	ch       *gochannel.GoChannel
}

func (p *exchangePublisher) Publish(topic string, msgs ...*message.Message) error {
	for _, msg := range msgs {
		if msg.Metadata.Get(RoutingKeyHeader) == "" {
			msg.Metadata.Set(RoutingKeyHeader, topic)
		}
	}
	return p.ch.Publish(p.exchange, msgs...)
}

// Close is a no-op; the shared channel is closed by the factory.
func (p *exchangePublisher) Close() error { return nil }

type exchangeSubscriber struct {
	exchange string
	ch       *gochannel.GoChannel
}

func (s *exchangeSubscriber) Subscribe(ctx context.Context, _ string) (<-chan *message.Message, error) {
	return s.ch.Subscribe(ctx, s.exchange)
}

func (s *exchangeSubscriber) Close() error { return nil }
