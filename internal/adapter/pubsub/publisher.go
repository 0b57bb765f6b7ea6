package pubsub

import (
	"github.com/ThreeDotsLabs/watermill/message"
)

type PublisherProvider struct {
	factory Factory
}

func NewPublisherProvider(f Factory) *PublisherProvider {
	return &PublisherProvider{factory: f}
}

func (pp *PublisherProvider) Build(exchange string) (message.Publisher, error) {
	return pp.factory.BuildPublisher(exchange)
}

type SubscriberProvider struct {
	factory Factory
}

func NewSubscriberProvider(f Factory) *SubscriberProvider {
	return &SubscriberProvider{factory: f}
}

// Build declares queue, binds it to exchange with bindingKey and returns the
// subscriber consuming it. Instances sharing a queue compete for messages.
func (sp *SubscriberProvider) Build(queue, exchange, bindingKey string) (message.Subscriber, error) {
	return sp.factory.BuildSubscriber(queue, exchange, bindingKey)
}
