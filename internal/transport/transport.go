// Package transport connects the fusion pipeline to a watermill pub/sub:
// the in-process gochannel for local runs and tests, or NATS Core.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	nc "github.com/nats-io/nats.go"
)

// Backends.
const (
	BackendChannel = "channel"
	BackendNATS    = "nats"
)

// ContentType is set on every published message.
const ContentType = "application/cbor"

// Transport combines a publisher and subscriber pair.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes both halves. A shared gochannel is closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil && any(t.Subscriber) != any(t.Publisher) {
		errs = append(errs, t.Subscriber.Close())
	}
	return errors.Join(errs...)
}

// Config provides the values the backends need.
type Config interface {
	GetTransport() string
	GetNATSURL() string
}

// ChannelConfig is the in-process backend configuration. Publish waits for
// the subscriber's ack so each topic is delivered in publish order.
func ChannelConfig() gochannel.Config {
	return gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}
}

// ChannelFactory allows overriding the channel creation for testing.
var ChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

// NATSPublisherFactory allows overriding the publisher creation for testing.
var NATSPublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// NATSSubscriberFactory allows overriding the subscriber creation for testing.
var NATSSubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Build creates the transport selected by cfg.
func Build(_ context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if logger == nil {
		logger = NewLogger()
	}
	switch cfg.GetTransport() {
	case "", BackendChannel:
		pub, sub := ChannelFactory(ChannelConfig(), logger)
		return Transport{Publisher: pub, Subscriber: sub}, nil
	case BackendNATS:
		return buildNATS(cfg.GetNATSURL(), logger)
	}
	return Transport{}, fmt.Errorf("transport: unknown backend %q", cfg.GetTransport())
}

// natsOptions keep the connection alive across broker restarts.
func natsOptions() []nc.Option {
	return []nc.Option{
		nc.Name("fusion-bridge"),
		nc.MaxReconnects(-1),
		nc.ReconnectWait(time.Second),
	}
}

func buildNATS(url string, logger watermill.LoggerAdapter) (Transport, error) {
	marshaler := &nats.NATSMarshaler{}
	// Core NATS only: sensor streams are fire-and-forget.
	jetStream := nats.JetStreamConfig{Disabled: true}

	publisher, err := NATSPublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: natsOptions(),
			Marshaler:   marshaler,
			JetStream:   jetStream,
		},
		logger,
	)
	if err != nil {
		return Transport{}, err
	}

	subscriber, err := NATSSubscriberFactory(
		nats.SubscriberConfig{
			URL:         url,
			NatsOptions: natsOptions(),
			Unmarshaler: marshaler,
			JetStream:   jetStream,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return Transport{}, err
	}

	return Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

// Topic names relative to the namespace.
const (
	TopicTF             = "tf"
	TopicTFStatic       = "tf_static"
	TopicCommands       = "commands"
	TopicConsumerStatus = "consumer/status"

	TopicFusedOdometry   = "fused/odometry"
	TopicFusedStatistics = "fused/statistics"
	TopicFusedMap        = "fused/map"
	TopicFusedMapError   = "fused/map_error"
)

// Namespaced joins namespace and topic with a slash.
func Namespaced(namespace, topic string) string {
	namespace = strings.Trim(namespace, "/")
	if namespace == "" {
		return topic
	}
	return namespace + "/" + topic
}
