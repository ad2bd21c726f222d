// Package sse streams pipeline progress to browsers and monitors over Server-Sent Events.
package sse

import (
	"context"
	"time"
)

// Event is one Server-Sent Event: "event: <Type>\ndata: <JSON>\n\n".
type Event struct {
	Type string `json:"type"`
	// Data must be JSON-serializable.
	Data any `json:"data"`
	// Topic scopes the event (for example a run id) so subscribers can filter on it.
	Topic string `json:"topic,omitempty"`
	ID    string `json:"id,omitempty"`
}

// Publisher sends events to the broker.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Broker fans events out to subscribed clients.
type Broker interface {
	Publisher
	// Subscribe returns a channel of events and a cleanup func. A closed channel means the
	// subscription was rejected.
	Subscribe(ctx context.Context, opts ...ClientOption) (<-chan Event, func())
	Start(ctx context.Context) error
	Stop() error
	ClientCount() int
	HeartbeatInterval() time.Duration
}

// EventFilter returns true for events a client wants.
type EventFilter func(event Event) bool

// Default configuration values.
const (
	DefaultEventBufferSize   = 1000
	DefaultClientBufferSize  = 100
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultMaxClients        = 500
)

// Config holds broker configuration.
type Config struct {
	EventBufferSize   int           `mapstructure:"event_buffer_size"`
	ClientBufferSize  int           `mapstructure:"client_buffer_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxClients        int           `mapstructure:"max_clients"`
}

// BrokerOption configures a broker.
type BrokerOption func(*broker)

// WithConfig applies non-zero Config values to the broker.
func WithConfig(cfg Config) BrokerOption {
	return func(b *broker) {
		if cfg.EventBufferSize > 0 {
			b.eventBufferSize = cfg.EventBufferSize
		}
		if cfg.ClientBufferSize > 0 {
			b.clientBufferSize = cfg.ClientBufferSize
		}
		if cfg.HeartbeatInterval > 0 {
			b.heartbeatInterval = cfg.HeartbeatInterval
		}
		if cfg.MaxClients > 0 {
			b.maxClients = cfg.MaxClients
		}
	}
}

// ClientOptions configures a single subscription.
type ClientOptions struct {
	Filter     EventFilter
	BufferSize int
}

// ClientOption configures a subscription.
type ClientOption func(*ClientOptions)

// WithFilter sets an arbitrary filter.
func WithFilter(filter EventFilter) ClientOption {
	return func(opts *ClientOptions) {
		opts.Filter = filter
	}
}

// WithTopic only passes events published for the given topic.
func WithTopic(topic string) ClientOption {
	return WithFilter(func(event Event) bool {
		return event.Topic == topic
	})
}
