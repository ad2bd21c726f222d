package sse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
)

type broker struct {
	log     logger.Logger
	mu      sync.RWMutex
	clients map[int64]*client
	nextID  atomic.Int64
	publish chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	eventBufferSize   int
	clientBufferSize  int
	heartbeatInterval time.Duration
	maxClients        int
}

// NewBroker creates a broker. Start must be called before events are delivered.
func NewBroker(log logger.Logger, opts ...BrokerOption) Broker {
	b := &broker{
		log:               log,
		clients:           make(map[int64]*client),
		eventBufferSize:   DefaultEventBufferSize,
		clientBufferSize:  DefaultClientBufferSize,
		heartbeatInterval: DefaultHeartbeatInterval,
		maxClients:        DefaultMaxClients,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.publish = make(chan Event, b.eventBufferSize)
	return b
}

func (b *broker) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.loop()

	b.log.Info("SSE broker started",
		logger.Int("event_buffer_size", b.eventBufferSize),
		logger.Int("max_clients", b.maxClients),
	)
	return nil
}

func (b *broker) Stop() error {
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(DefaultShutdownTimeout):
		b.log.Warn("SSE broker shutdown timeout exceeded")
	}
	return nil
}

// Publish never blocks; a full buffer drops the event.
func (b *broker) Publish(ctx context.Context, event Event) error {
	select {
	case b.publish <- event:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	default:
		return fmt.Errorf("publish buffer full (dropped event: %s)", event.Type)
	}
}

func (b *broker) Subscribe(ctx context.Context, opts ...ClientOption) (<-chan Event, func()) {
	clientOpts := ClientOptions{BufferSize: b.clientBufferSize}
	for _, opt := range opts {
		opt(&clientOpts)
	}

	b.mu.Lock()
	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		b.mu.Unlock()
		b.log.Warn("Max SSE clients reached, rejecting connection", logger.Int("max_clients", b.maxClients))
		closed := make(chan Event)
		close(closed)
		return closed, func() {}
	}
	c := newClient(ctx, b.nextID.Add(1), clientOpts)
	b.clients[c.id] = c
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-c.ctx.Done()
		b.remove(c.id)
	}()

	return c.events, func() { b.remove(c.id) }
}

func (b *broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *broker) HeartbeatInterval() time.Duration {
	return b.heartbeatInterval
}

func (b *broker) loop() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.publish:
			b.broadcast(event)
		case <-b.ctx.Done():
			b.disconnectAll()
			return
		}
	}
}

func (b *broker) broadcast(event Event) {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !c.send(event) {
			b.log.Warn("SSE client buffer full, closing slow connection",
				logger.Int64("client_id", c.id),
				logger.String("event_type", event.Type),
			)
			b.remove(c.id)
		}
	}
}

func (b *broker) remove(id int64) {
	b.mu.Lock()
	c, ok := b.clients[id]
	delete(b.clients, id)
	b.mu.Unlock()

	if ok {
		c.close()
	}
}

func (b *broker) disconnectAll() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[int64]*client)
	b.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

type client struct {
	id     int64
	events chan Event
	filter EventFilter
	ctx    context.Context
	cancel context.CancelFunc

	closeMu sync.Mutex
	closed  bool
}

func newClient(ctx context.Context, id int64, opts ClientOptions) *client {
	clientCtx, cancel := context.WithCancel(ctx)
	return &client{
		id:     id,
		events: make(chan Event, opts.BufferSize),
		filter: opts.Filter,
		ctx:    clientCtx,
		cancel: cancel,
	}
}

// send returns false when the client's buffer is full.
func (c *client) send(event Event) bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return true
	}
	if c.filter != nil && !c.filter(event) {
		return true
	}

	select {
	case c.events <- event:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	close(c.events)
}
