// Package pubsub publishes change notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// EventAttribute carries the notification type on every message.
const EventAttribute = "event"

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// Publisher sends JSON payloads to Pub/Sub topics, one handle per topic name.
type Publisher struct {
	event string
	open  func(topic string) (publishFunc, func())

	mu     sync.Mutex
	topics map[string]publishFunc
	stops  []func()
	close  func() error
}

// New creates a Publisher on an existing client. event is attached to every
// message as the "event" attribute.
func New(client *pubsub.Client, event string) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	p := newPublisher(event, func(name string) (publishFunc, func()) {
		t := client.Topic(name)
		return func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return t.Publish(ctx, msg).Get(ctx)
		}, t.Stop
	})
	return p, nil
}

// NewForProject dials Pub/Sub for projectID. Close releases the client.
func NewForProject(ctx context.Context, projectID, event string) (*Publisher, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	p, err := New(client, event)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	p.close = client.Close
	return p, nil
}

func newPublisher(event string, open func(topic string) (publishFunc, func())) *Publisher {
	return &Publisher{
		event:  event,
		open:   open,
		topics: make(map[string]publishFunc),
	}
}

// Publish marshals the payload to JSON, publishes it, and waits for the server ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data}
	if p.event != "" {
		msg.Attributes = map[string]string{EventAttribute: p.event}
	}
	id, err := p.topic(topic)(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) publishFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fn, ok := p.topics[name]; ok {
		return fn
	}
	fn, stop := p.open(name)
	p.topics[name] = fn
	if stop != nil {
		p.stops = append(p.stops, stop)
	}
	return fn
}

// Close flushes pending messages on every opened topic and closes the client
// when the publisher owns it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	stops := p.stops
	p.stops = nil
	p.topics = make(map[string]publishFunc)
	p.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	if p.close != nil {
		if err := p.close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
