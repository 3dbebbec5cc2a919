// Package mq abstracts the message broker used for account event
// publication. This service only emits events; consumption belongs to
// downstream systems.
package mq

import "context"

// Publisher defines the broker-agnostic publish operation.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// NopPublisher discards every message. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return "", nil
}

func (NopPublisher) Close() error {
	return nil
}
