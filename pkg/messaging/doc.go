/*
Package messaging provides a unified abstraction layer for message brokers.

This package defines the core interfaces for producing and consuming messages.
Two adapters ship with this module: RabbitMQ (adapters/rabbitmq) and an
in-process broker (adapters/memory).

# Architecture

The package follows the adapter pattern with decoupled dependencies:
  - Core interfaces are defined here (zero external dependencies)
  - Each adapter lives in its own sub-package (pkg/messaging/adapters/{driver})
  - Users import only the adapter they need, pulling only that SDK

# Usage

	import (
	    "github.com/arrakis-platform/gateway-proxy/pkg/messaging"
	    "github.com/arrakis-platform/gateway-proxy/pkg/messaging/adapters/rabbitmq"
	)

	// Create a RabbitMQ broker
	broker, err := rabbitmq.New(rabbitmq.Config{URL: "amqp://localhost:5672/"})

	// Create a producer
	producer, err := broker.Producer("my-topic")
	defer producer.Close()

	// Publish a message
	err = producer.Publish(ctx, &messaging.Message{
	    ID:      uuid.New().String(),
	    Topic:   "my-topic",
	    Payload: []byte(`{"event": "user.created"}`),
	})
*/
package messaging
