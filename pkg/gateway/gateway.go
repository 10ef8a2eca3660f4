// Package gateway defines the narrow interface to the external slave
// transport: a publish/subscribe message bus with hierarchical string
// topics and byte payloads. The bus implementation itself (broker wiring,
// reconnection, credentials) is deliberately out of scope; only the
// interface and the topic-level encode/decode logic live here; the concrete
// adapters are the subpackages memory (in-process) and mqttbus (MQTT
// broker).
package gateway

import "context"

// Message is one bus message, inbound or outbound.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Unsubscribe cancels a prior Subscribe.
type Unsubscribe func()

// Bus is the narrow transport interface the core depends on. A concrete
// adapter (MQTT, in-process, ...) implements it; the core never knows
// which.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, topicFilter string, handler func(Message)) (Unsubscribe, error)
}
