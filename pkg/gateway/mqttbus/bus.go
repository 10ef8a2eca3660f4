// Package mqttbus adapts github.com/eclipse/paho.mqtt.golang to the
// gateway.Bus interface, so the master can talk to the slave ESP modules
// over a real publish/subscribe transport kept out of the core (the core
// only ever sees gateway.Bus). Wires a client against a broker URL and
// publishes/subscribes plain-text topic/payload pairs the way an
// MQTT-backed battery bridge would.
package mqttbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/samsamfire/bmsmaster/pkg/gateway"
)

// Config carries the broker connection parameters.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string

	ConnectTimeout time.Duration
}

// Bus is a gateway.Bus backed by a single paho MQTT client connection.
type Bus struct {
	client mqtt.Client

	mu   sync.Mutex
	subs []func()
}

// Dial connects to the broker described by cfg and returns a ready Bus.
func Dial(cfg Config) (*Bus, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetCleanSession(true)

	client := mqtt.NewClient(opts)
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqttbus: connecting to %s: timed out after %s", cfg.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqttbus: connecting to %s: %w", cfg.Broker, err)
	}
	return &Bus{client: client}, nil
}

// Publish sends msg, retained per msg.Retained, at QoS 1.
func (b *Bus) Publish(ctx context.Context, msg gateway.Message) error {
	token := b.client.Publish(msg.Topic, 1, msg.Retained, msg.Payload)
	return waitToken(ctx, token)
}

// Subscribe registers handler against topicFilter (which may contain MQTT
// '+'/'#' wildcards) at QoS 1.
func (b *Bus) Subscribe(ctx context.Context, topicFilter string, handler func(gateway.Message)) (gateway.Unsubscribe, error) {
	callback := func(_ mqtt.Client, m mqtt.Message) {
		handler(gateway.Message{
			Topic:    m.Topic(),
			Payload:  m.Payload(),
			Retained: m.Retained(),
		})
	}
	token := b.client.Subscribe(topicFilter, 1, callback)
	if err := waitToken(ctx, token); err != nil {
		return nil, err
	}

	unsub := func() {
		tok := b.client.Unsubscribe(topicFilter)
		tok.Wait()
	}
	b.mu.Lock()
	b.subs = append(b.subs, unsub)
	b.mu.Unlock()
	return unsub, nil
}

// Close unsubscribes everything and disconnects from the broker.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
	b.client.Disconnect(250)
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()
	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
