// Package memory implements an in-process gateway.Bus: a publish/subscribe
// bus that matches each published topic against a flat list of
// subscription filters, with MQTT-style wildcard matching (`+` single
// level, `#` multi-level) and retained-message support.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/samsamfire/bmsmaster/pkg/gateway"
)

type subscription struct {
	id      uint64
	filter  string
	handler func(gateway.Message)
}

// Bus is a thread-safe, in-process implementation of gateway.Bus. Useful
// standalone (tests, single-process deployments) and as the backing
// transport a real broker adapter could wrap.
type Bus struct {
	mu       sync.Mutex
	nextID   uint64
	subs     []subscription
	retained map[string]gateway.Message
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{retained: make(map[string]gateway.Message)}
}

// Publish delivers msg synchronously to every matching subscriber. If
// Retained is set, the message is stored and replayed to future
// subscribers whose filter matches its topic, mirroring the retained-flag
// semantics the outbound availability, balancer gauge, and
// safety_disconnect_reason topics rely on.
func (b *Bus) Publish(_ context.Context, msg gateway.Message) error {
	b.mu.Lock()
	if msg.Retained {
		b.retained[msg.Topic] = msg
	}
	matching := make([]func(gateway.Message), 0, len(b.subs))
	for _, s := range b.subs {
		if topicMatches(s.filter, msg.Topic) {
			matching = append(matching, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range matching {
		h(msg)
	}
	return nil
}

// Subscribe registers handler for every topic matching filter, replaying
// any already-retained message whose topic matches before returning.
func (b *Bus) Subscribe(_ context.Context, filter string, handler func(gateway.Message)) (gateway.Unsubscribe, error) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, filter: filter, handler: handler})

	var replay []gateway.Message
	for topic, msg := range b.retained {
		if topicMatches(filter, topic) {
			replay = append(replay, msg)
		}
	}
	b.mu.Unlock()

	for _, msg := range replay {
		handler(msg)
	}

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
	return unsub, nil
}

// topicMatches reports whether topic satisfies filter, supporting the two
// MQTT-style wildcards: `+` matches exactly one level, `#` (only legal as
// the final level) matches zero or more trailing levels.
func topicMatches(filter, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, f := range filterLevels {
		if f == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if f != "+" && f != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
