package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samsamfire/bmsmaster/pkg/gateway"
)

func TestPublishSubscribeExactTopic(t *testing.T) {
	b := New()
	ctx := context.Background()

	var got gateway.Message
	_, err := b.Subscribe(ctx, "esp-module/1/uptime", func(m gateway.Message) { got = m })
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, gateway.Message{Topic: "esp-module/1/uptime", Payload: []byte("1000")}))
	require.Equal(t, "1000", string(got.Payload))
}

func TestSinglePlusWildcard(t *testing.T) {
	b := New()
	ctx := context.Background()

	var topics []string
	_, err := b.Subscribe(ctx, "esp-module/+/uptime", func(m gateway.Message) { topics = append(topics, m.Topic) })
	require.NoError(t, err)

	b.Publish(ctx, gateway.Message{Topic: "esp-module/1/uptime", Payload: []byte("1")})
	b.Publish(ctx, gateway.Message{Topic: "esp-module/2/uptime", Payload: []byte("2")})
	b.Publish(ctx, gateway.Message{Topic: "esp-module/1/module_voltage", Payload: []byte("3.7")})

	require.Equal(t, []string{"esp-module/1/uptime", "esp-module/2/uptime"}, topics)
}

func TestMultiHashWildcard(t *testing.T) {
	b := New()
	ctx := context.Background()

	var count int
	_, err := b.Subscribe(ctx, "esp-module/#", func(gateway.Message) { count++ })
	require.NoError(t, err)

	b.Publish(ctx, gateway.Message{Topic: "esp-module/1/uptime", Payload: []byte("1")})
	b.Publish(ctx, gateway.Message{Topic: "esp-module/1/cell/3/voltage", Payload: []byte("3.7")})
	b.Publish(ctx, gateway.Message{Topic: "esp-total/total_voltage", Payload: []byte("100")})

	require.Equal(t, 2, count)
}

func TestRetainedMessageReplayedToLateSubscriber(t *testing.T) {
	b := New()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, gateway.Message{
		Topic: "master/core/available", Payload: []byte("online"), Retained: true,
	}))

	var got gateway.Message
	_, err := b.Subscribe(ctx, "master/core/available", func(m gateway.Message) { got = m })
	require.NoError(t, err)

	require.Equal(t, "online", string(got.Payload))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ctx := context.Background()

	var count int
	unsub, err := b.Subscribe(ctx, "master/uptime", func(gateway.Message) { count++ })
	require.NoError(t, err)

	b.Publish(ctx, gateway.Message{Topic: "master/uptime", Payload: []byte("1")})
	unsub()
	b.Publish(ctx, gateway.Message{Topic: "master/uptime", Payload: []byte("2")})

	require.Equal(t, 1, count)
}
