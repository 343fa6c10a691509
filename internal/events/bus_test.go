package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var first, second []EventType
	bus.Subscribe(func(e Event) { first = append(first, e.EventType()) })
	bus.Subscribe(func(e Event) { second = append(second, e.EventType()) })

	bus.Publish(Connected{Base: Now(), ConnectionID: "c1", UserID: "u1"})
	bus.Publish(Joined{Base: Now(), ConnectionID: "c1", UserID: "u1", ChannelID: "general"})

	expected := []EventType{TypeConnected, TypeJoined}
	assert.Equal(t, expected, first)
	assert.Equal(t, expected, second)
}

func TestBus_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	delivered := 0
	bus.Subscribe(func(e Event) { panic("boom") })
	bus.Subscribe(func(e Event) { delivered++ })

	bus.Publish(Disconnected{Base: Now(), ConnectionID: "c1", UserID: "u1"})
	assert.Equal(t, 1, delivered)
}

func TestEvent_OccurredAt(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	e := TypingStarted{Base: At(at), ChannelID: "general", UserID: "u1"}
	assert.Equal(t, at, e.OccurredAt())
	assert.Equal(t, TypeTypingStarted, e.EventType())
}
