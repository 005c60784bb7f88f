package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestBusSubscribeKind(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	heals, damages := 0, 0
	healHandle := bus.SubscribeKind(KindHeal, func(Event) { heals++ })
	bus.SubscribeKind(KindDamage, func(Event) { damages++ })

	bus.Publish(Pulse(KindHeal, "u1", "potion", "hp", 10))
	bus.Publish(Pulse(KindDamage, "u1", "trap", "hp", -5))
	assert.Equal(t, 1, heals)
	assert.Equal(t, 1, damages)

	bus.Unsubscribe(healHandle)
	bus.Publish(Pulse(KindHeal, "u1", "potion", "hp", 10))
	assert.Equal(t, 1, heals, "unsubscribed listener must not fire")
}

func TestBusSubscribeAllKeepsOrder(t *testing.T) {
	bus := NewBus(nil)

	var seen []Kind
	bus.Subscribe(func(e Event) { seen = append(seen, e.Kind) })

	bus.PublishAll([]Event{
		New(KindCardSaved, "u1", "a"),
		Pulse(KindReward, "u1", "a", "gold", 5),
		New(KindPlayerState, "u1", ""),
	})
	assert.Equal(t, []Kind{KindCardSaved, KindReward, KindPlayerState}, seen)
}

func TestBusSurvivesPanickingListener(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))

	delivered := false
	bus.SubscribeKind(KindDamage, func(Event) { panic("speaker unplugged") })
	bus.SubscribeKind(KindDamage, func(Event) { delivered = true })

	assert.NotPanics(t, func() {
		bus.Publish(Pulse(KindDamage, "u1", "trap", "hp", -10))
	})
	assert.True(t, delivered)
}

func TestBusListenerMaySubscribeDuringPublish(t *testing.T) {
	bus := NewBus(nil)
	late := 0
	bus.Subscribe(func(Event) {
		bus.SubscribeKind(KindDrain, func(Event) { late++ })
	})

	assert.NotPanics(t, func() { bus.Publish(New(KindDrain, "u1", "")) })
	assert.Equal(t, 0, late, "listener added mid-publish must wait for the next event")

	bus.Publish(New(KindDrain, "u1", ""))
	assert.Equal(t, 1, late)
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(New(KindHeal, "u", "c")) })
}

func TestKindIsPulse(t *testing.T) {
	assert.True(t, KindHeal.IsPulse())
	assert.True(t, KindSpend.IsPulse())
	assert.False(t, KindCardDeleted.IsPulse())
	assert.False(t, KindPlayerState.IsPulse())
}
