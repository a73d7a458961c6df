package core

import (
	"testing"

	"sigforge/catalog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEventBus_OrderedDelivery(t *testing.T) {
	bus := NewEventBus(nil)
	var calls []string
	bus.Subscribe("first", func(ev Event) { calls = append(calls, "first:"+string(ev.Type)) })
	bus.Subscribe("second", func(ev Event) { calls = append(calls, "second:"+string(ev.Type)) })

	g := NewGraph(catalog.Builtin(), WithEventBus(bus))
	_, err := g.AddNode(catalog.Protocol, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"first:node_added", "second:node_added"}, calls)
}

func TestEventBus_PanicIsolation(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	bus := NewEventBus(zap.New(core).Sugar())

	delivered := 0
	bus.Subscribe("broken", func(Event) { panic("handler failure") })
	bus.Subscribe("healthy", func(Event) { delivered++ })

	assert.NotPanics(t, func() { bus.Publish(Event{Type: EventNodeAdded}) })
	assert.Equal(t, 1, delivered)
	assert.Equal(t, uint64(1), bus.Stats().Panics)
	require.Len(t, logs.All(), 1)
	assert.Equal(t, "broken", logs.All()[0].ContextMap()["subscriber"])
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	count := 0
	unsub := bus.Subscribe("counter", func(Event) { count++ })

	bus.Publish(Event{Type: EventEdgeAdded})
	unsub()
	bus.Publish(Event{Type: EventEdgeAdded})

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, bus.Stats().Subscribers)
}

func TestEventBus_Channel(t *testing.T) {
	bus := NewEventBus(nil)
	ch, closeFn := bus.Channel("ws", 2)

	g := NewGraph(catalog.Builtin(), WithEventBus(bus))
	id, err := g.AddNode(catalog.StringMatch, map[string]any{"string": "x"})
	require.NoError(t, err)
	require.NoError(t, g.SetParameter(id, "string", "y"))
	// buffer is full, this one is dropped rather than blocking the graph
	g.RemoveNode(id)

	first := <-ch
	second := <-ch
	assert.Equal(t, EventNodeAdded, first.Type)
	assert.Equal(t, EventParameterChanged, second.Type)
	assert.Equal(t, "string", second.Key)
	assert.Equal(t, g.ID, second.GraphID)
	assert.Equal(t, uint64(1), bus.Stats().Dropped)

	closeFn()
	closeFn()
	_, open := <-ch
	assert.False(t, open)
	assert.NotPanics(t, func() { bus.Publish(Event{Type: EventNodeAdded}) })
}

func TestEventType_Mutates(t *testing.T) {
	assert.True(t, EventNodeAdded.Mutates())
	assert.True(t, EventOperatorChanged.Mutates())
	assert.False(t, EventNodeMoved.Mutates())
	assert.False(t, EventStatusChanged.Mutates())
}
