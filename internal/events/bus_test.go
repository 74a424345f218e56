package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_DeliversToSubscribedTypesOnly(t *testing.T) {
	bus := NewBus()
	var got []Type
	bus.On(func(e Event) { got = append(got, e.Type) }, FragLoading, FragBuffered)

	bus.Emit(Event{Type: FragLoading})
	bus.Emit(Event{Type: LevelLoaded})
	bus.Emit(Event{Type: FragBuffered})

	assert.Equal(t, []Type{FragLoading, FragBuffered}, got)
}

func TestBus_SubscriptionOrderPreserved(t *testing.T) {
	bus := NewBus()
	var order []int
	bus.On(func(Event) { order = append(order, 1) }, BufferAppending)
	bus.On(func(Event) { order = append(order, 2) }, BufferAppending)

	bus.Emit(Event{Type: BufferAppending})
	assert.Equal(t, []int{1, 2}, order)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "LEVEL_LOADED", LevelLoaded.String())
	assert.Equal(t, "BUFFER_EOS", BufferEOS.String())
	assert.Equal(t, "UNKNOWN", Type(9999).String())
}
