package local

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/convsync/plugin/gateway"
)

func TestHub(t *testing.T) {
	t.Run("SequencesEvents", func(t *testing.T) {
		h := NewHub()
		ch, cancel := h.Subscribe()
		defer cancel()

		first := h.Publish(gateway.ModelChangedEvent("a"))
		second := h.Publish(gateway.ModelChangedEvent("b"))

		assert.Equal(t, int64(1), first.Seq)
		assert.Equal(t, int64(2), second.Seq)
		assert.Equal(t, first.Seq, (<-ch).Seq)
		assert.Equal(t, second.Seq, (<-ch).Seq)
	})

	t.Run("DropsSlowSubscriber", func(t *testing.T) {
		h := NewHub()
		slow, _ := h.Subscribe()
		fast, cancelFast := h.Subscribe()
		defer cancelFast()

		for i := 0; i < subscriberBuffer; i++ {
			h.Publish(gateway.ModelChangedEvent(""))
			<-fast
		}
		h.Publish(gateway.ModelChangedEvent(""))
		<-fast

		assert.Equal(t, 1, h.Subscribers())
		drained := 0
		for range slow {
			drained++
		}
		assert.Equal(t, subscriberBuffer, drained)
	})

	t.Run("CancelIsIdempotent", func(t *testing.T) {
		h := NewHub()
		ch, cancel := h.Subscribe()
		cancel()
		cancel()
		_, ok := <-ch
		require.False(t, ok)
		assert.Equal(t, 0, h.Subscribers())
	})

	t.Run("CloseDropsAll", func(t *testing.T) {
		h := NewHub()
		a, _ := h.Subscribe()
		b, _ := h.Subscribe()
		h.Close()

		_, okA := <-a
		_, okB := <-b
		assert.False(t, okA)
		assert.False(t, okB)
	})
}
