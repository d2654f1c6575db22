package broadcast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotes_Broadcast_Hub(t *testing.T) {
	t.Parallel()

	t.Run("delivers in registration order", func(t *testing.T) {
		t.Parallel()

		h := NewHub[int]()
		var got []string
		h.Subscribe(func(v int) { got = append(got, "a") })
		h.Subscribe(func(v int) { got = append(got, "b") })

		h.Publish(1)
		require.Equal(t, []string{"a", "b"}, got)
	})

	t.Run("unsubscribe stops delivery and is idempotent", func(t *testing.T) {
		t.Parallel()

		h := NewHub[string]()
		calls := 0
		unsub := h.Subscribe(func(string) { calls++ })

		h.Publish("x")
		unsub()
		unsub()
		h.Publish("y")

		require.Equal(t, 1, calls)
		require.Equal(t, 0, h.Len())
	})

	t.Run("listener may unsubscribe itself", func(t *testing.T) {
		t.Parallel()

		h := NewHub[int]()
		calls := 0
		var unsub func()
		unsub = h.Subscribe(func(int) {
			calls++
			unsub()
		})

		h.Publish(1)
		h.Publish(2)
		require.Equal(t, 1, calls)
	})
}
