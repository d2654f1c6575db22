package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotes_Logger_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 5, 7, 8, 9, 123_456_789, time.FixedZone("X", 3600))
	require.Equal(t, "2024-03-05T06:08:09.123Z", formatRFC3339Millis(ts))
}

func TestNotes_Logger_NewWithWriter(t *testing.T) {
	t.Parallel()

	t.Run("drops empty string attributes", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := NewWithWriter(&buf, false, true)
		log.Info("session: cluster switched", "cluster", "devnet", "address", "")

		out := buf.String()
		require.Contains(t, out, "session: cluster switched")
		require.Contains(t, out, "cluster=devnet")
		require.NotContains(t, out, "address=")
	})

	t.Run("debug only when verbose", func(t *testing.T) {
		t.Parallel()

		var quiet, loud bytes.Buffer
		NewWithWriter(&quiet, false, true).Debug("hidden")
		NewWithWriter(&loud, true, true).Debug("shown")

		require.Empty(t, quiet.String())
		require.Contains(t, loud.String(), "shown")
	})
}
