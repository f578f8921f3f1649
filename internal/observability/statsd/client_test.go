package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// udpSink is a local UDP listener that captures emitted metric lines.
type udpSink struct {
	conn  *net.UDPConn
	lines chan string
}

func newUDPSink(t *testing.T) *udpSink {
	t.Helper()

	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	sink := &udpSink{conn: conn, lines: make(chan string, 16)}
	go func() {
		buf := make([]byte, 1024)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			sink.lines <- string(buf[:n])
		}
	}()
	return sink
}

func (s *udpSink) addr() string {
	return s.conn.LocalAddr().String()
}

func (s *udpSink) next(t *testing.T) string {
	t.Helper()
	select {
	case line := <-s.lines:
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("no metric line received")
		return ""
	}
}

func TestClient_Emit(t *testing.T) {
	sink := newUDPSink(t)
	client, err := NewClient(Config{
		Enabled: true,
		Address: sink.addr(),
		Prefix:  "lumiscan",
		GlobalTags: map[string]string{
			"env": "test",
		},
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	require.True(t, client.Enabled())

	t.Run("counter carries prefix and merged tags", func(t *testing.T) {
		client.Count("job.transition", 1, map[string]string{"result": "success"})
		assert.Equal(t, "lumiscan.job.transition:1|c|#env:test,result:success", sink.next(t))
	})

	t.Run("gauge formats the value", func(t *testing.T) {
		client.Gauge("match.results", 7, nil)
		assert.Equal(t, "lumiscan.match.results:7|g|#env:test", sink.next(t))
	})

	t.Run("timing converts to milliseconds", func(t *testing.T) {
		client.Timing("sweeper.sweep_duration", 1500*time.Millisecond, nil)
		assert.Equal(t, "lumiscan.sweeper.sweep_duration:1500|ms|#env:test", sink.next(t))
	})

	t.Run("metric names are normalized", func(t *testing.T) {
		client.Count("bad name/with junk", 1, nil)
		assert.Equal(t, "lumiscan.bad_name_with_junk:1|c|#env:test", sink.next(t))
	})
}

func TestClient_Disabled(t *testing.T) {
	t.Run("disabled config produces an inert client", func(t *testing.T) {
		client, err := NewClient(Config{Enabled: false, Address: "127.0.0.1:8125"})
		require.NoError(t, err)
		assert.False(t, client.Enabled())

		// Emitting through a disabled client is a no-op, not a panic.
		client.Count("noop", 1, nil)
		require.NoError(t, client.Close())
	})

	t.Run("empty address disables even when enabled", func(t *testing.T) {
		client, err := NewClient(Config{Enabled: true})
		require.NoError(t, err)
		assert.False(t, client.Enabled())
	})

	t.Run("nil client methods are safe", func(t *testing.T) {
		var client *Client
		assert.False(t, client.Enabled())
		client.Count("noop", 1, nil)
		client.Gauge("noop", 1, nil)
		client.Timing("noop", time.Second, nil)
		require.NoError(t, client.Close())
	})
}
