package bus

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alirezaa02/webvis-oakd-dashboard/event"
	"github.com/Alirezaa02/webvis-oakd-dashboard/pkg/timestamp"
)

func startBus(t *testing.T, cfg Config) (*Bus, *httptest.Server) {
	t.Helper()

	b := NewBus(cfg, Dependencies{})
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start(context.Background()))

	srv := httptest.NewServer(b)
	t.Cleanup(func() {
		srv.Close()
		_ = b.Stop(5 * time.Second)
	})
	return b, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestHelloFrameOnJoin(t *testing.T) {
	_, srv := startBus(t, DefaultConfig())
	conn := dial(t, srv)

	before := timestamp.Now()
	frame := readFrame(t, conn)

	var typ string
	require.NoError(t, json.Unmarshal(frame["type"], &typ))
	assert.Equal(t, "hello", typ)

	var serverTime int64
	require.NoError(t, json.Unmarshal(frame["serverTime"], &serverTime))
	assert.GreaterOrEqual(t, serverTime, before-1000)
	assert.LessOrEqual(t, serverTime, timestamp.Now()+1000)
}

func TestPublishFIFOPerSubscriber(t *testing.T) {
	b, srv := startBus(t, DefaultConfig())
	conn := dial(t, srv)
	readFrame(t, conn) // hello

	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 },
		time.Second, 10*time.Millisecond)

	for i := 1; i <= 5; i++ {
		b.Publish(event.Event{Timestamp: int64(i), Payload: event.Pose{X: float64(i)}})
	}

	for i := 1; i <= 5; i++ {
		frame := readFrame(t, conn)

		var variant event.Variant
		require.NoError(t, json.Unmarshal(frame["variant"], &variant))
		assert.Equal(t, event.VariantPose, variant)

		ev, err := event.Decode(variant, frame["event"])
		require.NoError(t, err)
		assert.Equal(t, int64(i), ev.Timestamp)
	}
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	b, srv := startBus(t, DefaultConfig())

	b.Publish(event.Event{Timestamp: 1, Payload: event.Pose{X: 1}})

	conn := dial(t, srv)
	readFrame(t, conn) // hello

	// Nothing beyond the hello: a frame published before the join is gone.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestBackpressureIsolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 4
	b, srv := startBus(t, cfg)

	connA := dial(t, srv)
	readFrame(t, connA) // hello
	connB := dial(t, srv)
	readFrame(t, connB) // hello

	require.Eventually(t, func() bool { return b.SubscriberCount() == 2 },
		time.Second, 10*time.Millisecond)

	// Stall subscriber A's write pump so its queue saturates.
	var subA *subscriber
	b.subscribersMu.RLock()
	for _, s := range b.subscribers {
		if subA == nil {
			subA = s
		}
	}
	b.subscribersMu.RUnlock()
	require.NotNil(t, subA)

	subA.writeMu.Lock()
	defer subA.writeMu.Unlock()

	// B might be the stalled one; read from whichever connection is not A's.
	healthy := connB
	if subA.conn.RemoteAddr().String() == connB.LocalAddr().String() {
		healthy = connA
	}

	// Publish one frame at a time, confirming the healthy subscriber got it
	// before sending the next. Its queue never holds more than one frame, so
	// every drop below is A's. A's stalled pump absorbs at most one frame
	// before blocking; its queue fills after cfg.QueueSize more, and the
	// remainder is dropped rather than ever blocking Publish.
	total := cfg.QueueSize + 4
	for i := 1; i <= total; i++ {
		b.Publish(event.Event{Timestamp: int64(i), Payload: event.Pose{X: float64(i)}})

		frame := readFrame(t, healthy)
		ev, err := event.Decode(event.VariantPose, frame["event"])
		require.NoError(t, err)
		assert.Equal(t, int64(i), ev.Timestamp)
	}

	assert.Greater(t, subA.queue.Stats().Drops, int64(0))
}

func TestEvictionOnClientClose(t *testing.T) {
	b, srv := startBus(t, DefaultConfig())

	conn := dial(t, srv)
	readFrame(t, conn) // hello
	require.Eventually(t, func() bool { return b.SubscriberCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return b.SubscriberCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestStopClosesSubscribers(t *testing.T) {
	b := NewBus(DefaultConfig(), Dependencies{})
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start(context.Background()))
	srv := httptest.NewServer(b)
	defer srv.Close()

	conn := dial(t, srv)
	readFrame(t, conn) // hello

	require.NoError(t, b.Stop(5*time.Second))
	assert.Equal(t, 0, b.SubscriberCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestStartTwiceFails(t *testing.T) {
	b := NewBus(DefaultConfig(), Dependencies{})
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(time.Second)

	assert.Error(t, b.Start(context.Background()))
}

func TestInitializeRejectsBadTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PingInterval = time.Minute
	cfg.PongTimeout = time.Second

	b := NewBus(cfg, Dependencies{})
	assert.Error(t, b.Initialize())
}
