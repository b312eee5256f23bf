package labplot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

type testWeb struct {
	url      string
	surface  *WebSurface
	metrics  *Metrics
	registry *prometheus.Registry
}

func startTestServer(t *testing.T, cfg Config) *testWeb {
	t.Helper()

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	surface := NewWebSurface(NewFrameBroadcaster(metrics))

	// Use NewHttpServer to ensure the same handler registration as
	// production code, without binding to a fixed port.
	s := NewHttpServer(surface.Broadcaster(), "127.0.0.1", 0, cfg.Metadata(), registry)
	srv := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		surface.Close()
		srv.Close()
	})

	return &testWeb{
		url:      srv.URL,
		surface:  surface,
		metrics:  metrics,
		registry: registry,
	}
}

// dialWebSocket opens a websocket connection to the /ws endpoint for tests.
func dialWebSocket(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()

	u, err := url.Parse(baseURL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, u.String(), nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close(websocket.StatusNormalClosure, "")
	})

	return c
}

// readWSMessage reads and decodes the next binary message with a timeout.
func readWSMessage(c *websocket.Conn, timeout time.Duration) (WSMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	typ, data, err := c.Read(ctx)
	if err != nil {
		return WSMessage{}, err
	}
	if typ != websocket.MessageBinary {
		return WSMessage{}, fmt.Errorf("unexpected message type %v", typ)
	}

	return DecodeWSMessage(data)
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func presentTestFrame(t *testing.T, s Surface, n int) {
	t.Helper()
	s.Clear()
	s.DrawLine([]Point{{X: float64(n), Y: 0.5}})
	s.SetAxisBounds(AxisBounds{XMaxOpen: true, YMin: -1, YMax: 1})
	s.SetTickLabelRotation(45)
	require.NoError(t, s.Present(context.Background()))
}

func TestHTTPServer_Metadata(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Title = "ADC A5"
	web := startTestServer(t, cfg)

	resp, err := http.Get(web.url + "/metadata")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var m Metadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	assert.Equal(t, cfg.Metadata(), m)
}

func TestHTTPServer_Metrics(t *testing.T) {
	web := startTestServer(t, DefaultConfig())
	web.metrics.Ticks.Add(3)

	resp, err := http.Get(web.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "labplot_ticks_total 3")
	assert.Contains(t, string(body), "labplot_viewers 0")
}

func TestHTTPServer_WebSocket(t *testing.T) {
	t.Run("MetadataThenFrames", func(t *testing.T) {
		cfg := DefaultConfig()
		web := startTestServer(t, cfg)
		c := dialWebSocket(t, web.url)

		msg, err := readWSMessage(c, time.Second)
		require.NoError(t, err)
		require.Equal(t, MessageTypeMetadata, msg.Header.Type)
		assert.Equal(t, cfg.Metadata(), msg.Payload)

		waitFor(t, func() bool { return web.surface.Broadcaster().NumViewers() == 1 })

		for n := 0; n < 3; n++ {
			presentTestFrame(t, web.surface, n)
		}

		for n := 0; n < 3; n++ {
			msg, err := readWSMessage(c, time.Second)
			require.NoError(t, err)
			require.Equal(t, MessageTypeFrame, msg.Header.Type)

			frame := msg.Payload.(FrameMessage)
			assert.Equal(t, uint64(n+1), frame.Seq)
			assert.Equal(t, []float64{float64(n)}, frame.X)
			assert.Equal(t, []float64{0.5}, frame.Y)
			assert.True(t, frame.Bounds.XMaxOpen)
			assert.Equal(t, 45.0, frame.Rotation)
		}
	})

	t.Run("LateViewerSeesLatestFrame", func(t *testing.T) {
		web := startTestServer(t, DefaultConfig())
		for n := 0; n < 5; n++ {
			presentTestFrame(t, web.surface, n)
		}

		c := dialWebSocket(t, web.url)

		msg, err := readWSMessage(c, time.Second)
		require.NoError(t, err)
		require.Equal(t, MessageTypeMetadata, msg.Header.Type)

		msg, err = readWSMessage(c, time.Second)
		require.NoError(t, err)
		require.Equal(t, MessageTypeFrame, msg.Header.Type)
		assert.Equal(t, uint64(5), msg.Payload.(FrameMessage).Seq)
	})

	t.Run("SurfaceCloseIsSentToViewers", func(t *testing.T) {
		web := startTestServer(t, DefaultConfig())
		c := dialWebSocket(t, web.url)

		_, err := readWSMessage(c, time.Second)
		require.NoError(t, err)
		waitFor(t, func() bool { return web.surface.Broadcaster().NumViewers() == 1 })

		require.NoError(t, web.surface.Close())

		msg, err := readWSMessage(c, time.Second)
		require.NoError(t, err)
		require.Equal(t, MessageTypeSurfaceClosed, msg.Header.Type)
		assert.False(t, msg.Payload.(SurfaceClosedMessage).Error)

		_, err = readWSMessage(c, time.Second)
		assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	})

	t.Run("LastViewerLeavingClosesSurfaceOnce", func(t *testing.T) {
		web := startTestServer(t, DefaultConfig())

		var closes atomic.Int32
		web.surface.OnClose(func() { closes.Add(1) })

		first := dialWebSocket(t, web.url)
		second := dialWebSocket(t, web.url)
		waitFor(t, func() bool { return web.surface.Broadcaster().NumViewers() == 2 })

		first.Close(websocket.StatusNormalClosure, "")
		waitFor(t, func() bool { return web.surface.Broadcaster().NumViewers() == 1 })
		assert.Equal(t, int32(0), closes.Load())

		second.Close(websocket.StatusNormalClosure, "")
		waitFor(t, func() bool { return closes.Load() == 1 })

		// A viewer coming back and leaving again does not fire it twice.
		third := dialWebSocket(t, web.url)
		waitFor(t, func() bool { return web.surface.Broadcaster().NumViewers() == 1 })
		third.Close(websocket.StatusNormalClosure, "")
		waitFor(t, func() bool { return web.surface.Broadcaster().NumViewers() == 0 })

		require.NoError(t, web.surface.Close())
		assert.Equal(t, int32(1), closes.Load())
	})
}

func TestHTTPServer_Serve(t *testing.T) {
	broadcaster := NewFrameBroadcaster(nil)
	s := NewHttpServer(broadcaster, "127.0.0.1", 0, DefaultConfig().Metadata(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		errCh <- s.Serve(ctx, listener)
	}()

	addr := "http://" + listener.Addr().String()
	waitFor(t, func() bool {
		resp, err := http.Get(addr + "/metadata")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	// No gatherer means no metrics endpoint.
	resp, err := http.Get(addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.True(t, strings.HasPrefix(addr, "http://127.0.0.1:"))
}
